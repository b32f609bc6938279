// Package async provides utilities for parallel task execution.
//
// [RunParallel] executes named tasks concurrently, optionally bounded, and
// waits for all of them. Every failure is reported, in task order, so a
// single slow or broken task never hides the state of the others.
package async

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes tasks concurrently with at most limit running at once
// (limit <= 0 means unbounded) and waits for all of them to finish.
// Failures are joined in task order, each prefixed with the task name.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "web-1", Func: gate.ensure("web-1")},
//	    {Name: "web-2", Func: gate.ensure("web-2")},
//	}
//	if err := RunParallel(ctx, tasks, 0); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task, limit int) error {
	if len(tasks) == 0 {
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	errs := make([]error, len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			if err := task.Func(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", task.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
