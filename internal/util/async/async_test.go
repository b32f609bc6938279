package async

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunParallel_Success(t *testing.T) {
	t.Parallel()
	var count atomic.Int32

	tasks := make([]Task, 3)
	for i := range tasks {
		tasks[i] = Task{Name: "task", Func: func(_ context.Context) error {
			count.Add(1)
			return nil
		}}
	}

	if err := RunParallel(context.Background(), tasks, 0); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if count.Load() != 3 {
		t.Errorf("expected 3 tasks to run, got %d", count.Load())
	}
}

func TestRunParallel_EmptyTasks(t *testing.T) {
	t.Parallel()
	if err := RunParallel(context.Background(), nil, 2); err != nil {
		t.Errorf("expected nil for empty tasks, got: %v", err)
	}
}

func TestRunParallel_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	errA := errors.New("a broke")
	errC := errors.New("c broke")
	var ran atomic.Int32

	tasks := []Task{
		{Name: "a", Func: func(_ context.Context) error { ran.Add(1); return errA }},
		{Name: "b", Func: func(_ context.Context) error { ran.Add(1); return nil }},
		{Name: "c", Func: func(_ context.Context) error { ran.Add(1); return errC }},
	}

	err := RunParallel(context.Background(), tasks, 0)
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("expected both errors, got: %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("expected every task to run, got %d", ran.Load())
	}
	msg := err.Error()
	if strings.Index(msg, "a: a broke") > strings.Index(msg, "c: c broke") {
		t.Errorf("errors not in task order: %q", msg)
	}
}

func TestRunParallel_Limit(t *testing.T) {
	t.Parallel()
	var running, peak atomic.Int32

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Name: "t", Func: func(_ context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}}
	}

	if err := RunParallel(context.Background(), tasks, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}
