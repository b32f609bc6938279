// Package pipeline runs a pipeline's stage graph.
//
// The [Orchestrator] admits at most one run per pipeline at a time, in
// process and, through a [Store], across processes. Each run is driven by a
// single scheduling loop that owns the run's status table: stage goroutines
// report back over channels and only the loop changes stage state, persists
// it and emits the matching events.
//
// Stages run once their dependencies succeeded, at most Parallelism at a
// time. A failure skips everything still pending and lets running stages
// finish; [Orchestrator.Abort] cancels them as well. [Orchestrator.Cancel]
// skips pending stages and cancels running ones.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/runstore"
)

var (
	// ErrRunInProgress is returned when a pipeline with trigger policy
	// reject already has a run in progress.
	ErrRunInProgress = errors.New("a run of this pipeline is already in progress")

	// ErrRunNotFound is returned for run ids this orchestrator does not drive.
	ErrRunNotFound = errors.New("run not found")

	errCancelRequested = errors.New("run cancelled")
	errAborted         = errors.New("run aborted")
)

// Store persists runs and arbitrates single-flight across processes.
type Store interface {
	Save(ctx context.Context, rec *runstore.Record) error
	Acquire(ctx context.Context, pipelineID, runID string) error
	Release(ctx context.Context, pipelineID, runID string) error
	// Heartbeat keeps runID's lock from being taken over as stale.
	Heartbeat(ctx context.Context, pipelineID, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
	ClearCancel(ctx context.Context, runID string) error
	NextBuildNumber(ctx context.Context, pipelineID string) (int, error)
}

// Orchestrator starts and supervises runs.
type Orchestrator struct {
	runner   Runner
	store    Store
	observer observe.Observer
	timeouts *config.Timeouts
	newID    func() string

	mu     sync.Mutex
	slots  map[string]chan struct{}
	active map[string]*execution
	builds map[string]int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists runs and enables cross-process single-flight.
func WithStore(s Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithObserver receives run and stage events.
func WithObserver(obs observe.Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observe.OrDiscard(obs)
	}
}

// WithTimeouts overrides the operational timeouts.
func WithTimeouts(t *config.Timeouts) Option {
	return func(o *Orchestrator) {
		o.timeouts = t
	}
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// New creates an Orchestrator that delegates stage work to runner.
func New(runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:   runner,
		observer: observe.Discard,
		timeouts: config.LoadTimeouts(),
		newID:    uuid.NewString,
		slots:    make(map[string]chan struct{}),
		active:   make(map[string]*execution),
		builds:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Trigger starts a run and waits for it to finish. The returned error is
// about admission only; a failed run is reported through its status.
func (o *Orchestrator) Trigger(ctx context.Context, p *config.Pipeline) (*runstore.Record, error) {
	run, err := o.Start(ctx, p)
	if err != nil {
		return nil, err
	}
	<-run.Done()
	return run.Snapshot(), nil
}

// Start admits a run of p and executes it in the background. The run is
// cancelled when ctx ends.
//
// With trigger policy reject, Start fails with ErrRunInProgress while
// another run of the pipeline is active. With policy queue it blocks until
// the pipeline is free or ctx ends.
func (o *Orchestrator) Start(ctx context.Context, p *config.Pipeline) (*Run, error) {
	if err := p.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidDefinition, "start run", err)
	}
	order, err := p.TopologicalOrder()
	if err != nil {
		return nil, failure.New(failure.KindInvalidDefinition, "start run", err)
	}

	release, err := o.admit(ctx, p)
	if err != nil {
		return nil, err
	}

	runID := o.newID()
	if o.store != nil {
		if err := o.lock(ctx, p, runID); err != nil {
			release()
			return nil, err
		}
		inner := release
		release = func() {
			if err := o.store.Release(context.WithoutCancel(ctx), p.ID, runID); err != nil {
				logr.FromContextOrDiscard(ctx).Error(err, "failed to release pipeline lock", "pipeline", p.ID, "run", runID)
			}
			inner()
		}
	}

	build, err := o.nextBuild(ctx, p.ID)
	if err != nil {
		release()
		return nil, err
	}

	run := newRun(runID, p, build, time.Now())
	e := newExecution(ctx, o, p, run, order)

	o.mu.Lock()
	o.active[runID] = e
	o.mu.Unlock()

	go func() {
		defer close(run.done)
		defer release()
		defer func() {
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
		}()
		e.execute()
	}()
	return run, nil
}

// admit takes the in-process slot of p.
func (o *Orchestrator) admit(ctx context.Context, p *config.Pipeline) (func(), error) {
	o.mu.Lock()
	slot, ok := o.slots[p.ID]
	if !ok {
		slot = make(chan struct{}, 1)
		o.slots[p.ID] = slot
	}
	o.mu.Unlock()
	release := func() { <-slot }

	select {
	case slot <- struct{}{}:
		return release, nil
	default:
	}
	if p.TriggerPolicy != config.TriggerQueue {
		return nil, fmt.Errorf("pipeline %s: %w", p.ID, ErrRunInProgress)
	}

	o.observer.Event(observe.Event{
		Type:    observe.EventRunQueued,
		Message: "waiting for the active run of " + p.ID,
	})
	select {
	case slot <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, failure.New(failure.KindCancelled, "queue run of "+p.ID, ctx.Err())
	}
}

// lock takes the store's pipeline lock, polling while queued.
func (o *Orchestrator) lock(ctx context.Context, p *config.Pipeline, runID string) error {
	queued := false
	for {
		err := o.store.Acquire(ctx, p.ID, runID)
		if err == nil {
			return nil
		}
		var locked *runstore.LockedError
		if !errors.As(err, &locked) {
			return fmt.Errorf("failed to lock pipeline %s: %w", p.ID, err)
		}
		if p.TriggerPolicy != config.TriggerQueue {
			return fmt.Errorf("pipeline %s: %w (run %s)", p.ID, ErrRunInProgress, locked.Holder)
		}
		if !queued {
			queued = true
			o.observer.Event(observe.Event{
				Type:    observe.EventRunQueued,
				Message: "waiting for run " + locked.Holder + " of " + p.ID,
			})
		}
		select {
		case <-ctx.Done():
			return failure.New(failure.KindCancelled, "queue run of "+p.ID, ctx.Err())
		case <-time.After(o.timeouts.QueuePoll):
		}
	}
}

func (o *Orchestrator) nextBuild(ctx context.Context, pipelineID string) (int, error) {
	if o.store != nil {
		n, err := o.store.NextBuildNumber(ctx, pipelineID)
		if err != nil {
			return 0, fmt.Errorf("failed to allocate build number: %w", err)
		}
		return n, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.builds[pipelineID]++
	return o.builds[pipelineID], nil
}

// Get returns an active run.
func (o *Orchestrator) Get(runID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.active[runID]
	if !ok {
		return nil, false
	}
	return e.run, true
}

// Cancel skips the pending stages of an active run and cancels its running
// stages.
func (o *Orchestrator) Cancel(runID string) error {
	return o.interrupt(runID, errCancelRequested)
}

// Abort cancels everything an active run is still doing. On a run that has
// already failed it stops the stages that were left to finish.
func (o *Orchestrator) Abort(runID string) error {
	return o.interrupt(runID, errAborted)
}

func (o *Orchestrator) interrupt(runID string, cause error) error {
	o.mu.Lock()
	e, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	e.cancel(cause)
	return nil
}
