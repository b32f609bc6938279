package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/runstore"
)

// execution is the scheduling loop of one run. Only the goroutine running
// execute touches its fields after start.
type execution struct {
	o        *Orchestrator
	p        *config.Pipeline
	run      *Run
	observer observe.Observer
	log      logr.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	order   []string
	stages  map[string]config.Stage
	running map[string]bool
	started map[string]time.Time

	done    chan stageDone
	retries chan stageRetry

	interrupted bool
	firstErr    error
}

func newExecution(parent context.Context, o *Orchestrator, p *config.Pipeline, run *Run, order []string) *execution {
	ctx, cancel := context.WithCancelCause(parent)
	e := &execution{
		o:        o,
		p:        p,
		run:      run,
		observer: o.observer.WithFields(map[string]string{"pipeline": p.ID}),
		log:      logr.FromContextOrDiscard(parent).WithValues("pipeline", p.ID, "run", run.ID()),
		ctx:      ctx,
		cancel:   cancel,
		order:    order,
		stages:   make(map[string]config.Stage, len(p.Stages)),
		running:  make(map[string]bool),
		started:  make(map[string]time.Time),
		done:     make(chan stageDone),
		retries:  make(chan stageRetry),
	}
	for _, s := range p.Stages {
		e.stages[s.Name] = s
	}
	return e
}

func (e *execution) execute() {
	defer e.cancel(nil)

	e.mustUpdate(func(rec *runstore.Record) error {
		rec.Status = StatusRunning
		return nil
	})
	e.emit(observe.Event{
		Type:    observe.EventRunStarted,
		Message: fmt.Sprintf("run started (build %d)", e.run.rec.BuildNumber),
	})
	for _, name := range e.order {
		if !e.stages[name].IsEnabled() {
			e.skip(name, "disabled")
		}
	}
	e.persist()

	e.loop()

	status, err := e.run.finish(e.interrupted, time.Now())
	if err != nil {
		e.log.Error(err, "failed to finish run")
	}
	e.persist()
	if e.o.store != nil && e.interrupted {
		if err := e.o.store.ClearCancel(context.WithoutCancel(e.ctx), e.run.ID()); err != nil {
			e.log.Error(err, "failed to clear cancel request")
		}
	}

	snap := e.run.Snapshot()
	var runErr error
	if status == StatusFailed {
		runErr = e.firstErr
	}
	e.emit(observe.Event{
		Type:     observe.EventRunFinished,
		Message:  "run " + string(status),
		Duration: snap.Duration(),
		Err:      runErr,
		Fields:   map[string]string{"status": strings.ToLower(string(status))},
	})
}

func (e *execution) loop() {
	ctxDone := e.ctx.Done()

	var poll <-chan time.Time
	if e.o.store != nil && e.o.timeouts.CancelPoll > 0 {
		ticker := time.NewTicker(e.o.timeouts.CancelPoll)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		e.schedule()
		if len(e.running) == 0 {
			return
		}

		select {
		case d := <-e.done:
			e.complete(d)
		case r := <-e.retries:
			e.retrying(r)
		case <-ctxDone:
			ctxDone = nil
			e.interrupt()
		case <-poll:
			if err := e.o.store.Heartbeat(e.ctx, e.p.ID, e.run.ID()); err != nil {
				if errors.Is(err, runstore.ErrLockLost) {
					e.cancel(err)
					continue
				}
				e.log.V(1).Info("failed to refresh pipeline lock", "error", err.Error())
			}
			requested, err := e.o.store.CancelRequested(e.ctx, e.run.ID())
			if err != nil {
				e.log.V(1).Info("failed to check for cancel request", "error", err.Error())
				continue
			}
			if requested {
				e.cancel(errCancelRequested)
			}
		}
	}
}

// schedule skips what can no longer run and dispatches what is ready.
func (e *execution) schedule() {
	if !e.interrupted && e.ctx.Err() != nil {
		e.interrupt()
	}

	for changed := true; changed; {
		changed = false
		for _, name := range e.order {
			if e.run.stageStatus(name) != StagePending {
				continue
			}
			if e.interrupted {
				e.skip(name, "run "+e.interruptReason())
				changed = true
				continue
			}
			if e.firstErr != nil {
				e.skip(name, "a previous stage failed")
				changed = true
				continue
			}

			ready, blocker := e.dependencies(name)
			switch {
			case blocker != "":
				e.skip(name, "dependency "+blocker+" did not succeed")
				changed = true
			case ready && len(e.running) < e.p.Parallelism:
				e.dispatch(name)
				changed = true
			}
		}
	}
}

// dependencies reports whether all needs succeeded, or names the first
// need that failed or was skipped.
func (e *execution) dependencies(name string) (ready bool, blocker string) {
	ready = true
	for _, dep := range e.stages[name].Needs {
		switch e.run.stageStatus(dep) {
		case StageSucceeded:
		case StageFailed, StageSkipped:
			return false, dep
		default:
			ready = false
		}
	}
	return ready, ""
}

func (e *execution) dispatch(name string) {
	now := time.Now()
	e.mustSetStage(name, StageRunning, func(s *runstore.StageRecord) {
		s.Started = now
		s.Attempts = 1
	})
	e.running[name] = true
	e.started[name] = now
	e.emit(observe.Event{Type: observe.EventStageStarted, Stage: name, Message: "stage started"})
	e.persist()

	snap := e.run.Snapshot()
	in := StageInput{
		RunID:       snap.RunID,
		PipelineID:  snap.PipelineID,
		BuildNumber: snap.BuildNumber,
		Stage:       e.stages[name],
		Artifact:    snap.Artifact,
		Observer:    observe.Scoped(e.observer, snap.RunID, name),
	}
	go e.runStage(in)
}

func (e *execution) retrying(r stageRetry) {
	e.mustSetAttempts(r.name, r.attempt+1)
	e.emit(observe.Event{
		Type:    observe.EventStageRetrying,
		Stage:   r.name,
		Message: fmt.Sprintf("attempt %d failed, retrying in %s", r.attempt, r.delay),
		Err:     r.err,
	})
	e.persist()
}

func (e *execution) complete(d stageDone) {
	if !e.interrupted && e.ctx.Err() != nil {
		e.interrupt()
	}
	delete(e.running, d.name)
	duration := time.Since(e.started[d.name])
	now := time.Now()

	e.merge(d.outcome)

	output := failure.OutputOf(d.err)
	if d.outcome != nil && d.outcome.Output != "" {
		output = d.outcome.Output
	}
	record := func(s *runstore.StageRecord) {
		s.Attempts = d.attempts
		s.Finished = now
		s.Output = output
		if d.err != nil {
			s.ErrorKind = failure.KindOf(d.err)
			s.Error = d.err.Error()
		}
	}

	switch {
	case d.err == nil:
		e.mustSetStage(d.name, StageSucceeded, record)
		e.emit(observe.Event{Type: observe.EventStageSucceeded, Stage: d.name, Message: "stage succeeded", Duration: duration})

	case e.interrupted && failure.Is(d.err, failure.KindCancelled):
		e.mustSetStage(d.name, StageSkipped, record)
		e.emit(observe.Event{Type: observe.EventStageSkipped, Stage: d.name, Message: "stage cancelled", Err: d.err, Duration: duration})

	default:
		e.mustSetStage(d.name, StageFailed, record)
		if e.firstErr == nil {
			e.firstErr = d.err
			e.mustUpdate(func(rec *runstore.Record) error {
				rec.FailedStage = d.name
				return nil
			})
		}
		e.emit(observe.Event{Type: observe.EventStageFailed, Stage: d.name, Message: "stage failed", Err: d.err, Duration: duration})
		e.maybeRollback(d)
	}
	e.persist()
}

// maybeRollback starts a rollback of a degraded deploy stage when the
// target asks for it.
func (e *execution) maybeRollback(d stageDone) {
	st := e.stages[d.name]
	if st.Action != config.ActionDeploy || !failure.Is(d.err, failure.KindRolloutDegraded) || e.interrupted {
		return
	}
	target, ok := e.p.Target(st.Target)
	if !ok || target.OnDegraded != config.DegradedRollback {
		return
	}

	name := d.name + "-rollback"
	if _, exists := e.stages[name]; exists {
		return
	}
	rb := config.Stage{
		Name:    name,
		Action:  config.ActionRollback,
		Target:  st.Target,
		Needs:   []string{d.name},
		Timeout: st.Timeout,
	}
	e.stages[name] = rb
	e.order = append(e.order, name)
	e.mustUpdate(func(rec *runstore.Record) error {
		rec.Stages = append(rec.Stages, runstore.StageRecord{
			Name:   name,
			Action: string(rb.Action),
			Needs:  rb.Needs,
			Status: StagePending,
		})
		return nil
	})
	e.dispatch(name)
}

func (e *execution) merge(out *Outcome) {
	if out == nil {
		return
	}
	e.mustUpdate(func(rec *runstore.Record) error {
		if out.Artifact != nil {
			a := *out.Artifact
			rec.Artifact = &a
		}
		if out.Publish != nil {
			rec.Publish = out.Publish
			if rec.Artifact != nil && out.Publish.Digest != "" {
				rec.Artifact.RegistryDigest = out.Publish.Digest
			}
		}
		if out.Rollout != nil {
			rec.Rollouts = append(rec.Rollouts, out.Rollout)
		}
		rec.Endpoints = append(rec.Endpoints, out.Endpoints...)
		return nil
	})
}

// interrupt marks the run cancelled. Pending stages are skipped on the next
// schedule; running stages see their context end.
func (e *execution) interrupt() {
	if e.interrupted {
		return
	}
	e.interrupted = true
	e.emit(observe.Event{Type: observe.EventRunCancelled, Message: "run " + e.interruptReason()})
}

func (e *execution) interruptReason() string {
	switch cause := context.Cause(e.ctx); {
	case errors.Is(cause, errAborted):
		return "aborted"
	case errors.Is(cause, errCancelRequested), errors.Is(cause, context.Canceled):
		return "cancelled"
	case cause != nil:
		return "cancelled: " + cause.Error()
	default:
		return "cancelled"
	}
}

func (e *execution) skip(name, reason string) {
	e.mustSetStage(name, StageSkipped, func(s *runstore.StageRecord) {
		s.Error = "skipped: " + reason
		if e.interrupted {
			s.ErrorKind = failure.KindCancelled
		}
	})
	e.emit(observe.Event{Type: observe.EventStageSkipped, Stage: name, Message: "stage skipped: " + reason})
}

func (e *execution) emit(ev observe.Event) {
	ev.RunID = e.run.ID()
	e.observer.Event(ev)
}

func (e *execution) persist() {
	if e.o.store == nil {
		return
	}
	if err := e.o.store.Save(context.WithoutCancel(e.ctx), e.run.Snapshot()); err != nil {
		e.log.Error(err, "failed to persist run")
	}
}

// The loop only requests transitions its own bookkeeping allows, so a
// rejected one is a bug worth logging rather than a runtime condition.
func (e *execution) mustSetStage(name string, status StageStatus, fn func(s *runstore.StageRecord)) {
	if err := e.run.setStage(name, status, fn); err != nil {
		e.log.Error(err, "stage transition rejected", "stage", name)
	}
}

func (e *execution) mustSetAttempts(name string, attempts int) {
	e.mustUpdate(func(rec *runstore.Record) error {
		if s, ok := rec.Stage(name); ok {
			s.Attempts = attempts
		}
		return nil
	})
}

func (e *execution) mustUpdate(fn func(rec *runstore.Record) error) {
	if err := e.run.update(fn); err != nil {
		e.log.Error(err, "run update rejected")
	}
}
