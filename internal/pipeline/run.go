package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/runstore"
)

// Run and stage statuses.
type (
	Status      = runstore.Status
	StageStatus = runstore.StageStatus
)

const (
	StatusPending   = runstore.StatusPending
	StatusRunning   = runstore.StatusRunning
	StatusSucceeded = runstore.StatusSucceeded
	StatusFailed    = runstore.StatusFailed
	StatusCancelled = runstore.StatusCancelled

	StagePending   = runstore.StagePending
	StageRunning   = runstore.StageRunning
	StageSucceeded = runstore.StageSucceeded
	StageFailed    = runstore.StageFailed
	StageSkipped   = runstore.StageSkipped
)

var (
	// ErrRunFinished is returned for transitions on a terminal run.
	ErrRunFinished = errors.New("run already finished")

	// ErrInvalidTransition is returned for a stage transition the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

var stageTransitions = map[StageStatus][]StageStatus{
	StagePending: {StageRunning, StageSkipped},
	StageRunning: {StageSucceeded, StageFailed, StageSkipped},
}

// Run is a single execution of a pipeline. It is written only by the
// orchestrator's scheduling loop; everybody else reads snapshots.
type Run struct {
	mu   sync.Mutex
	rec  *runstore.Record
	done chan struct{}
}

func newRun(id string, p *config.Pipeline, build int, started time.Time) *Run {
	rec := &runstore.Record{
		RunID:       id,
		PipelineID:  p.ID,
		BuildNumber: build,
		Status:      StatusPending,
		Started:     started,
		Stages:      make([]runstore.StageRecord, 0, len(p.Stages)),
	}
	for _, s := range p.Stages {
		rec.Stages = append(rec.Stages, runstore.StageRecord{
			Name:   s.Name,
			Action: string(s.Action),
			Needs:  append([]string(nil), s.Needs...),
			Status: StagePending,
		})
	}
	return &Run{rec: rec, done: make(chan struct{})}
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.rec.RunID
}

// Snapshot returns a copy of the run's current state.
func (r *Run) Snapshot() *runstore.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Clone()
}

// Done is closed once the run is terminal.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal and returns its final state.
func (r *Run) Wait(ctx context.Context) (*runstore.Record, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// update applies fn to the record unless the run is terminal.
func (r *Run) update(fn func(rec *runstore.Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Status.Terminal() {
		return ErrRunFinished
	}
	return fn(r.rec)
}

// setStage moves a stage to status and applies fn to its record.
func (r *Run) setStage(name string, status StageStatus, fn func(s *runstore.StageRecord)) error {
	return r.update(func(rec *runstore.Record) error {
		s, ok := rec.Stage(name)
		if !ok {
			return fmt.Errorf("unknown stage %q", name)
		}
		if !allowed(s.Status, status) {
			return fmt.Errorf("%w: stage %s %s -> %s", ErrInvalidTransition, name, s.Status, status)
		}
		s.Status = status
		if fn != nil {
			fn(s)
		}
		return nil
	})
}

func (r *Run) stageStatus(name string) StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rec.Stage(name); ok {
		return s.Status
	}
	return ""
}

func allowed(from, to StageStatus) bool {
	for _, s := range stageTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// finish sets the terminal status. Failed wins over Cancelled, which wins
// over Succeeded.
func (r *Run) finish(cancelled bool, at time.Time) (Status, error) {
	var status Status
	err := r.update(func(rec *runstore.Record) error {
		status = StatusSucceeded
		if cancelled {
			status = StatusCancelled
		}
		for _, s := range rec.Stages {
			if s.Status == StageFailed {
				status = StatusFailed
				break
			}
		}
		rec.Status = status
		rec.Finished = at
		return nil
	})
	return status, err
}
