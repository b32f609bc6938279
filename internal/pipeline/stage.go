package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/registry"
	"github.com/imamik/shipyard/internal/util/retry"
)

// Runner executes the action of one stage attempt.
type Runner interface {
	RunStage(ctx context.Context, in StageInput) (*Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, in StageInput) (*Outcome, error)

// RunStage implements Runner.
func (f RunnerFunc) RunStage(ctx context.Context, in StageInput) (*Outcome, error) {
	return f(ctx, in)
}

// StageInput is what a stage attempt gets to work with.
type StageInput struct {
	RunID       string
	PipelineID  string
	BuildNumber int
	Stage       config.Stage
	Attempt     int
	// Artifact is a copy of the artifact built earlier in the run, if any.
	Artifact *artifact.Artifact
	Observer observe.Observer
}

// Outcome is what a stage attempt produced. It may accompany an error, as
// with the rollout result of a degraded deployment.
type Outcome struct {
	Output    string
	Artifact  *artifact.Artifact
	Publish   *registry.PublishResult
	Rollout   *deploy.RolloutResult
	Endpoints []*provision.Endpoint
}

var errStageTimeout = errors.New("stage timed out")

// stageDone reports a finished stage to the scheduling loop.
type stageDone struct {
	name     string
	outcome  *Outcome
	err      error
	attempts int
}

// stageRetry reports a failed attempt that will be retried.
type stageRetry struct {
	name    string
	attempt int
	err     error
	delay   time.Duration
}

// runStage runs all attempts of a stage and reports the result. Terminal
// error kinds and cancellation end the retries early.
func (e *execution) runStage(in StageInput) {
	st := in.Stage
	op := "stage " + st.Name
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = e.o.timeouts.StageDefault
	}

	var (
		attempts int
		outcome  *Outcome
		lastErr  error
	)
	attempt := func() error {
		attempts++
		in.Attempt = attempts

		ctx, cancel := context.WithTimeoutCause(e.ctx, timeout, errStageTimeout)
		defer cancel()

		out, err := e.o.runner.RunStage(ctx, in)
		if out != nil {
			outcome = out
		}
		if err != nil && e.ctx.Err() == nil && errors.Is(context.Cause(ctx), errStageTimeout) &&
			!failure.Is(err, failure.KindTimeoutExceeded) {
			err = failure.WithOutput(failure.KindTimeoutExceeded, op,
				fmt.Errorf("exceeded %s: %w", timeout, err), failure.OutputOf(err))
		}
		lastErr = err
		return err
	}

	err := retry.WithExponentialBackoff(e.ctx, attempt,
		retry.WithMaxRetries(st.Retries),
		retry.WithInitialDelay(st.Backoff),
		retry.WithMaxDelay(maxStageBackoff(st.Backoff)),
		retry.WithRetryIf(func(err error) bool {
			return e.ctx.Err() == nil && !failure.IsTerminal(err) && !failure.Is(err, failure.KindCancelled)
		}),
		retry.WithNotify(func(n int, err error, delay time.Duration) {
			e.retries <- stageRetry{name: st.Name, attempt: n, err: err, delay: delay}
		}),
	)
	if err != nil {
		err = lastErr
		if e.ctx.Err() != nil && !failure.Is(err, failure.KindCancelled) {
			err = failure.WithOutput(failure.KindCancelled, op, err, failure.OutputOf(err))
		}
	}

	e.done <- stageDone{name: st.Name, outcome: outcome, err: err, attempts: attempts}
}

func maxStageBackoff(initial time.Duration) time.Duration {
	if initial <= 0 {
		return time.Minute
	}
	return 32 * initial
}
