package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/shipyard/internal/actions"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/metrics"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/pipeline"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/runstore"
	"github.com/imamik/shipyard/internal/ui/benchmarks"
	"github.com/imamik/shipyard/internal/ui/tui"
)

// RunOptions controls a pipeline run from the CLI.
type RunOptions struct {
	PipelinePath string
	// TUI shows the live run view instead of log lines.
	TUI bool
	// MetricsAddr serves Prometheus metrics while the run lasts.
	MetricsAddr string
	Out         io.Writer
}

// Factory function variables for run - can be replaced in tests.
var (
	// runLive shows the live view while fn runs.
	runLive = tui.RunLive

	// newRunner binds stage actions to collaborators.
	newRunner = func(p *config.Pipeline, opts ...actions.Option) pipeline.Runner {
		return actions.New(p, opts...)
	}
)

// Run triggers one run of the pipeline and waits for it. The pipeline's
// servers must pass the provisioning gate first; otherwise no run is
// started. A run that does not succeed is returned as an error carrying the
// exit code of the first failed stage.
func Run(ctx context.Context, opts RunOptions) error {
	p, err := load(opts.PipelinePath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, p.Store)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	runnerOpts, provider, err := collaborators(p)
	if err != nil {
		return err
	}
	if len(p.Servers) > 0 {
		gate := provision.NewGate(provider,
			provision.WithObserver(logObserver(ctx)),
			provision.WithPipelineID(p.ID),
		)
		if _, err := gate.EnsureAllReady(ctx, p.Servers, 0); err != nil {
			return exitError(err)
		}
	}
	runner := newRunner(p, runnerOpts...)

	observers := []observe.Observer{}
	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		observers = append(observers, metrics.New(reg).Observer(p.ID))

		serveCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := metrics.Serve(serveCtx, opts.MetricsAddr, reg); err != nil {
				logr.FromContextOrDiscard(ctx).Error(err, "metrics endpoint stopped", "addr", opts.MetricsAddr)
			}
		}()
	}

	trigger := func(ctx context.Context, extra observe.Observer) (*runstore.Record, error) {
		o := pipeline.New(runner,
			pipeline.WithStore(store),
			pipeline.WithObserver(observe.Multi(append(observers, extra)...)),
		)
		return o.Trigger(ctx, p)
	}

	var rec *runstore.Record
	if opts.TUI {
		// Log lines would tear the alternate screen.
		ctx = logr.NewContext(ctx, logr.Discard())
		history, err := store.List(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to read run history: %w", err)
		}
		rec, err = runLive(ctx, p, benchmarks.FromHistory(history), trigger)
		if err != nil {
			return exitError(err)
		}
	} else {
		rec, err = trigger(ctx, logObserver(ctx))
		if err != nil {
			return exitError(err)
		}
	}

	if opts.Out != nil {
		fmt.Fprint(opts.Out, tui.RenderStatus(rec))
	}
	return runResult(rec)
}

// collaborators connects only to the systems the pipeline uses. The provider
// is nil when the pipeline declares no servers and has no gate stage.
func collaborators(p *config.Pipeline) ([]actions.Option, provision.Provider, error) {
	uses := make(map[config.Action]bool)
	for _, s := range p.Stages {
		if s.IsEnabled() {
			uses[s.Action] = true
		}
	}

	var opts []actions.Option
	if uses[config.ActionBuild] || uses[config.ActionPublish] {
		engine, err := newEngine()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to docker: %w", err)
		}
		opts = append(opts, actions.WithEngine(engine), actions.WithRegistryClient(engine))
	}
	if uses[config.ActionDeploy] || uses[config.ActionRollback] {
		cluster, err := newCluster(p.Cluster)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
		}
		opts = append(opts, actions.WithCluster(cluster))
	}
	var provider provision.Provider
	if uses[config.ActionGate] || len(p.Servers) > 0 {
		var err error
		provider, err = hcloudProvider()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, actions.WithProvider(provider))
	}
	return opts, provider, nil
}

// runResult turns a finished run into the command's error.
func runResult(rec *runstore.Record) error {
	switch rec.Status {
	case runstore.StatusSucceeded:
		return nil
	case runstore.StatusCancelled:
		return &failure.ExitError{
			Code: failure.ExitCancelled,
			Err:  fmt.Errorf("run %s of %s was cancelled", rec.RunID, rec.PipelineID),
		}
	}

	code := failure.ExitFailed
	msg := fmt.Sprintf("run %s of %s failed", rec.RunID, rec.PipelineID)
	if s, ok := rec.Stage(rec.FailedStage); ok {
		code = failure.ExitCode(s.ErrorKind)
		msg += fmt.Sprintf(" at stage %s", s.Name)
		if s.Error != "" {
			msg += ": " + s.Error
		}
	}
	return &failure.ExitError{Code: code, Err: errors.New(msg)}
}
