package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/ui/tui"
)

// RollbackOptions controls the rollback command.
type RollbackOptions struct {
	PipelinePath string
	Target       string
	// ToRevision pins the revision; nil returns to the previous one.
	ToRevision *int64
	// History lists revisions instead of rolling back.
	History bool
	Out     io.Writer
}

// Rollback returns a deploy target to an earlier revision and follows the
// rollout until it settles.
func Rollback(ctx context.Context, opts RollbackOptions) error {
	p, err := load(opts.PipelinePath)
	if err != nil {
		return err
	}
	target, ok := p.Target(opts.Target)
	if !ok {
		return &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("pipeline %s has no target %q", p.ID, opts.Target)}
	}

	driver, err := newDriver(ctx, p)
	if err != nil {
		return err
	}

	if opts.History {
		revs, err := driver.History(ctx, target.Namespace, target.Deployment, target.Container)
		if err != nil {
			return exitError(err)
		}
		fmt.Fprint(opts.Out, tui.RenderHistory(target.Name, revs))
		status, err := driver.Status(ctx, target)
		if err != nil {
			return exitError(err)
		}
		fmt.Fprint(opts.Out, tui.RenderReplicas(status))
		return nil
	}

	res, err := driver.Rollback(ctx, target, opts.ToRevision)
	if res != nil {
		fmt.Fprint(opts.Out, tui.RenderRollout(res))
	}
	return exitError(err)
}

func newDriver(ctx context.Context, p *config.Pipeline) (*deploy.Driver, error) {
	cluster, err := newCluster(p.Cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}
	return deploy.NewDriver(cluster, deploy.WithObserver(logObserver(ctx))), nil
}
