package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/runstore"
)

// Cancel asks the process driving runID to cancel it. The request goes
// through the run store, so it reaches runs started anywhere the store is shared.
func Cancel(ctx context.Context, pipelinePath, runID string, out io.Writer) error {
	p, err := load(pipelinePath)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, p.Store)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	rec, err := store.RequestCancel(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("run %s not found", runID)}
	}
	if err != nil {
		return err
	}

	if rec.Status.Terminal() {
		fmt.Fprintf(out, "Run %s of %s already finished: %s\n", rec.RunID, rec.PipelineID, rec.Status)
		return nil
	}
	fmt.Fprintf(out, "Cancel requested for run %s of %s (build #%d)\n", rec.RunID, rec.PipelineID, rec.BuildNumber)
	return nil
}
