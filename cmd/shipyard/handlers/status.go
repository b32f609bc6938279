package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"

	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/runstore"
	"github.com/imamik/shipyard/internal/ui/tui"
)

// Output formats of the status command.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
)

// Status prints a stored run. Without a run id the pipeline's latest run is shown.
func Status(ctx context.Context, pipelinePath, runID, format string, out io.Writer) error {
	p, err := load(pipelinePath)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, p.Store)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	var rec *runstore.Record
	if runID == "" {
		runs, err := store.List(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("pipeline %s has no runs", p.ID)}
		}
		rec = runs[0]
	} else {
		rec, err = store.Load(ctx, runID)
		if errors.Is(err, runstore.ErrNotFound) {
			return &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("run %s not found", runID)}
		}
		if err != nil {
			return err
		}
	}

	switch format {
	case FormatTable, "":
		fmt.Fprint(out, tui.RenderStatus(rec))
	case FormatYAML:
		data, err := yaml.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		return &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("unknown output format %q", format)}
	}
	return nil
}
