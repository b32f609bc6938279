package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/runstore"
	"github.com/imamik/shipyard/internal/ui/benchmarks"
)

// RunFunc executes a run, reporting events to observer. It must return
// once ctx is cancelled.
type RunFunc func(ctx context.Context, observer observe.Observer) (*runstore.Record, error)

// RunLive wraps a pipeline run with a Bubble Tea live view. Pressing q
// cancels the run; the view stays up until the run has wound down.
func RunLive(ctx context.Context, p *config.Pipeline, timings benchmarks.Timings, run RunFunc) (*runstore.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewRunModel(p, timings, cancel)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	var (
		rec    *runstore.Record
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec, runErr = run(ctx, observe.Func(func(e observe.Event) {
			prog.Send(EventMsg{Event: e})
		}))
		prog.Send(RunDoneMsg{Record: rec, Err: runErr})
	}()

	_, err := prog.Run()
	// Leaving the view early must not orphan the run.
	cancel()
	<-done
	if err != nil && rec == nil {
		return nil, fmt.Errorf("TUI error: %w", err)
	}
	return rec, runErr
}
