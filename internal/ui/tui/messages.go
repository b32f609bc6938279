// Package tui provides a Bubble Tea-based terminal UI for pipeline runs.
package tui

import (
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/runstore"
)

// EventMsg carries one run event from the orchestrator.
type EventMsg struct {
	Event observe.Event
}

// RunDoneMsg carries the final state of the run.
type RunDoneMsg struct {
	Record *runstore.Record
	Err    error
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// ErrMsg carries an error.
type ErrMsg struct{ Err error }
