package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/runstore"
	"github.com/imamik/shipyard/internal/ui/benchmarks"
)

// maxLogLines is how many output lines the live view keeps.
const maxLogLines = 8

// Model is the Bubble Tea model for the live run view.
type Model struct {
	PipelineID  string
	RunID       string
	BuildNumber int

	Stages []runstore.StageRecord
	Logs   []string
	// Details holds the latest rollout or endpoint message per stage.
	Details map[string]string

	// ETA
	Timings            benchmarks.Timings
	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width      int
	Height     int
	Err        error
	Done       bool
	Cancelling bool
	Final      *runstore.Record

	cancel func()
	now    func() time.Time
}

// NewRunModel creates a model for a run of p. cancel is called when the
// user asks to stop the run; timings come from earlier runs.
func NewRunModel(p *config.Pipeline, timings benchmarks.Timings, cancel func()) Model {
	m := Model{
		PipelineID:       p.ID,
		Details:          make(map[string]string),
		Timings:          timings,
		PerformanceScale: 1.0,
		StartTime:        time.Now(),
		cancel:           cancel,
		now:              time.Now,
	}
	for _, s := range p.Stages {
		m.Stages = append(m.Stages, runstore.StageRecord{
			Name:   s.Name,
			Action: string(s.Action),
			Needs:  s.Needs,
			Status: runstore.StagePending,
		})
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The first press cancels the run, the second leaves.
			if m.Done || m.Cancelling || m.cancel == nil {
				return m, tea.Quit
			}
			m.Cancelling = true
			m.cancel()
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case EventMsg:
		m.apply(msg.Event)

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case RunDoneMsg:
		m.Done = true
		m.Err = msg.Err
		if msg.Record != nil {
			m.Final = msg.Record
			m.RunID = msg.Record.RunID
			m.BuildNumber = msg.Record.BuildNumber
			m.Stages = msg.Record.Stages
		}
		return m, tea.Quit

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one run event into the stage table.
func (m *Model) apply(e observe.Event) {
	if e.RunID != "" {
		m.RunID = e.RunID
	}
	at := e.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	switch e.Type {
	case observe.EventStageStarted:
		s := m.stage(e.Stage)
		s.Status = runstore.StageRunning
		s.Started = at
		s.Attempts = 1
	case observe.EventStageRetrying:
		s := m.stage(e.Stage)
		s.Attempts++
		s.Error = errString(e.Err)
	case observe.EventStageSucceeded:
		s := m.stage(e.Stage)
		s.Status = runstore.StageSucceeded
		s.Finished = at
		s.Error = ""
	case observe.EventStageFailed:
		s := m.stage(e.Stage)
		s.Status = runstore.StageFailed
		s.Finished = at
		s.Error = errString(e.Err)
	case observe.EventStageSkipped:
		s := m.stage(e.Stage)
		if s.Status == runstore.StageRunning {
			s.Finished = at
		}
		s.Status = runstore.StageSkipped
		s.Error = e.Message
	case observe.EventBuildLog:
		m.Logs = append(m.Logs, e.Message)
		if len(m.Logs) > maxLogLines {
			m.Logs = m.Logs[len(m.Logs)-maxLogLines:]
		}
	case observe.EventRolloutProgress, observe.EventRolloutState,
		observe.EventEndpointWaiting, observe.EventEndpointReady,
		observe.EventPublishPushed, observe.EventPublishRetry:
		if e.Stage != "" {
			m.Details[e.Stage] = e.Message
		}
	case observe.EventRunCancelled:
		m.Cancelling = true
	}
}

// stage returns the row for name, adding rows for stages the run created
// on its own, such as automatic rollbacks.
func (m *Model) stage(name string) *runstore.StageRecord {
	for i := range m.Stages {
		if m.Stages[i].Name == name {
			return &m.Stages[i]
		}
	}
	m.Stages = append(m.Stages, runstore.StageRecord{Name: name, Status: runstore.StagePending})
	return &m.Stages[len(m.Stages)-1]
}

func (m *Model) updateETA() {
	if len(m.Timings) == 0 {
		m.EstimatedRemaining = 0
		return
	}
	now := m.now()
	m.PerformanceScale = benchmarks.PerformanceScale(m.Timings, m.Stages, now)
	m.EstimatedRemaining = benchmarks.EstimateRemainingWithScale(m.Timings, m.Stages, now, m.PerformanceScale)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
