// Package observe carries structured run events from the orchestrator and
// its components to loggers, metrics and the terminal UI.
package observe

import (
	"fmt"
	"sync"
	"time"
)

// Observer receives structured events while a pipeline runs.
type Observer interface {
	// Event emits a structured event.
	Event(event Event)

	// Progress reports progress for a phase.
	Progress(phase string, current, total int)

	// WithFields returns a new Observer with additional context fields.
	WithFields(fields map[string]string) Observer
}

// Event represents a structured run event.
type Event struct {
	Type      EventType
	RunID     string
	Stage     string
	Message   string
	Resource  string
	Timestamp time.Time
	Duration  time.Duration
	Err       error
	Fields    map[string]string
}

// EventType represents the type of run event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunFinished  EventType = "run.finished"
	EventRunQueued    EventType = "run.queued"
	EventRunCancelled EventType = "run.cancelling"

	EventStageStarted   EventType = "stage.started"
	EventStageSucceeded EventType = "stage.succeeded"
	EventStageFailed    EventType = "stage.failed"
	EventStageSkipped   EventType = "stage.skipped"
	EventStageRetrying  EventType = "stage.retrying"

	EventBuildLog      EventType = "build.log"
	EventImageBuilt    EventType = "image.built"
	EventPublishPushed EventType = "publish.pushed"
	EventPublishSkip   EventType = "publish.skipped"
	EventPublishRetry  EventType = "publish.retrying"

	EventRolloutState    EventType = "rollout.state"
	EventRolloutProgress EventType = "rollout.progress"

	EventResourceCreating EventType = "resource.creating"
	EventResourceCreated  EventType = "resource.created"
	EventResourceDeleting EventType = "resource.deleting"
	EventResourceDeleted  EventType = "resource.deleted"
	EventEndpointWaiting  EventType = "endpoint.waiting"
	EventEndpointReady    EventType = "endpoint.ready"

	EventProgress EventType = "progress"
)

// Discard is an Observer that drops every event.
var Discard Observer = discard{}

type discard struct{}

func (discard) Event(Event)                            {}
func (discard) Progress(string, int, int)              {}
func (discard) WithFields(map[string]string) Observer { return discard{} }

// OrDiscard returns o, or Discard when o is nil.
func OrDiscard(o Observer) Observer {
	if o == nil {
		return Discard
	}
	return o
}

// Func adapts a function to the Observer interface. Progress is delivered
// as an EventProgress event.
type Func func(Event)

func (f Func) Event(e Event) { f(stamp(e)) }

func (f Func) Progress(phase string, current, total int) {
	f(stamp(progressEvent(phase, current, total)))
}

func (f Func) WithFields(fields map[string]string) Observer {
	return &fielded{next: f, fields: copyFields(nil, fields)}
}

// Multi fans every event out to all observers in order.
func Multi(observers ...Observer) Observer {
	var live []Observer
	for _, o := range observers {
		if o != nil {
			live = append(live, o)
		}
	}
	return multi(live)
}

type multi []Observer

func (m multi) Event(e Event) {
	for _, o := range m {
		o.Event(e)
	}
}

func (m multi) Progress(phase string, current, total int) {
	for _, o := range m {
		o.Progress(phase, current, total)
	}
}

func (m multi) WithFields(fields map[string]string) Observer {
	out := make(multi, len(m))
	for i, o := range m {
		out[i] = o.WithFields(fields)
	}
	return out
}

type fielded struct {
	next   Observer
	fields map[string]string
}

func (f *fielded) Event(e Event) {
	e.Fields = copyFields(f.fields, e.Fields)
	f.next.Event(e)
}

func (f *fielded) Progress(phase string, current, total int) {
	f.Event(progressEvent(phase, current, total))
}

func (f *fielded) WithFields(fields map[string]string) Observer {
	return &fielded{next: f.next, fields: copyFields(f.fields, fields)}
}

// Scoped fills in RunID and Stage on events that do not carry them.
func Scoped(o Observer, runID, stage string) Observer {
	return scoped{next: OrDiscard(o), runID: runID, stage: stage}
}

type scoped struct {
	next  Observer
	runID string
	stage string
}

func (s scoped) Event(e Event) {
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Stage == "" {
		e.Stage = s.stage
	}
	s.next.Event(e)
}

func (s scoped) Progress(phase string, current, total int) {
	s.Event(progressEvent(phase, current, total))
}

func (s scoped) WithFields(fields map[string]string) Observer {
	return scoped{next: s.next.WithFields(fields), runID: s.runID, stage: s.stage}
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Event(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stamp(e))
}

func (r *Recorder) Progress(phase string, current, total int) {
	r.Event(progressEvent(phase, current, total))
}

func (r *Recorder) WithFields(fields map[string]string) Observer {
	return &fielded{next: r, fields: copyFields(nil, fields)}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// StageOrder returns stage names in the order their events of type t arrived.
func (r *Recorder) StageOrder(t EventType) []string {
	var out []string
	for _, e := range r.OfType(t) {
		out = append(out, e.Stage)
	}
	return out
}

func stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}

func progressEvent(phase string, current, total int) Event {
	msg := fmt.Sprintf("%d/%d", current, total)
	if total > 0 {
		msg = fmt.Sprintf("%d/%d (%d%%)", current, total, current*100/total)
	}
	return Event{
		Type:    EventProgress,
		Stage:   phase,
		Message: msg,
		Fields: map[string]string{
			"current": fmt.Sprint(current),
			"total":   fmt.Sprint(total),
		},
	}
}

// copyFields merges base and extra into a new map; extra wins.
func copyFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
