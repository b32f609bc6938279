package observe

import (
	"sort"

	"github.com/go-logr/logr"
)

// LogObserver writes events to a logr.Logger. Failed stages and failed
// resources are logged at error level, chatty events (build output, rollout
// polls, progress) at V(1).
type LogObserver struct {
	log    logr.Logger
	fields map[string]string
}

// NewLogObserver creates an observer logging through log.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{log: log}
}

// Event implements Observer.
func (o *LogObserver) Event(e Event) {
	fields := copyFields(o.fields, e.Fields)
	kv := make([]any, 0, 8+2*len(fields))
	kv = append(kv, "event", string(e.Type))
	if e.RunID != "" {
		kv = append(kv, "run", e.RunID)
	}
	if e.Stage != "" {
		kv = append(kv, "stage", e.Stage)
	}
	if e.Resource != "" {
		kv = append(kv, "resource", e.Resource)
	}
	if e.Duration > 0 {
		kv = append(kv, "duration", e.Duration.String())
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}

	switch {
	case e.Err != nil && (e.Type == EventStageFailed || e.Type == EventRunFinished):
		o.log.Error(e.Err, e.Message, kv...)
	case e.Type == EventBuildLog || e.Type == EventRolloutProgress || e.Type == EventProgress:
		o.log.V(1).Info(e.Message, kv...)
	default:
		if e.Err != nil {
			kv = append(kv, "error", e.Err.Error())
		}
		o.log.Info(e.Message, kv...)
	}
}

// Progress implements Observer.
func (o *LogObserver) Progress(phase string, current, total int) {
	o.Event(progressEvent(phase, current, total))
}

// WithFields implements Observer.
func (o *LogObserver) WithFields(fields map[string]string) Observer {
	return &LogObserver{log: o.log, fields: copyFields(o.fields, fields)}
}
