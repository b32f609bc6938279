package observe

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ConcurrentEvents(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Event(Event{Type: EventStageStarted, Stage: "s"})
		}()
	}
	wg.Wait()

	events := rec.Events()
	require.Len(t, events, 50)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRecorder_WithFields(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	obs := rec.WithFields(map[string]string{"pipeline": "shop", "target": "web"})
	obs.Event(Event{Type: EventRolloutState, Fields: map[string]string{"target": "api"}})
	obs.WithFields(map[string]string{"run": "r1"}).Progress("rollout", 1, 4)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, map[string]string{"pipeline": "shop", "target": "api"}, events[0].Fields)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, "1/4 (25%)", events[1].Message)
	assert.Equal(t, "r1", events[1].Fields["run"])
	assert.Equal(t, "shop", events[1].Fields["pipeline"])
}

func TestRecorder_StageOrder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.Event(Event{Type: EventStageStarted, Stage: "build"})
	rec.Event(Event{Type: EventStageSucceeded, Stage: "build"})
	rec.Event(Event{Type: EventStageStarted, Stage: "deploy"})

	assert.Equal(t, []string{"build", "deploy"}, rec.StageOrder(EventStageStarted))
	assert.Len(t, rec.OfType(EventStageSucceeded), 1)
}

func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	obs := Multi(a, nil, b).WithFields(map[string]string{"k": "v"})
	obs.Event(Event{Type: EventRunStarted})

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, "v", b.Events()[0].Fields["k"])
}

func TestFuncAndDiscard(t *testing.T) {
	t.Parallel()

	var got []Event
	f := Func(func(e Event) { got = append(got, e) })
	f.Event(Event{Type: EventRunStarted})
	f.Progress("gate", 0, 0)

	require.Len(t, got, 2)
	assert.Equal(t, "0/0", got[1].Message)

	OrDiscard(nil).Event(Event{Type: EventRunStarted})
	assert.Equal(t, Discard, OrDiscard(nil))
}

func TestLogObserver(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var lines []string
	log := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 0})

	obs := NewLogObserver(log).WithFields(map[string]string{"pipeline": "shop"})
	obs.Event(Event{Type: EventStageStarted, RunID: "r1", Stage: "build", Message: "stage started"})
	obs.Event(Event{Type: EventStageFailed, Stage: "build", Message: "stage failed", Err: errors.New("boom")})
	obs.Event(Event{Type: EventBuildLog, Stage: "build", Message: "Step 1/4"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2, "V(1) build output must be filtered at verbosity 0")
	assert.Contains(t, lines[0], `"stage"="build"`)
	assert.Contains(t, lines[0], `"pipeline"="shop"`)
	assert.Contains(t, lines[0], `"run"="r1"`)
	assert.True(t, strings.Contains(lines[1], `"error"="boom"`), lines[1])
}

var _ Observer = (*LogObserver)(nil)
var _ Observer = (*Recorder)(nil)
var _ Observer = Func(nil)

func TestScoped(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	obs := Scoped(rec, "run-1", "deploy").WithFields(map[string]string{"pipeline": "shop"})
	obs.Event(Event{Type: EventRolloutState, Resource: "web"})
	obs.Event(Event{Type: EventStageFailed, RunID: "other", Stage: "build"})

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "deploy", events[0].Stage)
	assert.Equal(t, "shop", events[0].Fields["pipeline"])
	assert.Equal(t, "other", events[1].RunID)
	assert.Equal(t, "build", events[1].Stage)
}
