package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipyard/internal/runstore"
)

func TestRun_StageTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []StageStatus
		wantErr bool
	}{
		{name: "run to success", path: []StageStatus{StageRunning, StageSucceeded}},
		{name: "run to failure", path: []StageStatus{StageRunning, StageFailed}},
		{name: "skip pending", path: []StageStatus{StageSkipped}},
		{name: "skip running", path: []StageStatus{StageRunning, StageSkipped}},
		{name: "pending to success", path: []StageStatus{StageSucceeded}, wantErr: true},
		{name: "terminal is final", path: []StageStatus{StageRunning, StageSucceeded, StageRunning}, wantErr: true},
		{name: "skipped is final", path: []StageStatus{StageSkipped, StageRunning}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newRun("run-1", testPipeline(shell("build")), 1, time.Now())
			var err error
			for _, status := range tt.path {
				if err = run.setStage("build", status, nil); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], run.stageStatus("build"))
		})
	}
}

func TestRun_Finish(t *testing.T) {
	p := testPipeline(shell("a"), shell("b"))

	t.Run("failed wins over cancelled", func(t *testing.T) {
		run := newRun("run-1", p, 1, time.Now())
		require.NoError(t, run.setStage("a", StageRunning, nil))
		require.NoError(t, run.setStage("a", StageFailed, nil))
		require.NoError(t, run.setStage("b", StageSkipped, nil))

		status, err := run.finish(true, time.Now())
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, status)
	})

	t.Run("cancelled", func(t *testing.T) {
		run := newRun("run-1", p, 1, time.Now())
		status, err := run.finish(true, time.Now())
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, status)
	})

	t.Run("finished runs reject updates", func(t *testing.T) {
		run := newRun("run-1", p, 1, time.Now())
		_, err := run.finish(false, time.Now())
		require.NoError(t, err)

		assert.ErrorIs(t, run.setStage("a", StageRunning, nil), ErrRunFinished)
		_, err = run.finish(false, time.Now())
		assert.ErrorIs(t, err, ErrRunFinished)
		assert.Equal(t, StatusSucceeded, run.Snapshot().Status)
	})

	t.Run("unknown stage", func(t *testing.T) {
		run := newRun("run-1", p, 1, time.Now())
		assert.Error(t, run.setStage("missing", StageRunning, nil))
	})
}

func TestRun_SnapshotIsIsolated(t *testing.T) {
	run := newRun("run-1", testPipeline(shell("a")), 3, time.Now())
	snap := run.Snapshot()
	snap.Stages[0].Status = StageFailed
	snap.Status = StatusFailed

	assert.Equal(t, StagePending, run.stageStatus("a"))
	assert.Equal(t, StatusPending, run.Snapshot().Status)
	assert.Equal(t, 3, snap.BuildNumber)
}

func TestRun_WaitHonoursContext(t *testing.T) {
	run := newRun("run-1", testPipeline(shell("a")), 1, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(run.done)
	rec, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &runstore.Record{}, rec)
}
