package handlers

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/runstore"
	"github.com/imamik/shipyard/internal/ui/benchmarks"
	"github.com/imamik/shipyard/internal/ui/tui"
)

func TestRun_Succeeds(t *testing.T) {
	path := writePipeline(t, shellPipeline)
	var out bytes.Buffer

	err := Run(context.Background(), RunOptions{PipelinePath: path, Out: &out})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "web #1")
	assert.Contains(t, out.String(), "Succeeded")

	out.Reset()
	require.NoError(t, Run(context.Background(), RunOptions{PipelinePath: path, Out: &out}))
	assert.Contains(t, out.String(), "web #2")
}

func TestRun_FailedStageSetsExitCode(t *testing.T) {
	path := writePipeline(t, failingPipeline)
	var out bytes.Buffer

	err := Run(context.Background(), RunOptions{PipelinePath: path, Out: &out})

	var exit *failure.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, failure.ExitCode(failure.KindExecutionError), exit.Code)
	assert.Contains(t, err.Error(), "at stage test")
	assert.Contains(t, out.String(), "failed at stage test")
}

func TestRun_InvalidPipeline(t *testing.T) {
	path := writePipeline(t, "id: web\nstages: []\n")

	err := Run(context.Background(), RunOptions{PipelinePath: path})

	var exit *failure.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, failure.ExitInternal, exit.Code)
}

func TestRun_TUI(t *testing.T) {
	path := writePipeline(t, shellPipeline)
	var timingsSeen benchmarks.Timings
	swap(t, &runLive, func(ctx context.Context, p *config.Pipeline, timings benchmarks.Timings, run tui.RunFunc) (*runstore.Record, error) {
		timingsSeen = timings
		return run(ctx, nil)
	})

	require.NoError(t, Run(context.Background(), RunOptions{PipelinePath: path, TUI: true}))
	assert.Empty(t, timingsSeen)

	require.NoError(t, Run(context.Background(), RunOptions{PipelinePath: path, TUI: true}))
	assert.Contains(t, timingsSeen, "test")
	assert.Contains(t, timingsSeen, "package")
}

const gatedShellPipeline = `id: web
servers:
  - name: web-runner
stages:
  - name: test
    action: shell
    run: echo hello
`

func TestRun_GatesOnServers(t *testing.T) {
	t.Run("ready servers let the run start", func(t *testing.T) {
		var checked []string
		withProvider(t, &provision.MockProvider{
			GetServerFunc: func(_ context.Context, name string) (*hcloud.Server, error) {
				checked = append(checked, name)
				server := &hcloud.Server{ID: 1, Name: name, Status: hcloud.ServerStatusRunning}
				server.PublicNet.IPv4.IP = net.ParseIP("203.0.113.10")
				return server, nil
			},
		})

		var out bytes.Buffer
		require.NoError(t, Run(context.Background(), RunOptions{PipelinePath: writePipeline(t, gatedShellPipeline), Out: &out}))

		assert.Equal(t, []string{"web-runner"}, checked)
		assert.Contains(t, out.String(), "Succeeded")
	})

	t.Run("a server in a terminal state starts no run", func(t *testing.T) {
		withProvider(t, &provision.MockProvider{
			GetServerFunc: func(_ context.Context, name string) (*hcloud.Server, error) {
				return &hcloud.Server{ID: 1, Name: name, Status: hcloud.ServerStatusOff}, nil
			},
		})
		path := writePipeline(t, gatedShellPipeline)

		err := Run(context.Background(), RunOptions{PipelinePath: path, Out: &bytes.Buffer{}})

		var exit *failure.ExitError
		require.ErrorAs(t, err, &exit)
		assert.Equal(t, failure.ExitProvisionError, exit.Code)

		store := runstore.New(runstore.NewFileBackend(filepath.Join(filepath.Dir(path), ".shipyard")))
		runs, err := store.List(context.Background(), "web")
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestRun_CollaboratorErrors(t *testing.T) {
	t.Run("gate without token", func(t *testing.T) {
		swap(t, &getenv, func(string) string { return "" })
		swap(t, &newCluster, func(config.ClusterConfig) (kubernetes.Interface, error) { return nil, nil })

		err := Run(context.Background(), RunOptions{PipelinePath: writePipeline(t, serverPipeline)})

		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvHCloudToken)
	})

	t.Run("cluster unreachable", func(t *testing.T) {
		swap(t, &newCluster, func(config.ClusterConfig) (kubernetes.Interface, error) {
			return nil, errors.New("no kubeconfig")
		})

		err := Run(context.Background(), RunOptions{PipelinePath: writePipeline(t, serverPipeline)})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to cluster")
	})

	t.Run("docker unreachable", func(t *testing.T) {
		swap(t, &newEngine, func() (ContainerEngine, error) { return nil, errors.New("no daemon") })

		err := Run(context.Background(), RunOptions{PipelinePath: writePipeline(t, "id: web\nimage:\n  name: ghcr.io/acme/web\nstages:\n  - name: build\n    action: build\n")})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to docker")
	})
}

func TestRunResult(t *testing.T) {
	tests := []struct {
		name string
		rec  *runstore.Record
		code int
	}{
		{"succeeded", &runstore.Record{Status: runstore.StatusSucceeded}, failure.ExitOK},
		{"cancelled", &runstore.Record{Status: runstore.StatusCancelled}, failure.ExitCancelled},
		{"failed without stage", &runstore.Record{Status: runstore.StatusFailed}, failure.ExitFailed},
		{
			"publish rejected",
			&runstore.Record{
				Status:      runstore.StatusFailed,
				FailedStage: "publish",
				Stages:      []runstore.StageRecord{{Name: "publish", Status: runstore.StageFailed, ErrorKind: failure.KindPublishRejected}},
			},
			failure.ExitPublishFailure,
		},
		{
			"degraded",
			&runstore.Record{
				Status:      runstore.StatusFailed,
				FailedStage: "deploy",
				Stages:      []runstore.StageRecord{{Name: "deploy", Status: runstore.StageFailed, ErrorKind: failure.KindRolloutDegraded}},
			},
			failure.ExitDegraded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runResult(tt.rec)
			if tt.code == failure.ExitOK {
				assert.NoError(t, err)
				return
			}
			var exit *failure.ExitError
			require.ErrorAs(t, err, &exit)
			assert.Equal(t, tt.code, exit.Code)
		})
	}
}
