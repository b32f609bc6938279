package actions

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/pipeline"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/registry"
)

func int32Ptr(i int32) *int32 { return &i }

func buildContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\nCOPY . /app\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	return dir
}

func shopPipeline(t *testing.T) *config.Pipeline {
	t.Helper()
	p := &config.Pipeline{
		ID:    "shop",
		Image: config.ImageConfig{Name: "ghcr.io/imamik/web", Context: buildContext(t)},
		Targets: []config.DeployTarget{{
			Name:         "web",
			Namespace:    "shop",
			Container:    "web",
			Replicas:     int32Ptr(2),
			PollInterval: time.Millisecond,
			Timeout:      2 * time.Second,
		}},
		Servers: []config.ServerSpec{{Name: "edge-1", Timeout: time.Second}},
		Stages: []config.Stage{
			{Name: "build", Action: config.ActionBuild},
			{Name: "publish", Action: config.ActionPublish, Needs: []string{"build"}},
			{Name: "deploy", Action: config.ActionDeploy, Target: "web", Needs: []string{"publish"}},
		},
	}
	p.ApplyDefaults()
	return p
}

func staticCredentials(server string) registry.Credentials {
	return registry.Credentials{ServerAddress: server, Username: "ci", Password: "s3cret"}
}

func input(p *config.Pipeline, stage string) pipeline.StageInput {
	st, _ := p.Stage(stage)
	return pipeline.StageInput{RunID: "run-1", PipelineID: p.ID, BuildNumber: 7, Stage: st, Attempt: 1, Observer: observe.Discard}
}

func TestRunStage_Shell(t *testing.T) {
	t.Parallel()

	p := &config.Pipeline{ID: "shop", Stages: []config.Stage{{
		Name:   "test",
		Action: config.ActionShell,
		Run:    `echo start; echo build=$SHIPYARD_BUILD_NUMBER; echo "$GREETING"`,
		Dir:    t.TempDir(),
		Env:    map[string]string{"GREETING": "hello"},
	}}}
	p.ApplyDefaults()
	rec := observe.NewRecorder()
	in := input(p, "test")
	in.Observer = rec

	out, err := New(p).RunStage(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "start\nbuild=7\nhello", out.Output)
	var lines []string
	for _, e := range rec.OfType(observe.EventBuildLog) {
		lines = append(lines, e.Message)
	}
	assert.Equal(t, []string{"start", "build=7", "hello"}, lines)
}

func TestRunStage_ShellFailure(t *testing.T) {
	t.Parallel()

	p := &config.Pipeline{ID: "shop", Stages: []config.Stage{{
		Name: "test", Action: config.ActionShell, Run: "echo broken >&2; exit 3", Dir: t.TempDir(),
	}}}
	p.ApplyDefaults()

	_, err := New(p).RunStage(context.Background(), input(p, "test"))

	require.Error(t, err)
	assert.Equal(t, failure.KindExecutionError, failure.KindOf(err))
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Equal(t, "broken", failure.OutputOf(err))
}

func TestStageEnv(t *testing.T) {
	t.Parallel()

	in := pipeline.StageInput{
		RunID:       "run-1",
		PipelineID:  "shop",
		BuildNumber: 3,
		Stage:       config.Stage{Name: "smoke", Env: map[string]string{"SHIPYARD_STAGE": "custom"}},
		Artifact:    &artifact.Artifact{VersionedRef: "ghcr.io/imamik/web:3", RegistryDigest: "sha256:abc"},
	}
	env := stageEnv(in)

	assert.Equal(t, "run-1", env["SHIPYARD_RUN_ID"])
	assert.Equal(t, "shop", env["SHIPYARD_PIPELINE"])
	assert.Equal(t, "3", env["SHIPYARD_BUILD_NUMBER"])
	assert.Equal(t, "custom", env["SHIPYARD_STAGE"])
	assert.Equal(t, "ghcr.io/imamik/web:3@sha256:abc", env["SHIPYARD_IMAGE"])
}

func TestRunStage_Build(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	docker := newFakeDocker(buildStream)

	out, err := New(p, WithEngine(docker)).RunStage(context.Background(), input(p, "build"))

	require.NoError(t, err)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, "ghcr.io/imamik/web:7", out.Artifact.VersionedRef)
	assert.Equal(t, builtImageID, out.Artifact.ImageID)
	assert.Equal(t, [][2]string{{"ghcr.io/imamik/web:7", "ghcr.io/imamik/web:latest"}}, docker.tags)
}

func TestRunStage_Publish(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	docker := newFakeDocker(buildStream)
	in := input(p, "publish")
	in.Artifact = &artifact.Artifact{
		Image:        "ghcr.io/imamik/web",
		BuildNumber:  7,
		VersionedRef: "ghcr.io/imamik/web:7",
		LatestRef:    "ghcr.io/imamik/web:latest",
	}

	out, err := New(p, WithRegistryClient(docker), WithCredentials(staticCredentials)).RunStage(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, []string{"ghcr.io/imamik/web:7", "ghcr.io/imamik/web:latest"}, docker.pushed())
	require.Len(t, docker.logins, 1)
	assert.Equal(t, "ghcr.io", docker.logins[0].ServerAddress)
	assert.Equal(t, "ci", docker.logins[0].Username)
	assert.Equal(t, manifestDigest, out.Publish.Digest)
	assert.Equal(t, manifestDigest, out.Artifact.RegistryDigest)
}

func TestRunStage_MissingPrerequisites(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	tests := []struct {
		name   string
		runner *Runner
		stage  string
		want   string
	}{
		{name: "build without engine", runner: New(p), stage: "build", want: "container engine"},
		{name: "publish without artifact", runner: New(p, WithRegistryClient(newFakeDocker(""))), stage: "publish", want: "no artifact"},
		{name: "deploy without cluster", runner: New(p), stage: "deploy", want: "cluster client"},
		{name: "deploy without artifact", runner: New(p, WithCluster(healthyCluster())), stage: "deploy", want: "no artifact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.runner.RunStage(context.Background(), input(p, tt.stage))
			require.Error(t, err)
			assert.Equal(t, failure.KindInvalidDefinition, failure.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("unknown action", func(t *testing.T) {
		in := input(p, "build")
		in.Stage.Action = "teleport"
		_, err := New(p).RunStage(context.Background(), in)
		assert.Equal(t, failure.KindInvalidDefinition, failure.KindOf(err))
	})
}

func TestRunStage_Gate(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	p.Stages = append(p.Stages, config.Stage{Name: "edge", Action: config.ActionGate, Target: "edge-1"})
	provider := &provision.MockProvider{
		GetServerFunc: func(_ context.Context, name string) (*hcloud.Server, error) {
			s := &hcloud.Server{ID: 42, Name: name, Status: hcloud.ServerStatusRunning}
			s.PublicNet.IPv4.IP = net.ParseIP("203.0.113.10")
			return s, nil
		},
	}

	out, err := New(p, WithProvider(provider), WithGateOptions(provision.WithPollInterval(time.Millisecond))).
		RunStage(context.Background(), input(p, "edge"))

	require.NoError(t, err)
	require.Len(t, out.Endpoints, 1)
	assert.Equal(t, "203.0.113.10", out.Endpoints[0].PublicIP)
	assert.True(t, out.Endpoints[0].Ready)
	assert.Equal(t, "edge-1 ready at 203.0.113.10", out.Output)
}

func TestRunStage_GateNotReady(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	p.Stages = append(p.Stages, config.Stage{Name: "edge", Action: config.ActionGate, Target: "edge-1"})
	provider := &provision.MockProvider{
		GetServerFunc: func(_ context.Context, name string) (*hcloud.Server, error) {
			return &hcloud.Server{ID: 42, Name: name, Status: hcloud.ServerStatusOff}, nil
		},
	}

	_, err := New(p, WithProvider(provider)).RunStage(context.Background(), input(p, "edge"))

	require.Error(t, err)
	assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
}

func TestPipeline_BuildPublishDeploy(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	docker := newFakeDocker(buildStream)
	cluster := healthyCluster()
	runner := New(p,
		WithEngine(docker),
		WithRegistryClient(docker),
		WithCluster(cluster),
		WithCredentials(staticCredentials),
	)

	rec, err := pipeline.New(runner).Trigger(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, pipeline.StatusSucceeded, rec.Status, "stages: %+v", rec.Stages)
	require.NotNil(t, rec.Artifact)
	assert.Equal(t, "ghcr.io/imamik/web:1", rec.Artifact.VersionedRef)
	assert.Equal(t, manifestDigest, rec.Artifact.RegistryDigest)
	require.Len(t, rec.Rollouts, 1)
	assert.Equal(t, deploy.StateHealthy, rec.Rollouts[0].State)

	obj, err := cluster.Tracker().Get(deploymentsGVR, "shop", "web")
	require.NoError(t, err)
	dep := obj.(*appsv1.Deployment)
	assert.Equal(t, "ghcr.io/imamik/web:1@"+manifestDigest, dep.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "ghcr.io/imamik/web:1@"+manifestDigest, rec.Rollouts[0].Image)
}

func TestPipeline_BuildFailureStopsPublishAndDeploy(t *testing.T) {
	t.Parallel()

	p := shopPipeline(t)
	docker := newFakeDocker(failedBuildStream)
	cluster := healthyCluster()
	runner := New(p,
		WithEngine(docker),
		WithRegistryClient(docker),
		WithCluster(cluster),
		WithCredentials(staticCredentials),
	)

	rec, err := pipeline.New(runner).Trigger(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusFailed, rec.Status)
	assert.Equal(t, "build", rec.FailedStage)
	build, _ := rec.Stage("build")
	assert.Equal(t, failure.KindBuildFailure, build.ErrorKind)
	assert.Contains(t, build.Output, "RUN make: exit code 2")
	for _, name := range []string{"publish", "deploy"} {
		s, _ := rec.Stage(name)
		assert.Equal(t, pipeline.StageSkipped, s.Status, name)
	}

	assert.Empty(t, docker.pushed())
	assert.Empty(t, docker.logins)
	assert.Empty(t, cluster.Actions())
	assert.Nil(t, rec.Artifact)
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	rec := observe.NewRecorder()
	w := newLineWriter(rec)
	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\nthird"))
	w.Flush()

	var lines []string
	for _, e := range rec.Events() {
		lines = append(lines, e.Message)
	}
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv(EnvRegistryUsername, "ci")
	t.Setenv(EnvRegistryPassword, "s3cret")
	t.Setenv(EnvRegistryToken, "")

	c := EnvCredentials("ghcr.io")
	assert.Equal(t, "ci", c.Username)
	assert.Equal(t, "ghcr.io", c.ServerAddress)
	assert.False(t, c.Anonymous())
	assert.NotContains(t, c.String(), "s3cret")
}
