// Package actions binds stage definitions to the components that carry
// them out: shell stages to the executor, build and publish stages to the
// container engine, deploy and rollback stages to the cluster and gate
// stages to the cloud provider.
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"k8s.io/client-go/kubernetes"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/executor"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/pipeline"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/registry"
)

// Environment variables that carry registry credentials.
const (
	EnvRegistryUsername = "SHIPYARD_REGISTRY_USERNAME"
	EnvRegistryPassword = "SHIPYARD_REGISTRY_PASSWORD"
	EnvRegistryToken    = "SHIPYARD_REGISTRY_TOKEN"
)

// CredentialsFunc resolves registry credentials for server at publish time.
type CredentialsFunc func(server string) registry.Credentials

// EnvCredentials reads credentials from SHIPYARD_REGISTRY_*.
func EnvCredentials(server string) registry.Credentials {
	return registry.Credentials{
		ServerAddress: server,
		Username:      os.Getenv(EnvRegistryUsername),
		Password:      os.Getenv(EnvRegistryPassword),
		IdentityToken: os.Getenv(EnvRegistryToken),
	}
}

// Runner executes stage attempts for one pipeline definition.
type Runner struct {
	pipeline *config.Pipeline
	engine   artifact.Engine
	registry registry.Client
	cluster  kubernetes.Interface
	provider provision.Provider
	creds    CredentialsFunc
	shell    []string
	gateOpts []provision.GateOption
}

var _ pipeline.Runner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithEngine sets the container engine used by build stages.
func WithEngine(e artifact.Engine) Option {
	return func(r *Runner) {
		r.engine = e
	}
}

// WithRegistryClient sets the engine endpoints used by publish stages.
func WithRegistryClient(c registry.Client) Option {
	return func(r *Runner) {
		r.registry = c
	}
}

// WithCluster sets the Kubernetes client used by deploy and rollback stages.
func WithCluster(c kubernetes.Interface) Option {
	return func(r *Runner) {
		r.cluster = c
	}
}

// WithProvider sets the cloud provider used by gate stages.
func WithProvider(p provision.Provider) Option {
	return func(r *Runner) {
		r.provider = p
	}
}

// WithCredentials replaces EnvCredentials.
func WithCredentials(fn CredentialsFunc) Option {
	return func(r *Runner) {
		r.creds = fn
	}
}

// WithShell replaces the interpreter of shell stages.
func WithShell(argv ...string) Option {
	return func(r *Runner) {
		r.shell = argv
	}
}

// WithGateOptions passes options to the provisioning gate of gate stages.
func WithGateOptions(opts ...provision.GateOption) Option {
	return func(r *Runner) {
		r.gateOpts = opts
	}
}

// New creates a Runner for p. Collaborators are optional; a stage whose
// collaborator is missing fails with InvalidDefinition.
func New(p *config.Pipeline, opts ...Option) *Runner {
	r := &Runner{pipeline: p, creds: EnvCredentials}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunStage implements pipeline.Runner.
func (r *Runner) RunStage(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	switch in.Stage.Action {
	case config.ActionShell:
		return r.runShell(ctx, in)
	case config.ActionBuild:
		return r.runBuild(ctx, in)
	case config.ActionPublish:
		return r.runPublish(ctx, in)
	case config.ActionDeploy:
		return r.runDeploy(ctx, in)
	case config.ActionRollback:
		return r.runRollback(ctx, in)
	case config.ActionGate:
		return r.runGate(ctx, in)
	default:
		return nil, failure.New(failure.KindInvalidDefinition, "stage "+in.Stage.Name,
			fmt.Errorf("unknown action %q", in.Stage.Action))
	}
}

func (r *Runner) runShell(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	opts := []executor.Option{executor.WithTailLines(r.pipeline.Image.LogTailLines)}
	if len(r.shell) > 0 {
		opts = append(opts, executor.WithShell(r.shell...))
	}

	out := newLineWriter(in.Observer)
	res, err := executor.New(opts...).Execute(ctx, executor.Command{
		Script: in.Stage.Run,
		Dir:    in.Stage.Dir,
		Env:    stageEnv(in),
		Output: out,
	})
	out.Flush()
	if err != nil {
		return nil, err
	}
	tail := executor.Tail(res.Stdout, r.pipeline.Image.LogTailLines)
	return &pipeline.Outcome{Output: tail}, nil
}

// stageEnv adds run context to the stage's own variables, which win.
func stageEnv(in pipeline.StageInput) map[string]string {
	env := map[string]string{
		"SHIPYARD_RUN_ID":       in.RunID,
		"SHIPYARD_PIPELINE":     in.PipelineID,
		"SHIPYARD_BUILD_NUMBER": strconv.Itoa(in.BuildNumber),
		"SHIPYARD_STAGE":        in.Stage.Name,
	}
	if in.Artifact != nil {
		env["SHIPYARD_IMAGE"] = in.Artifact.DeployRef()
	}
	for k, v := range in.Stage.Env {
		env[k] = v
	}
	return env
}

func (r *Runner) runBuild(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	if r.engine == nil {
		return nil, missing(in, "container engine")
	}
	img := r.pipeline.Image
	b := artifact.NewBuilder(r.engine,
		artifact.WithObserver(in.Observer),
		artifact.WithTailLines(img.LogTailLines),
	)
	art, err := b.Build(ctx, artifact.SourceRef{
		ContextDir: img.Context,
		Dockerfile: img.Dockerfile,
		BuildArgs:  img.BuildArgs,
	}, img.Name, in.BuildNumber)
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{Artifact: art, Output: art.VersionedRef}, nil
}

func (r *Runner) runPublish(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	if r.registry == nil {
		return nil, missing(in, "container engine")
	}
	art, err := requireArtifact(in)
	if err != nil {
		return nil, err
	}

	server := r.pipeline.Registry.Server
	if server == "" {
		if server, err = registry.ServerFor(art.Image); err != nil {
			return nil, failure.New(failure.KindInvalidDefinition, "publish", err)
		}
	}
	creds := r.creds(server)
	if creds.ServerAddress == "" {
		creds.ServerAddress = server
	}

	opts := []registry.Option{
		registry.WithObserver(in.Observer),
		registry.WithBackoff(r.pipeline.Registry.InitialBackoff, 0),
	}
	if r.pipeline.Registry.MaxRetries != nil {
		opts = append(opts, registry.WithMaxRetries(*r.pipeline.Registry.MaxRetries))
	}
	res, err := registry.NewPublisher(r.registry, opts...).Publish(ctx, art, creds)
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{Publish: res, Artifact: art, Output: art.DeployRef()}, nil
}

func (r *Runner) runDeploy(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	target, err := r.target(in)
	if err != nil {
		return nil, err
	}
	art, err := requireArtifact(in)
	if err != nil {
		return nil, err
	}
	res, err := deploy.NewDriver(r.cluster, deploy.WithObserver(in.Observer)).Deploy(ctx, target, art)
	return rolloutOutcome(res), err
}

func (r *Runner) runRollback(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	target, err := r.target(in)
	if err != nil {
		return nil, err
	}
	res, err := deploy.NewDriver(r.cluster, deploy.WithObserver(in.Observer)).Rollback(ctx, target, in.Stage.ToRevision)
	return rolloutOutcome(res), err
}

func (r *Runner) target(in pipeline.StageInput) (config.DeployTarget, error) {
	if r.cluster == nil {
		return config.DeployTarget{}, missing(in, "cluster client")
	}
	target, ok := r.pipeline.Target(in.Stage.Target)
	if !ok {
		return config.DeployTarget{}, failure.New(failure.KindInvalidDefinition, "stage "+in.Stage.Name,
			fmt.Errorf("unknown target %q", in.Stage.Target))
	}
	return target, nil
}

func rolloutOutcome(res *deploy.RolloutResult) *pipeline.Outcome {
	if res == nil {
		return nil
	}
	return &pipeline.Outcome{
		Rollout: res,
		Output: fmt.Sprintf("%s: %s (%d/%d ready)", res.Deployment, res.State,
			res.Replicas.Ready, res.Replicas.Desired),
	}
}

func (r *Runner) runGate(ctx context.Context, in pipeline.StageInput) (*pipeline.Outcome, error) {
	if r.provider == nil {
		return nil, missing(in, "cloud provider")
	}
	spec, ok := r.pipeline.Server(in.Stage.Target)
	if !ok {
		return nil, failure.New(failure.KindInvalidDefinition, "stage "+in.Stage.Name,
			fmt.Errorf("unknown server %q", in.Stage.Target))
	}

	opts := append([]provision.GateOption{
		provision.WithObserver(in.Observer),
		provision.WithPipelineID(in.PipelineID),
	}, r.gateOpts...)
	ep, err := provision.NewGate(r.provider, opts...).EnsureReady(ctx, spec, 0)
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{
		Endpoints: []*provision.Endpoint{ep},
		Output:    fmt.Sprintf("%s ready at %s", ep.Name, ep.PublicIP),
	}, nil
}

func requireArtifact(in pipeline.StageInput) (*artifact.Artifact, error) {
	if in.Artifact == nil {
		return nil, failure.New(failure.KindInvalidDefinition, "stage "+in.Stage.Name,
			errors.New("no artifact in this run; add a build stage to needs"))
	}
	return in.Artifact, nil
}

func missing(in pipeline.StageInput, what string) error {
	return failure.New(failure.KindInvalidDefinition, "stage "+in.Stage.Name,
		fmt.Errorf("%s action needs a %s, none is configured", in.Stage.Action, what))
}
