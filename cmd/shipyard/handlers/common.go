// Package handlers implements the business logic for CLI commands.
//
// Each handler loads the pipeline definition, wires the collaborators the
// command needs and reports through the logger carried in the context.
// Collaborator constructors are package variables so tests can swap them.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/pipeline"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/registry"
	"github.com/imamik/shipyard/internal/runstore"
)

// EnvHCloudToken holds the Hetzner Cloud API token.
const EnvHCloudToken = "HCLOUD_TOKEN"

// RunStore is the part of the run store the CLI uses.
type RunStore interface {
	pipeline.Store
	Load(ctx context.Context, runID string) (*runstore.Record, error)
	List(ctx context.Context, pipelineID string) ([]*runstore.Record, error)
	RequestCancel(ctx context.Context, runID string) (*runstore.Record, error)
}

// ContainerEngine builds images and talks to registries.
type ContainerEngine interface {
	artifact.Engine
	registry.Client
}

// Factory function variables - can be replaced in tests.
var (
	// loadPipeline reads and validates a pipeline file.
	loadPipeline = config.LoadFile

	// openStore opens the run store configured by the pipeline.
	openStore = func(ctx context.Context, cfg config.StoreConfig) (RunStore, error) {
		return runstore.Open(ctx, cfg)
	}

	// newEngine connects to the local Docker daemon.
	newEngine = func() (ContainerEngine, error) {
		c, err := artifact.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	// newCluster builds a Kubernetes clientset.
	newCluster = func(cfg config.ClusterConfig) (kubernetes.Interface, error) {
		return deploy.NewClientset(cfg.Kubeconfig, cfg.Context)
	}

	// newProvider creates a Hetzner Cloud provider.
	newProvider = func(token string) provision.Provider {
		return provision.NewHCloud(token)
	}

	// getenv reads environment variables.
	getenv = os.Getenv
)

// load reads the pipeline file and classifies failures as invalid definitions.
func load(path string) (*config.Pipeline, error) {
	if path == "" {
		found, err := config.FindPipelineFile()
		if err != nil {
			return nil, &failure.ExitError{Code: failure.ExitInternal, Err: err}
		}
		path = found
	}
	p, err := loadPipeline(path)
	if err != nil {
		return nil, &failure.ExitError{Code: failure.ExitInternal, Err: err}
	}
	return p, nil
}

// logObserver reports events through the context's logger.
func logObserver(ctx context.Context) observe.Observer {
	return observe.NewLogObserver(logr.FromContextOrDiscard(ctx))
}

// hcloudProvider returns the provider for servers, failing early without a token.
func hcloudProvider() (provision.Provider, error) {
	token := getenv(EnvHCloudToken)
	if token == "" {
		return nil, &failure.ExitError{
			Code: failure.ExitInternal,
			Err:  fmt.Errorf("%s environment variable is required", EnvHCloudToken),
		}
	}
	return newProvider(token), nil
}

// exitError attaches the exit code of err's kind.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exit *failure.ExitError
	if errors.As(err, &exit) {
		return err
	}
	return &failure.ExitError{Code: failure.ExitCode(failure.KindOf(err)), Err: err}
}

// findServers returns the named server, or every server when name is empty.
func findServers(p *config.Pipeline, name string) ([]config.ServerSpec, error) {
	if name == "" {
		if len(p.Servers) == 0 {
			return nil, &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("pipeline %s declares no servers", p.ID)}
		}
		return p.Servers, nil
	}
	spec, ok := p.Server(name)
	if !ok {
		return nil, &failure.ExitError{Code: failure.ExitInternal, Err: fmt.Errorf("pipeline %s has no server %q", p.ID, name)}
	}
	return []config.ServerSpec{spec}, nil
}
