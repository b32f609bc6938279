// Package provision talks to the cloud provider about the servers a pipeline
// runs against.
//
// The [Gate] only observes servers while a pipeline runs: [Gate.EnsureReady]
// waits for a named server to be running, addressed and (optionally)
// accepting connections, and never creates anything. Servers are created by
// an explicit [Gate.Provision] and removed by an explicit [Gate.Teardown].
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/util/async"
	"github.com/imamik/shipyard/internal/util/netutil"
)

// Endpoint is the observed state of a server.
type Endpoint struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	PublicIP string `json:"publicIp,omitempty"`
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
}

// StatusAbsent is reported for a server the provider does not know.
const StatusAbsent = "absent"

var errGateTimeout = errors.New("provisioning gate timed out")

// Gate waits for, creates and deletes servers through a Provider.
type Gate struct {
	provider     Provider
	observer     observe.Observer
	pipelineID   string
	pollInterval time.Duration
	dialTimeout  time.Duration
	checkPort    func(ctx context.Context, ip string, port int, timeout time.Duration) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithObserver reports polling and resource changes.
func WithObserver(o observe.Observer) GateOption {
	return func(g *Gate) {
		g.observer = observe.OrDiscard(o)
	}
}

// WithPipelineID labels created resources with the owning pipeline.
func WithPipelineID(id string) GateOption {
	return func(g *Gate) {
		g.pipelineID = id
	}
}

// WithPollInterval sets the interval between provider reads.
func WithPollInterval(d time.Duration) GateOption {
	return func(g *Gate) {
		g.pollInterval = d
	}
}

// WithDialTimeout bounds a single readiness dial.
func WithDialTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.dialTimeout = d
	}
}

// WithPortCheck replaces the TCP readiness probe.
func WithPortCheck(fn func(ctx context.Context, ip string, port int, timeout time.Duration) error) GateOption {
	return func(g *Gate) {
		g.checkPort = fn
	}
}

// NewGate creates a Gate over provider.
func NewGate(provider Provider, opts ...GateOption) *Gate {
	t := config.LoadTimeouts()
	g := &Gate{
		provider:     provider,
		observer:     observe.Discard,
		pollInterval: t.ServerPoll,
		dialTimeout:  t.DialTimeout,
		checkPort:    netutil.CheckPort,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureReady polls until the server named by spec is ready. A zero timeout
// falls back to the spec's own timeout.
//
// It fails with ProvisionTimeout when the server is not ready in time and
// with ProvisionError when the provider reports a terminal state or a
// non-retryable error.
func (g *Gate) EnsureReady(ctx context.Context, spec config.ServerSpec, timeout time.Duration) (*Endpoint, error) {
	op := "ensure server " + spec.Name
	if timeout <= 0 {
		timeout = spec.Timeout
	}
	if timeout <= 0 {
		timeout = config.DefaultServerTimeout
	}

	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errGateTimeout)
	defer cancel()

	start := time.Now()
	g.observer.Event(observe.Event{
		Type:     observe.EventEndpointWaiting,
		Resource: spec.Name,
		Message:  fmt.Sprintf("waiting up to %s for server", timeout),
	})

	last := &Endpoint{Name: spec.Name, Status: StatusAbsent}
	for {
		ep, err := g.check(ctx, spec)
		if err != nil {
			return nil, failure.New(failure.KindProvisionError, op, err)
		}
		if ep != nil {
			last = ep
		}
		if last.Ready {
			g.observer.Event(observe.Event{
				Type:     observe.EventEndpointReady,
				Resource: spec.Name,
				Message:  "server ready at " + last.PublicIP,
				Duration: time.Since(start),
			})
			return last, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), errGateTimeout) {
				return last, failure.New(failure.KindProvisionTimeout, op,
					fmt.Errorf("not ready after %s (last status %s)", timeout, last.Status))
			}
			return last, failure.New(failure.KindCancelled, op, ctx.Err())
		case <-time.After(g.pollInterval):
		}
	}
}

// check reads the server once. A nil endpoint and nil error means the read
// failed transiently.
func (g *Gate) check(ctx context.Context, spec config.ServerSpec) (*Endpoint, error) {
	server, err := g.provider.GetServer(ctx, spec.Name)
	if err != nil {
		if isPermanent(err) {
			return nil, err
		}
		if ctx.Err() == nil {
			g.observer.Event(observe.Event{
				Type:     observe.EventEndpointWaiting,
				Resource: spec.Name,
				Message:  "provider read failed, polling again",
				Err:      err,
			})
		}
		return nil, nil
	}
	if server == nil {
		return &Endpoint{Name: spec.Name, Status: StatusAbsent}, nil
	}

	ep := endpointOf(server)
	switch server.Status {
	case hcloud.ServerStatusOff, hcloud.ServerStatusDeleting:
		return nil, fmt.Errorf("server is %s", server.Status)
	case hcloud.ServerStatusRunning:
		if ep.PublicIP == "" {
			return ep, nil
		}
		if spec.ReadyPort > 0 {
			if err := g.checkPort(ctx, ep.PublicIP, spec.ReadyPort, g.dialTimeout); err != nil {
				return ep, nil
			}
		}
		ep.Ready = true
	}
	return ep, nil
}

// EnsureAllReady waits for every spec concurrently. Endpoints are returned
// in spec order; failures are joined.
func (g *Gate) EnsureAllReady(ctx context.Context, specs []config.ServerSpec, timeout time.Duration) ([]*Endpoint, error) {
	endpoints := make([]*Endpoint, len(specs))
	tasks := make([]async.Task, len(specs))
	for i, spec := range specs {
		tasks[i] = async.Task{
			Name: spec.Name,
			Func: func(ctx context.Context) error {
				ep, err := g.EnsureReady(ctx, spec, timeout)
				endpoints[i] = ep
				return err
			},
		}
	}
	if err := async.RunParallel(ctx, tasks, 0); err != nil {
		return endpoints, err
	}
	return endpoints, nil
}

func endpointOf(server *hcloud.Server) *Endpoint {
	ep := &Endpoint{
		ID:     server.ID,
		Name:   server.Name,
		Status: string(server.Status),
	}
	if ip := server.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		ep.PublicIP = ip.String()
	}
	return ep
}
