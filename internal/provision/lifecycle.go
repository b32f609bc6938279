package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/util/labels"
	"github.com/imamik/shipyard/internal/util/naming"
)

// Provision creates the server described by spec: its firewall, an SSH key
// for publicKey when one is given, the server itself and its volume. Each
// request is sent once. An existing server is an error, so a half-finished
// provisioning can be repeated after the server has been removed.
func (g *Gate) Provision(ctx context.Context, spec config.ServerSpec, publicKey string) (*Endpoint, error) {
	op := "provision server " + spec.Name

	rules, err := firewallRules(spec.Firewall)
	if err != nil {
		return nil, failure.New(failure.KindInvalidDefinition, op, err)
	}

	existing, err := g.provider.GetServer(ctx, spec.Name)
	if err != nil {
		return nil, g.provisionError(ctx, op, err)
	}
	if existing != nil {
		return endpointOf(existing), failure.New(failure.KindProvisionError, op, errors.New("server already exists"))
	}

	req := ServerRequest{
		Name:       spec.Name,
		Image:      spec.Image,
		ServerType: spec.ServerType,
		Location:   spec.Location,
		SSHKeys:    append([]string(nil), spec.SSHKeys...),
		Labels:     g.labels(spec, labels.KindServer),
	}

	if len(rules) > 0 {
		name := naming.Firewall(spec.Name)
		done := g.creating(labels.KindFirewall, name)
		fw, err := g.provider.EnsureFirewall(ctx, name, rules, g.labels(spec, labels.KindFirewall))
		if err != nil {
			return nil, g.provisionError(ctx, op, err)
		}
		done()
		req.FirewallID = fw.ID
	}

	if publicKey != "" {
		name := naming.SSHKey(spec.Name)
		done := g.creating(labels.KindSSHKey, name)
		if _, err := g.provider.EnsureSSHKey(ctx, name, publicKey, g.labels(spec, labels.KindSSHKey)); err != nil {
			return nil, g.provisionError(ctx, op, err)
		}
		done()
		req.SSHKeys = append(req.SSHKeys, name)
	}

	done := g.creating(labels.KindServer, spec.Name)
	server, err := g.provider.CreateServer(ctx, req)
	if err != nil {
		return nil, g.provisionError(ctx, op, err)
	}
	done()

	if spec.VolumeSize > 0 {
		name := naming.Volume(spec.Name)
		done := g.creating(labels.KindVolume, name)
		if _, err := g.provider.CreateVolume(ctx, name, spec.VolumeSize, server, g.labels(spec, labels.KindVolume)); err != nil {
			return endpointOf(server), g.provisionError(ctx, op, err)
		}
		done()
	}

	return endpointOf(server), nil
}

// Teardown deletes the server described by spec together with its volume,
// firewall and generated SSH key. A server not labelled as managed by
// shipyard is left alone. Missing resources are not an error.
func (g *Gate) Teardown(ctx context.Context, spec config.ServerSpec) error {
	op := "teardown server " + spec.Name

	server, err := g.provider.GetServer(ctx, spec.Name)
	if err != nil {
		return g.provisionError(ctx, op, err)
	}
	if server != nil && server.Labels[labels.KeyManagedBy] != labels.ManagedByShipyard {
		return failure.New(failure.KindProvisionError, op, errors.New("server is not managed by shipyard"))
	}

	steps := []struct {
		kind, name string
		del        func(context.Context, string) error
	}{
		{labels.KindServer, spec.Name, g.provider.DeleteServer},
		{labels.KindVolume, naming.Volume(spec.Name), g.provider.DeleteVolume},
		{labels.KindFirewall, naming.Firewall(spec.Name), g.provider.DeleteFirewall},
		{labels.KindSSHKey, naming.SSHKey(spec.Name), g.provider.DeleteSSHKey},
	}
	if server == nil {
		steps = steps[1:]
	}

	var errs []error
	for _, s := range steps {
		g.observer.Event(observe.Event{
			Type:     observe.EventResourceDeleting,
			Resource: s.name,
			Fields:   map[string]string{"kind": s.kind},
		})
		if err := s.del(ctx, s.name); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", s.kind, s.name, err))
			continue
		}
		g.observer.Event(observe.Event{
			Type:     observe.EventResourceDeleted,
			Resource: s.name,
			Fields:   map[string]string{"kind": s.kind},
		})
	}
	if len(errs) > 0 {
		return g.provisionError(ctx, op, errors.Join(errs...))
	}
	return nil
}

func (g *Gate) labels(spec config.ServerSpec, kind string) map[string]string {
	return labels.NewLabelBuilder(g.pipelineID).
		WithServer(spec.Name).
		WithKind(kind).
		Merge(spec.Labels).
		Build()
}

// creating emits resource.creating and returns a func that emits
// resource.created.
func (g *Gate) creating(kind, name string) func() {
	start := time.Now()
	fields := map[string]string{"kind": kind}
	g.observer.Event(observe.Event{Type: observe.EventResourceCreating, Resource: name, Fields: fields})
	return func() {
		g.observer.Event(observe.Event{
			Type:     observe.EventResourceCreated,
			Resource: name,
			Duration: time.Since(start),
			Fields:   fields,
		})
	}
}

func (g *Gate) provisionError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return failure.New(failure.KindCancelled, op, err)
	}
	return failure.New(failure.KindProvisionError, op, err)
}

// firewallRules converts inbound rules. Rules without source addresses are
// open to any IPv4 and IPv6 address.
func firewallRules(rules []config.FirewallRule) ([]hcloud.FirewallRule, error) {
	out := make([]hcloud.FirewallRule, 0, len(rules))
	for _, r := range rules {
		sources := r.SourceIPs
		if len(sources) == 0 {
			sources = []string{"0.0.0.0/0", "::/0"}
		}
		nets := make([]net.IPNet, 0, len(sources))
		for _, s := range sources {
			_, n, err := net.ParseCIDR(s)
			if err != nil {
				return nil, fmt.Errorf("firewall source %q: %w", s, err)
			}
			nets = append(nets, *n)
		}
		rule := hcloud.FirewallRule{
			Direction: hcloud.FirewallRuleDirectionIn,
			Protocol:  hcloud.FirewallRuleProtocol(r.Protocol),
			SourceIPs: nets,
		}
		if r.Port != "" {
			rule.Port = hcloud.Ptr(r.Port)
		}
		out = append(out, rule)
	}
	return out, nil
}
