package provision

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/util/retry"
)

// HCloud implements Provider on the Hetzner Cloud API.
type HCloud struct {
	client   *hcloud.Client
	timeouts *config.Timeouts
}

// HCloudOption configures an HCloud provider.
type HCloudOption func(*HCloud)

// WithTimeouts sets custom timeouts for the provider.
func WithTimeouts(t *config.Timeouts) HCloudOption {
	return func(c *HCloud) {
		c.timeouts = t
	}
}

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(hc *hcloud.Client) HCloudOption {
	return func(c *HCloud) {
		c.client = hc
	}
}

// NewHCloud creates a provider authenticated with token.
func NewHCloud(token string, opts ...HCloudOption) *HCloud {
	c := &HCloud{
		client:   hcloud.NewClient(hcloud.WithToken(token), hcloud.WithApplication("shipyard", "")),
		timeouts: config.LoadTimeouts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Provider = (*HCloud)(nil)

// GetServer implements Provider.
func (c *HCloud) GetServer(ctx context.Context, name string) (*hcloud.Server, error) {
	server, _, err := c.client.Server.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", name, err)
	}
	return server, nil
}

// CreateServer implements Provider. The request is sent once; a failed
// creation is reported, not retried.
func (c *HCloud) CreateServer(ctx context.Context, req ServerRequest) (*hcloud.Server, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.ServerCreate)
	defer cancel()

	keys := make([]*hcloud.SSHKey, 0, len(req.SSHKeys))
	for _, name := range req.SSHKeys {
		key, _, err := c.client.SSHKey.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get ssh key %s: %w", name, err)
		}
		if key == nil {
			return nil, fmt.Errorf("ssh key not found: %s", name)
		}
		keys = append(keys, key)
	}

	opts := hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: &hcloud.ServerType{Name: req.ServerType},
		Image:      &hcloud.Image{Name: req.Image},
		Location:   &hcloud.Location{Name: req.Location},
		SSHKeys:    keys,
		Labels:     req.Labels,
	}
	if req.FirewallID != 0 {
		opts.Firewalls = []*hcloud.ServerCreateFirewall{{Firewall: hcloud.Firewall{ID: req.FirewallID}}}
	}

	result, _, err := c.client.Server.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create server %s: %w", req.Name, err)
	}
	actions := append([]*hcloud.Action{result.Action}, result.NextActions...)
	if err := waitForActions(ctx, c.client, actions...); err != nil {
		return nil, fmt.Errorf("failed to wait for server %s: %w", req.Name, err)
	}
	return result.Server, nil
}

// DeleteServer implements Provider.
func (c *HCloud) DeleteServer(ctx context.Context, name string) error {
	return (&deleteOperation[*hcloud.Server]{
		name:         name,
		resourceType: "server",
		get:          c.client.Server.GetByName,
		delete: func(ctx context.Context, server *hcloud.Server) (*hcloud.Response, error) {
			result, resp, err := c.client.Server.DeleteWithResult(ctx, server)
			if err != nil {
				return resp, err
			}
			return resp, waitForActions(ctx, c.client, result.Action)
		},
	}).execute(ctx, c)
}

// EnsureFirewall implements Provider: an existing firewall gets its rules
// replaced, a missing one is created.
func (c *HCloud) EnsureFirewall(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string) (*hcloud.Firewall, error) {
	fw, _, err := c.client.Firewall.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get firewall %s: %w", name, err)
	}
	if fw != nil {
		actions, _, err := c.client.Firewall.SetRules(ctx, fw, hcloud.FirewallSetRulesOpts{Rules: rules})
		if err != nil {
			return nil, fmt.Errorf("failed to update firewall %s: %w", name, err)
		}
		if err := waitForActions(ctx, c.client, actions...); err != nil {
			return nil, fmt.Errorf("failed to wait for firewall %s update: %w", name, err)
		}
		return fw, nil
	}

	res, _, err := c.client.Firewall.Create(ctx, hcloud.FirewallCreateOpts{Name: name, Rules: rules, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("failed to create firewall %s: %w", name, err)
	}
	if err := waitForActions(ctx, c.client, res.Actions...); err != nil {
		return nil, fmt.Errorf("failed to wait for firewall %s creation: %w", name, err)
	}
	return res.Firewall, nil
}

// DeleteFirewall implements Provider.
func (c *HCloud) DeleteFirewall(ctx context.Context, name string) error {
	return (&deleteOperation[*hcloud.Firewall]{
		name:         name,
		resourceType: "firewall",
		get:          c.client.Firewall.Get,
		delete:       c.client.Firewall.Delete,
	}).execute(ctx, c)
}

// CreateVolume implements Provider. The volume is formatted and mounted on server.
func (c *HCloud) CreateVolume(ctx context.Context, name string, sizeGB int, server *hcloud.Server, labels map[string]string) (*hcloud.Volume, error) {
	res, _, err := c.client.Volume.Create(ctx, hcloud.VolumeCreateOpts{
		Name:      name,
		Size:      sizeGB,
		Server:    server,
		Labels:    labels,
		Automount: hcloud.Ptr(true),
		Format:    hcloud.Ptr("ext4"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	actions := append([]*hcloud.Action{res.Action}, res.NextActions...)
	if err := waitForActions(ctx, c.client, actions...); err != nil {
		return nil, fmt.Errorf("failed to wait for volume %s: %w", name, err)
	}
	return res.Volume, nil
}

// DeleteVolume implements Provider. Attached volumes are detached first.
func (c *HCloud) DeleteVolume(ctx context.Context, name string) error {
	return (&deleteOperation[*hcloud.Volume]{
		name:         name,
		resourceType: "volume",
		get:          c.client.Volume.Get,
		delete: func(ctx context.Context, v *hcloud.Volume) (*hcloud.Response, error) {
			if v.Server != nil {
				action, resp, err := c.client.Volume.Detach(ctx, v)
				if err != nil {
					return resp, err
				}
				if err := waitForActions(ctx, c.client, action); err != nil {
					return resp, err
				}
			}
			return c.client.Volume.Delete(ctx, v)
		},
	}).execute(ctx, c)
}

// EnsureSSHKey implements Provider.
func (c *HCloud) EnsureSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error) {
	key, _, err := c.client.SSHKey.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get ssh key %s: %w", name, err)
	}
	if key != nil {
		return key, nil
	}
	key, _, err = c.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{Name: name, PublicKey: publicKey, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh key %s: %w", name, err)
	}
	return key, nil
}

// DeleteSSHKey implements Provider.
func (c *HCloud) DeleteSSHKey(ctx context.Context, name string) error {
	return (&deleteOperation[*hcloud.SSHKey]{
		name:         name,
		resourceType: "ssh key",
		get:          c.client.SSHKey.Get,
		delete:       c.client.SSHKey.Delete,
	}).execute(ctx, c)
}

// deleteOperation deletes one named resource. It succeeds when the resource
// does not exist and retries while the resource is locked.
type deleteOperation[T any] struct {
	name         string
	resourceType string
	get          func(ctx context.Context, name string) (T, *hcloud.Response, error)
	delete       func(ctx context.Context, resource T) (*hcloud.Response, error)
}

func (op *deleteOperation[T]) execute(ctx context.Context, c *HCloud) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	return retry.WithExponentialBackoff(ctx, func() error {
		resource, _, err := op.get(ctx, op.name)
		if err != nil {
			return retry.Fatal(fmt.Errorf("failed to get %s %s: %w", op.resourceType, op.name, err))
		}
		if reflect.ValueOf(resource).IsNil() {
			return nil
		}
		if _, err := op.delete(ctx, resource); err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(fmt.Errorf("failed to delete %s %s: %w", op.resourceType, op.name, err))
		}
		return nil
	},
		retry.WithMaxRetries(c.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay))
}

// waitForActions waits for the non-nil actions to complete.
func waitForActions(ctx context.Context, client *hcloud.Client, actions ...*hcloud.Action) error {
	pending := actions[:0:0]
	for _, a := range actions {
		if a != nil {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return client.Action.WaitFor(ctx, pending...)
}
