package provision

import (
	"context"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// MockProvider is a mock implementation of Provider. Unset functions
// succeed with zero values; GetServer reports no server.
type MockProvider struct {
	GetServerFunc    func(ctx context.Context, name string) (*hcloud.Server, error)
	CreateServerFunc func(ctx context.Context, req ServerRequest) (*hcloud.Server, error)
	DeleteServerFunc func(ctx context.Context, name string) error

	EnsureFirewallFunc func(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string) (*hcloud.Firewall, error)
	DeleteFirewallFunc func(ctx context.Context, name string) error

	CreateVolumeFunc func(ctx context.Context, name string, sizeGB int, server *hcloud.Server, labels map[string]string) (*hcloud.Volume, error)
	DeleteVolumeFunc func(ctx context.Context, name string) error

	EnsureSSHKeyFunc func(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error)
	DeleteSSHKeyFunc func(ctx context.Context, name string) error
}

var _ Provider = (*MockProvider)(nil)

// GetServer implements Provider.
func (m *MockProvider) GetServer(ctx context.Context, name string) (*hcloud.Server, error) {
	if m.GetServerFunc != nil {
		return m.GetServerFunc(ctx, name)
	}
	return nil, nil
}

// CreateServer implements Provider.
func (m *MockProvider) CreateServer(ctx context.Context, req ServerRequest) (*hcloud.Server, error) {
	if m.CreateServerFunc != nil {
		return m.CreateServerFunc(ctx, req)
	}
	return &hcloud.Server{ID: 1, Name: req.Name, Status: hcloud.ServerStatusInitializing, Labels: req.Labels}, nil
}

// DeleteServer implements Provider.
func (m *MockProvider) DeleteServer(ctx context.Context, name string) error {
	if m.DeleteServerFunc != nil {
		return m.DeleteServerFunc(ctx, name)
	}
	return nil
}

// EnsureFirewall implements Provider.
func (m *MockProvider) EnsureFirewall(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string) (*hcloud.Firewall, error) {
	if m.EnsureFirewallFunc != nil {
		return m.EnsureFirewallFunc(ctx, name, rules, labels)
	}
	return &hcloud.Firewall{ID: 1, Name: name, Rules: rules, Labels: labels}, nil
}

// DeleteFirewall implements Provider.
func (m *MockProvider) DeleteFirewall(ctx context.Context, name string) error {
	if m.DeleteFirewallFunc != nil {
		return m.DeleteFirewallFunc(ctx, name)
	}
	return nil
}

// CreateVolume implements Provider.
func (m *MockProvider) CreateVolume(ctx context.Context, name string, sizeGB int, server *hcloud.Server, labels map[string]string) (*hcloud.Volume, error) {
	if m.CreateVolumeFunc != nil {
		return m.CreateVolumeFunc(ctx, name, sizeGB, server, labels)
	}
	return &hcloud.Volume{ID: 1, Name: name, Size: sizeGB, Server: server, Labels: labels}, nil
}

// DeleteVolume implements Provider.
func (m *MockProvider) DeleteVolume(ctx context.Context, name string) error {
	if m.DeleteVolumeFunc != nil {
		return m.DeleteVolumeFunc(ctx, name)
	}
	return nil
}

// EnsureSSHKey implements Provider.
func (m *MockProvider) EnsureSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error) {
	if m.EnsureSSHKeyFunc != nil {
		return m.EnsureSSHKeyFunc(ctx, name, publicKey, labels)
	}
	return &hcloud.SSHKey{ID: 1, Name: name, PublicKey: publicKey, Labels: labels}, nil
}

// DeleteSSHKey implements Provider.
func (m *MockProvider) DeleteSSHKey(ctx context.Context, name string) error {
	if m.DeleteSSHKeyFunc != nil {
		return m.DeleteSSHKeyFunc(ctx, name)
	}
	return nil
}
