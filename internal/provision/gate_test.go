package provision

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
)

func server(name string, status hcloud.ServerStatus, ip string) *hcloud.Server {
	s := &hcloud.Server{ID: 42, Name: name, Status: status}
	if ip != "" {
		s.PublicNet.IPv4.IP = net.ParseIP(ip)
	}
	return s
}

// sequence returns the servers in order and repeats the last one.
func sequence(servers ...*hcloud.Server) func(context.Context, string) (*hcloud.Server, error) {
	var n atomic.Int32
	return func(context.Context, string) (*hcloud.Server, error) {
		i := int(n.Add(1)) - 1
		if i >= len(servers) {
			i = len(servers) - 1
		}
		return servers[i], nil
	}
}

func newTestGate(p Provider, opts ...GateOption) *Gate {
	opts = append([]GateOption{
		WithPollInterval(time.Millisecond),
		WithPortCheck(func(context.Context, string, int, time.Duration) error { return nil }),
	}, opts...)
	return NewGate(p, opts...)
}

func TestEnsureReady_BecomesReady(t *testing.T) {
	t.Parallel()

	p := &MockProvider{GetServerFunc: sequence(
		nil,
		server("web-1", hcloud.ServerStatusInitializing, ""),
		server("web-1", hcloud.ServerStatusRunning, ""),
		server("web-1", hcloud.ServerStatusRunning, "203.0.113.10"),
	)}
	rec := observe.NewRecorder()
	g := newTestGate(p, WithObserver(rec))

	ep, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ep.Ready)
	assert.Equal(t, int64(42), ep.ID)
	assert.Equal(t, "203.0.113.10", ep.PublicIP)
	assert.Equal(t, "running", ep.Status)

	assert.Len(t, rec.OfType(observe.EventEndpointWaiting), 1)
	assert.Len(t, rec.OfType(observe.EventEndpointReady), 1)
}

func TestEnsureReady_WaitsForPort(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	p := &MockProvider{GetServerFunc: sequence(server("web-1", hcloud.ServerStatusRunning, "203.0.113.10"))}
	g := newTestGate(p, WithPortCheck(func(_ context.Context, ip string, port int, _ time.Duration) error {
		assert.Equal(t, "203.0.113.10", ip)
		assert.Equal(t, 22, port)
		if dials.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}))

	ep, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1", ReadyPort: 22}, time.Second)
	require.NoError(t, err)
	assert.True(t, ep.Ready)
	assert.Equal(t, int32(3), dials.Load())
}

func TestEnsureReady_Timeout(t *testing.T) {
	t.Parallel()

	p := &MockProvider{GetServerFunc: sequence(server("web-1", hcloud.ServerStatusInitializing, ""))}
	g := newTestGate(p)

	ep, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, failure.KindProvisionTimeout, failure.KindOf(err))
	assert.Contains(t, err.Error(), "last status initializing")
	require.NotNil(t, ep)
	assert.False(t, ep.Ready)
}

func TestEnsureReady_AbsentServerTimesOut(t *testing.T) {
	t.Parallel()

	g := newTestGate(&MockProvider{})

	_, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, 20*time.Millisecond)
	assert.Equal(t, failure.KindProvisionTimeout, failure.KindOf(err))
	assert.Contains(t, err.Error(), "last status absent")
}

func TestEnsureReady_TerminalStates(t *testing.T) {
	t.Parallel()

	for _, status := range []hcloud.ServerStatus{hcloud.ServerStatusOff, hcloud.ServerStatusDeleting} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			p := &MockProvider{GetServerFunc: sequence(server("web-1", status, "203.0.113.10"))}
			g := newTestGate(p)

			_, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, time.Second)
			assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
			assert.Contains(t, err.Error(), string(status))
		})
	}
}

func TestEnsureReady_ProviderErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-retryable", func(t *testing.T) {
		t.Parallel()
		p := &MockProvider{GetServerFunc: func(context.Context, string) (*hcloud.Server, error) {
			return nil, hcloud.Error{Code: hcloud.ErrorCodeUnauthorized, Message: "unable to authenticate"}
		}}
		g := newTestGate(p)

		_, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, time.Second)
		assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
		assert.True(t, failure.IsTerminal(err))
	})

	t.Run("transient errors keep polling", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		p := &MockProvider{GetServerFunc: func(context.Context, string) (*hcloud.Server, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("connection reset by peer")
			}
			return server("web-1", hcloud.ServerStatusRunning, "203.0.113.10"), nil
		}}
		rec := observe.NewRecorder()
		g := newTestGate(p, WithObserver(rec))

		ep, err := g.EnsureReady(context.Background(), config.ServerSpec{Name: "web-1"}, time.Second)
		require.NoError(t, err)
		assert.True(t, ep.Ready)
		assert.Len(t, rec.OfType(observe.EventEndpointWaiting), 3)
	})
}

func TestEnsureReady_ParentCancelled(t *testing.T) {
	t.Parallel()

	p := &MockProvider{GetServerFunc: sequence(server("web-1", hcloud.ServerStatusStarting, ""))}
	g := newTestGate(p)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := g.EnsureReady(ctx, config.ServerSpec{Name: "web-1"}, time.Minute)
	assert.Equal(t, failure.KindCancelled, failure.KindOf(err))
}

func TestEnsureAllReady(t *testing.T) {
	t.Parallel()

	p := &MockProvider{GetServerFunc: func(_ context.Context, name string) (*hcloud.Server, error) {
		if name == "db-1" {
			return server(name, hcloud.ServerStatusOff, ""), nil
		}
		return server(name, hcloud.ServerStatusRunning, "203.0.113.10"), nil
	}}
	g := newTestGate(p)

	specs := []config.ServerSpec{{Name: "web-1"}, {Name: "db-1"}}
	endpoints, err := g.EnsureAllReady(context.Background(), specs, time.Second)
	require.Error(t, err)
	assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
	assert.Contains(t, err.Error(), "db-1")

	require.Len(t, endpoints, 2)
	require.NotNil(t, endpoints[0])
	assert.True(t, endpoints[0].Ready)
	assert.Nil(t, endpoints[1])
}

func TestProvision(t *testing.T) {
	t.Parallel()

	var created ServerRequest
	var volumeServer *hcloud.Server
	var fwLabels map[string]string
	p := &MockProvider{
		EnsureFirewallFunc: func(_ context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string) (*hcloud.Firewall, error) {
			assert.Equal(t, "web-1-firewall", name)
			require.Len(t, rules, 2)
			assert.Equal(t, hcloud.FirewallRuleProtocolTCP, rules[0].Protocol)
			assert.Equal(t, "22", *rules[0].Port)
			assert.Len(t, rules[0].SourceIPs, 2)
			assert.Nil(t, rules[1].Port)
			fwLabels = labels
			return &hcloud.Firewall{ID: 7, Name: name}, nil
		},
		CreateServerFunc: func(_ context.Context, req ServerRequest) (*hcloud.Server, error) {
			created = req
			return server(req.Name, hcloud.ServerStatusInitializing, "203.0.113.10"), nil
		},
		CreateVolumeFunc: func(_ context.Context, name string, size int, s *hcloud.Server, _ map[string]string) (*hcloud.Volume, error) {
			assert.Equal(t, "web-1-data", name)
			assert.Equal(t, 20, size)
			volumeServer = s
			return &hcloud.Volume{ID: 3, Name: name}, nil
		},
	}
	rec := observe.NewRecorder()
	g := newTestGate(p, WithObserver(rec), WithPipelineID("shop"))

	spec := config.ServerSpec{
		Name:       "web-1",
		Image:      "ubuntu-24.04",
		ServerType: "cx22",
		Location:   "nbg1",
		VolumeSize: 20,
		SSHKeys:    []string{"ops"},
		Firewall: []config.FirewallRule{
			{Protocol: "tcp", Port: "22"},
			{Protocol: "icmp", SourceIPs: []string{"10.0.0.0/8"}},
		},
		Labels: map[string]string{"team": "shop"},
	}

	ep, err := g.Provision(context.Background(), spec, "ssh-rsa AAAA test")
	require.NoError(t, err)
	assert.Equal(t, "web-1", ep.Name)
	assert.False(t, ep.Ready)

	assert.Equal(t, int64(7), created.FirewallID)
	assert.Equal(t, []string{"ops", "web-1-key"}, created.SSHKeys)
	assert.Equal(t, "cx22", created.ServerType)
	assert.Equal(t, "shop", created.Labels["shipyard.io/pipeline"])
	assert.Equal(t, "server", created.Labels["shipyard.io/kind"])
	assert.Equal(t, "shop", created.Labels["team"])
	assert.Equal(t, "firewall", fwLabels["shipyard.io/kind"])
	require.NotNil(t, volumeServer)
	assert.Equal(t, "web-1", volumeServer.Name)

	var kinds []string
	for _, e := range rec.OfType(observe.EventResourceCreated) {
		kinds = append(kinds, e.Fields["kind"])
	}
	assert.Equal(t, []string{"firewall", "ssh-key", "server", "volume"}, kinds)
}

func TestProvision_Errors(t *testing.T) {
	t.Parallel()

	t.Run("existing server", func(t *testing.T) {
		t.Parallel()
		p := &MockProvider{
			GetServerFunc: sequence(server("web-1", hcloud.ServerStatusRunning, "203.0.113.10")),
			CreateServerFunc: func(context.Context, ServerRequest) (*hcloud.Server, error) {
				t.Error("CreateServer must not be called")
				return nil, nil
			},
		}
		ep, err := newTestGate(p).Provision(context.Background(), config.ServerSpec{Name: "web-1"}, "")
		assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
		assert.Contains(t, err.Error(), "already exists")
		require.NotNil(t, ep)
		assert.Equal(t, "203.0.113.10", ep.PublicIP)
	})

	t.Run("invalid firewall source", func(t *testing.T) {
		t.Parallel()
		spec := config.ServerSpec{
			Name:     "web-1",
			Firewall: []config.FirewallRule{{Protocol: "tcp", Port: "80", SourceIPs: []string{"not-a-cidr"}}},
		}
		_, err := newTestGate(&MockProvider{}).Provision(context.Background(), spec, "")
		assert.Equal(t, failure.KindInvalidDefinition, failure.KindOf(err))
	})

	t.Run("create is not retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		p := &MockProvider{CreateServerFunc: func(context.Context, ServerRequest) (*hcloud.Server, error) {
			calls.Add(1)
			return nil, hcloud.Error{Code: hcloud.ErrorCodeResourceUnavailable, Message: "unavailable"}
		}}
		_, err := newTestGate(p).Provision(context.Background(), config.ServerSpec{Name: "web-1"}, "")
		assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestTeardown(t *testing.T) {
	t.Parallel()

	managed := server("web-1", hcloud.ServerStatusRunning, "203.0.113.10")
	managed.Labels = map[string]string{"shipyard.io/managed-by": "shipyard"}

	t.Run("deletes server and its resources", func(t *testing.T) {
		t.Parallel()
		var deleted []string
		record := func(_ context.Context, name string) error {
			deleted = append(deleted, name)
			return nil
		}
		p := &MockProvider{
			GetServerFunc:      sequence(managed),
			DeleteServerFunc:   record,
			DeleteVolumeFunc:   record,
			DeleteFirewallFunc: record,
			DeleteSSHKeyFunc:   record,
		}
		rec := observe.NewRecorder()

		require.NoError(t, newTestGate(p, WithObserver(rec)).Teardown(context.Background(), config.ServerSpec{Name: "web-1"}))
		assert.Equal(t, []string{"web-1", "web-1-data", "web-1-firewall", "web-1-key"}, deleted)
		assert.Len(t, rec.OfType(observe.EventResourceDeleted), 4)
	})

	t.Run("absent server", func(t *testing.T) {
		t.Parallel()
		p := &MockProvider{DeleteServerFunc: func(context.Context, string) error {
			t.Error("DeleteServer must not be called")
			return nil
		}}
		assert.NoError(t, newTestGate(p).Teardown(context.Background(), config.ServerSpec{Name: "web-1"}))
	})

	t.Run("unmanaged server", func(t *testing.T) {
		t.Parallel()
		p := &MockProvider{GetServerFunc: sequence(server("web-1", hcloud.ServerStatusRunning, ""))}
		err := newTestGate(p).Teardown(context.Background(), config.ServerSpec{Name: "web-1"})
		assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
		assert.Contains(t, err.Error(), "not managed")
	})

	t.Run("continues after a failed delete", func(t *testing.T) {
		t.Parallel()
		var sshKeyDeleted bool
		p := &MockProvider{
			GetServerFunc:      sequence(managed),
			DeleteFirewallFunc: func(context.Context, string) error { return errors.New("firewall still applied") },
			DeleteSSHKeyFunc: func(context.Context, string) error {
				sshKeyDeleted = true
				return nil
			},
		}
		err := newTestGate(p).Teardown(context.Background(), config.ServerSpec{Name: "web-1"})
		assert.Equal(t, failure.KindProvisionError, failure.KindOf(err))
		assert.Contains(t, err.Error(), "firewall still applied")
		assert.True(t, sshKeyDeleted)
	})
}
