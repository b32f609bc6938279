package provision

import (
	"context"
	"errors"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Provider is the cloud API the gate talks to.
type Provider interface {
	// GetServer returns the named server, or nil when it does not exist.
	GetServer(ctx context.Context, name string) (*hcloud.Server, error)
	CreateServer(ctx context.Context, req ServerRequest) (*hcloud.Server, error)
	DeleteServer(ctx context.Context, name string) error

	EnsureFirewall(ctx context.Context, name string, rules []hcloud.FirewallRule, labels map[string]string) (*hcloud.Firewall, error)
	DeleteFirewall(ctx context.Context, name string) error

	CreateVolume(ctx context.Context, name string, sizeGB int, server *hcloud.Server, labels map[string]string) (*hcloud.Volume, error)
	DeleteVolume(ctx context.Context, name string) error

	EnsureSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error)
	DeleteSSHKey(ctx context.Context, name string) error
}

// ServerRequest is everything needed to create one server.
type ServerRequest struct {
	Name       string
	Image      string
	ServerType string
	Location   string
	SSHKeys    []string
	FirewallID int64
	Labels     map[string]string
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}
	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// isResourceLocked reports errors worth retrying on deletion: the resource
// is busy with another action.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// isPermanent reports API errors that polling again will not fix.
func isPermanent(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeUnauthorized,
		hcloud.ErrorCodeForbidden,
		hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeInvalidServerType,
		hcloud.ErrorCodeResourceLimitExceeded,
		hcloud.ErrorCodeUniquenessError,
	)
}
