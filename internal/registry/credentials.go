package registry

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/registry"
)

// Credentials authenticate against one registry for the duration of a
// single Publish call. They are never persisted.
type Credentials struct {
	ServerAddress string
	Username      string
	Password      string
	IdentityToken string
}

// Anonymous reports whether no secret was supplied.
func (c Credentials) Anonymous() bool {
	return c.Username == "" && c.Password == "" && c.IdentityToken == ""
}

// String redacts secrets so credentials can appear in logs and errors.
func (c Credentials) String() string {
	if c.Anonymous() {
		return fmt.Sprintf("anonymous@%s", c.ServerAddress)
	}
	return fmt.Sprintf("%s:***@%s", c.Username, c.ServerAddress)
}

func (c Credentials) authConfig() registry.AuthConfig {
	return registry.AuthConfig{
		Username:      c.Username,
		Password:      c.Password,
		IdentityToken: c.IdentityToken,
		ServerAddress: c.ServerAddress,
	}
}

// ServerFor returns the registry host an image name resolves to
// ("docker.io" for unqualified names).
func ServerFor(image string) (string, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", image, err)
	}
	return reference.Domain(named), nil
}
