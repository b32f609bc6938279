package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/provision"
	"github.com/imamik/shipyard/internal/util/keygen"
	"github.com/imamik/shipyard/internal/util/naming"
)

// ProvisionOptions controls the provision and teardown commands.
type ProvisionOptions struct {
	PipelinePath string
	// Server limits the command to one server; empty means all.
	Server string
	// PublicKeyPath is an OpenSSH public key to register instead of a generated one.
	PublicKeyPath string
	// Wait blocks until each server passes the readiness gate.
	Wait bool
	Out  io.Writer
}

// Factory function variables for provision - can be replaced in tests.
var (
	// generateKeyPair creates the SSH key pair for a server.
	generateKeyPair = keygen.GenerateRSAKeyPair
)

// Provision creates the pipeline's servers. When neither a public key nor
// existing Hetzner Cloud SSH keys are given, a key pair is generated and its
// private half is written next to the pipeline file.
func Provision(ctx context.Context, opts ProvisionOptions) error {
	p, err := load(opts.PipelinePath)
	if err != nil {
		return err
	}
	specs, err := findServers(p, opts.Server)
	if err != nil {
		return err
	}
	provider, err := hcloudProvider()
	if err != nil {
		return err
	}
	gate := provision.NewGate(provider,
		provision.WithObserver(logObserver(ctx)),
		provision.WithPipelineID(p.ID),
	)

	var publicKey string
	if opts.PublicKeyPath != "" {
		// #nosec G304
		data, err := os.ReadFile(opts.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}
		publicKey = string(data)
	}

	endpoints := make([]*provision.Endpoint, 0, len(specs))
	for _, spec := range specs {
		key := publicKey
		if key == "" && len(spec.SSHKeys) == 0 {
			key, err = writeKeyPair(filepath.Dir(opts.PipelinePath), spec.Name, opts.Out)
			if err != nil {
				return err
			}
		}

		ep, err := gate.Provision(ctx, spec, key)
		if err != nil {
			return exitError(err)
		}
		endpoints = append(endpoints, ep)
	}

	if opts.Wait {
		// Each spec's own timeout applies.
		endpoints, err = gate.EnsureAllReady(ctx, specs, 0)
		if err != nil {
			return exitError(err)
		}
	}
	for _, ep := range endpoints {
		printEndpoint(opts.Out, ep)
	}
	return nil
}

// Teardown deletes the pipeline's servers and the resources created with them.
func Teardown(ctx context.Context, opts ProvisionOptions) error {
	p, err := load(opts.PipelinePath)
	if err != nil {
		return err
	}
	specs, err := findServers(p, opts.Server)
	if err != nil {
		return err
	}
	provider, err := hcloudProvider()
	if err != nil {
		return err
	}
	gate := provision.NewGate(provider,
		provision.WithObserver(logObserver(ctx)),
		provision.WithPipelineID(p.ID),
	)

	var errs []error
	for _, spec := range specs {
		if err := gate.Teardown(ctx, spec); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(opts.Out, "Server %s deleted\n", spec.Name)
	}
	return exitError(errors.Join(errs...))
}

// writeKeyPair generates a key pair for server and stores the private key
// with 0600 permissions. An existing key file is never overwritten.
func writeKeyPair(dir, server string, out io.Writer) (string, error) {
	path := filepath.Join(dir, naming.PrivateKeyFile(server))
	if _, err := os.Stat(path); err == nil {
		return "", &failure.ExitError{
			Code: failure.ExitInternal,
			Err:  fmt.Errorf("private key %s already exists: pass --public-key or remove it", path),
		}
	}

	kp, err := generateKeyPair(keygen.DefaultRSABits, "shipyard-"+server)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, kp.PrivateKey, 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	fmt.Fprintf(out, "Generated SSH key %s (%s)\n", path, kp.Fingerprint)
	return string(kp.PublicKey), nil
}

func printEndpoint(out io.Writer, ep *provision.Endpoint) {
	state := ep.Status
	if ep.Ready {
		state = "ready"
	}
	ip := ep.PublicIP
	if ip == "" {
		ip = "-"
	}
	fmt.Fprintf(out, "Server %s: %s (%s)\n", ep.Name, state, ip)
}
