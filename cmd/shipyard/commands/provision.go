package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Provision returns the command that creates the pipeline's servers.
func Provision() *cobra.Command {
	var opts handlers.ProvisionOptions

	cmd := &cobra.Command{
		Use:   "provision [server]",
		Short: "Create the servers a pipeline depends on",
		Long: `Create servers on Hetzner Cloud as declared in the pipeline file.

For each server a firewall is created from its rules, followed by the server
and, when volume_size is set, a volume. Requests are sent once; a server
that already exists is an error.

Unless --public-key or ssh_keys are given, an RSA key pair is generated and
the private key is written next to the pipeline file as <server>_id_rsa.

Requires HCLOUD_TOKEN.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Server = args[0]
			}
			opts.Out = cmd.OutOrStdout()
			return handlers.Provision(cmd.Context(), opts)
		},
	}

	addPipelineFlag(cmd, &opts.PipelinePath)
	cmd.Flags().StringVar(&opts.PublicKeyPath, "public-key", "", "OpenSSH public key to register instead of generating one")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "Wait until each server is ready")

	return cmd
}

// Teardown returns the command that deletes the pipeline's servers.
func Teardown() *cobra.Command {
	var opts handlers.ProvisionOptions

	cmd := &cobra.Command{
		Use:   "teardown [server]",
		Short: "Delete the servers a pipeline depends on",
		Long: `Delete servers created by shipyard provision together with their
volume, firewall and SSH key. Servers not labelled as managed by shipyard
are refused.

Requires HCLOUD_TOKEN.

WARNING: This operation is irreversible.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Server = args[0]
			}
			opts.Out = cmd.OutOrStdout()
			return handlers.Teardown(cmd.Context(), opts)
		},
	}

	addPipelineFlag(cmd, &opts.PipelinePath)

	return cmd
}
