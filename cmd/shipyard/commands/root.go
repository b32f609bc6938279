// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// Root returns the root command for the shipyard CLI.
//
// The root command owns the logging flags and puts the configured logger
// into the context every subcommand runs with.
func Root() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "shipyard",
		Short:         "Build, publish and deploy container images through declarative pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(logLevel, logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cmd.SetContext(logr.NewContext(cmd.Context(), log))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", formatAuto, "Log format (auto, console, json)")

	// Pipeline commands
	cmd.AddCommand(Run())
	cmd.AddCommand(Status())
	cmd.AddCommand(Cancel())
	cmd.AddCommand(Rollback())
	cmd.AddCommand(Validate())
	cmd.AddCommand(Init())

	// Infrastructure commands
	cmd.AddCommand(Provision())
	cmd.AddCommand(Teardown())

	cmd.AddCommand(Version())

	return cmd
}

// addPipelineFlag binds the pipeline file flag shared by most commands.
func addPipelineFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "file", "f", "", "Path to the pipeline file (default \"shipyard.yaml\")")
}
