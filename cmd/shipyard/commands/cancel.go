package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Cancel returns the command that cancels an active run.
func Cancel() *cobra.Command {
	var pipelinePath string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an active run",
		Long: `Cancel an active run.

The request is recorded in the run store; the process driving the run picks
it up, skips all pending stages and cancels the running ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Cancel(cmd.Context(), pipelinePath, args[0], cmd.OutOrStdout())
		},
	}

	addPipelineFlag(cmd, &pipelinePath)

	return cmd
}
