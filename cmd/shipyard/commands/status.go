package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Status returns the command that shows a recorded run.
func Status() *cobra.Command {
	var (
		pipelinePath string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the stages of a run",
		Long: `Show the status of a run from the run store.

Without a run id the most recent run of the pipeline is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}
			return handlers.Status(cmd.Context(), pipelinePath, runID, output, cmd.OutOrStdout())
		},
	}

	addPipelineFlag(cmd, &pipelinePath)
	cmd.Flags().StringVarP(&output, "output", "o", handlers.FormatTable, "Output format (table, yaml)")

	return cmd
}
