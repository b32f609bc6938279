package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Rollback returns the command that returns a deploy target to an earlier revision.
func Rollback() *cobra.Command {
	var (
		pipelinePath string
		toRevision   int64
		history      bool
	)

	cmd := &cobra.Command{
		Use:   "rollback <target>",
		Short: "Roll a deploy target back to an earlier revision",
		Long: `Roll a deploy target back and wait until the rollout settles.

Without --to-revision the target returns to the revision before the
current one. Use --history to list the available revisions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := handlers.RollbackOptions{
				PipelinePath: pipelinePath,
				Target:       args[0],
				History:      history,
				Out:          cmd.OutOrStdout(),
			}
			if cmd.Flags().Changed("to-revision") {
				if toRevision < 1 {
					return fmt.Errorf("--to-revision must be positive, got %d", toRevision)
				}
				opts.ToRevision = &toRevision
			}
			return handlers.Rollback(cmd.Context(), opts)
		},
	}

	addPipelineFlag(cmd, &pipelinePath)
	cmd.Flags().Int64Var(&toRevision, "to-revision", 0, "Revision to roll back to (default: previous revision)")
	cmd.Flags().BoolVar(&history, "history", false, "List revisions instead of rolling back")

	return cmd
}
