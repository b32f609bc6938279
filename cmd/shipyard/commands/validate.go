package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Validate returns the command that checks a pipeline file.
func Validate() *cobra.Command {
	var pipelinePath string

	cmd := &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Check a pipeline file",
		Long: `Load a pipeline file, apply defaults and validate it, including that
stage dependencies form an acyclic graph. Nothing is contacted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pipelinePath = args[0]
			}
			return handlers.Validate(pipelinePath, cmd.OutOrStdout())
		},
	}

	addPipelineFlag(cmd, &pipelinePath)

	return cmd
}
