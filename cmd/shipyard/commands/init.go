package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
	"github.com/imamik/shipyard/internal/config"
)

// Init returns the command for interactively creating a pipeline file.
//
// Flags:
//
//	--output, -o: Path to output file (default "shipyard.yaml")
//	--force: Overwrite an existing file without asking
func Init() *cobra.Command {
	var (
		outputPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a pipeline file",
		Long: `Interactively create a pipeline file.

The wizard asks about:

  - Pipeline id and what happens to overlapping triggers
  - The image to build
  - Optional test, publish, deploy and server gate stages
  - Deploy target and degraded rollout policy
  - Where run records are stored`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), outputPath, force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", config.DefaultPipelineFile, "Output file path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file without asking")

	return cmd
}
