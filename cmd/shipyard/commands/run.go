package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipyard/cmd/shipyard/handlers"
)

// Run returns the command that triggers a pipeline run.
//
// The pipeline file is taken from the argument, then --file, then
// shipyard.yaml in the working directory.
//
// Flags:
//
//	--file, -f: Path to the pipeline file
//	--tui: Show the live stage view
//	--metrics-addr: Serve Prometheus metrics while the run lasts
func Run() *cobra.Command {
	var (
		pipelinePath string
		useTUI       bool
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run [pipeline.yaml]",
		Short: "Run a pipeline",
		Long: `Run a pipeline and wait for it to finish.

Stages run once all stages they need have succeeded, up to the pipeline's
parallelism at a time. A failing stage skips everything that depends on it.
Only one run of a pipeline is active at a time; depending on trigger_policy
a second run is rejected or waits.

Interrupting the command (Ctrl+C, or q in the live view) cancels the run.

Exit codes:
  0   run succeeded
  1   invalid pipeline or internal error
  2   run failed
  3   a stage timed out
  4   provisioning error
  5   run cancelled
  10  build failure
  11  registry authentication failure
  12  publish failure
  13  degraded rollout

Example:
  shipyard run shipyard.yaml --tui`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pipelinePath = args[0]
			}
			return handlers.Run(cmd.Context(), handlers.RunOptions{
				PipelinePath: pipelinePath,
				TUI:          useTUI,
				MetricsAddr:  metricsAddr,
				Out:          cmd.OutOrStdout(),
			})
		},
	}

	addPipelineFlag(cmd, &pipelinePath)
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show live stage progress")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")

	return cmd
}
