package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/config/wizard"
)

// Factory function variables for init - can be replaced in tests.
var (
	// runWizard asks the init questions.
	runWizard = wizard.RunWizard

	// confirmOverwrite asks before replacing an existing file.
	confirmOverwrite = wizard.ConfirmOverwrite
)

// Init runs the pipeline wizard and writes the result to outputPath.
func Init(ctx context.Context, outputPath string, force bool, out io.Writer) error {
	if !force && wizard.FileExists(outputPath) {
		ok, err := confirmOverwrite(outputPath)
		if err != nil {
			return fmt.Errorf("failed to confirm overwrite: %w", err)
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	result, err := runWizard(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	p := wizard.BuildPipeline(result)
	if err := wizard.WritePipeline(p, outputPath); err != nil {
		return fmt.Errorf("failed to write pipeline: %w", err)
	}

	printInitSuccess(out, outputPath, p)
	return nil
}

// printInitSuccess prints the summary and next steps.
func printInitSuccess(out io.Writer, outputPath string, p *config.Pipeline) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pipeline saved!")
	fmt.Fprintf(out, "  File: %s\n", outputPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Stages")
	fmt.Fprintln(out, "------")
	for _, s := range p.Stages {
		fmt.Fprintf(out, "  %-8s %s\n", s.Name, s.Action)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Next Steps")
	fmt.Fprintln(out, "----------")
	fmt.Fprintf(out, "  1. Review %s if needed\n", outputPath)
	fmt.Fprintf(out, "  2. Check it:  shipyard validate -f %s\n", outputPath)
	fmt.Fprintf(out, "  3. Run it:    shipyard run -f %s\n", outputPath)
	fmt.Fprintln(out)
}
