package handlers

import (
	"fmt"
	"io"
	"strings"
)

// Validate loads a pipeline file and prints its stage order.
func Validate(pipelinePath string, out io.Writer) error {
	p, err := load(pipelinePath)
	if err != nil {
		return err
	}
	order, err := p.TopologicalOrder()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Pipeline %s is valid\n", p.ID)
	fmt.Fprintf(out, "  Stages:      %s\n", strings.Join(order, " -> "))
	fmt.Fprintf(out, "  Parallelism: %d\n", p.Parallelism)
	fmt.Fprintf(out, "  Triggers:    %s\n", p.TriggerPolicy)
	if len(p.Targets) > 0 {
		fmt.Fprintf(out, "  Targets:     %d\n", len(p.Targets))
	}
	if len(p.Servers) > 0 {
		fmt.Fprintf(out, "  Servers:     %d\n", len(p.Servers))
	}
	return nil
}
