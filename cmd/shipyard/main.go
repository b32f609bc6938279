// Package main is the entry point for the shipyard CLI.
//
// shipyard runs declarative pipelines: shell steps, container image builds,
// registry publishing and Kubernetes rollouts, gated on the servers they
// depend on.
//
// Commands: run, status, cancel, rollback, validate, init, provision, teardown.
//
// For detailed usage information, run:
//
//	shipyard --help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/shipyard/cmd/shipyard/commands"
	"github.com/imamik/shipyard/internal/failure"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var exit *failure.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return failure.ExitInternal
}
