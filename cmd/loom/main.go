// Package main is the entry point for the loom CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/loomworks/loom/cmd/loom/commands"
	"github.com/loomworks/loom/internal/adapters/logger"
	"github.com/loomworks/loom/internal/app"
)

func main() {
	if err := run(); err != nil {
		// zerr prints a report with stack trace and metadata when using %+v
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	log := logger.New()
	a := app.New(log)
	cli := commands.New(a)

	return cli.Execute(ctx)
}
