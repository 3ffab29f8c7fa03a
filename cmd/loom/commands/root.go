// Package commands implements the CLI commands for the loom execution engine.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/app"
	"github.com/loomworks/loom/internal/build"
	"github.com/loomworks/loom/internal/core/domain"
)

// errRunStopped signals a run that ended in a non-success status. The CLI
// exits nonzero without treating it as an infrastructure failure.
var errRunStopped = zerr.New("run stopped before completion")

// CLI represents the command line interface for loom.
type CLI struct {
	app     *app.App
	rootCmd *cobra.Command
}

// New creates a new CLI instance with the given app.
func New(a *app.App) *CLI {
	rootCmd := &cobra.Command{
		Use:           "loom",
		Short:         "Bounded-iteration task execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newRunCmd())
	rootCmd.AddCommand(c.newStepCmd())
	rootCmd.AddCommand(c.newResumeCmd())
	rootCmd.AddCommand(c.newBundleCmd())
	rootCmd.AddCommand(c.newReplayCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOut redirects command output. Used for testing.
func (c *CLI) SetOut(w io.Writer) {
	c.rootCmd.SetOut(w)
}

// printJSON writes the status summary as indented JSON to the command's
// stdout. Every subcommand ends with exactly one summary object.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// statusErr maps a terminal status to the exit contract: COMPLETED and
// LIMIT_REACHED succeed, everything else fails. allowRunning loosens the
// rule for single-step invocations that leave the run mid-flight.
func statusErr(status domain.Status, reason domain.StopReason, allowRunning bool) error {
	switch status {
	case domain.StatusCompleted, domain.StatusLimitReached:
		return nil
	case domain.StatusRunning:
		if allowRunning {
			return nil
		}
	}
	return zerr.With(domain.Annotate(errRunStopped, "status", string(status)), "reason", string(reason))
}
