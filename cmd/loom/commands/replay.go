package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
)

var errReplayMismatch = zerr.New("runs diverge")

func (c *CLI) newReplayCmd() *cobra.Command {
	var dirA, dirB string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Compare two run directories for identical subcalls and artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.app.Replay(dirA, dirB)
			if err != nil {
				return err
			}
			if perr := printJSON(cmd, report); perr != nil {
				return perr
			}
			if !report.Match {
				return domain.Annotate(errReplayMismatch, "mismatches", len(report.Mismatches))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirA, "a", "", "First run directory")
	cmd.Flags().StringVar(&dirB, "b", "", "Second run directory")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}
