package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newBundleCmd() *cobra.Command {
	var (
		taskPath string
		outDir   string
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build the context bundle without starting a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.BuildBundle(taskPath, outDir)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&taskPath, "task", "", "Path to the task document")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default bundles/)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
