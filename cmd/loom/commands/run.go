package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/app"
)

func (c *CLI) newRunCmd() *cobra.Command {
	var (
		taskPath      string
		runDir        string
		cacheMode     string
		providersPath string
		fresh         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a task and drive it until it stops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.Run(cmd.Context(), app.RunOptions{
				TaskPath:      taskPath,
				RunDir:        runDir,
				Fresh:         fresh,
				CacheMode:     cacheMode,
				CacheModeSet:  cmd.Flags().Changed("cache"),
				ProvidersPath: providersPath,
			})
			if summary != nil {
				if perr := printJSON(cmd, summary); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			return statusErr(summary.Status, summary.StopReason, false)
		},
	}
	cmd.Flags().StringVar(&taskPath, "task", "", "Path to the task document")
	cmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory (default runs/<task-id>)")
	cmd.Flags().StringVar(&cacheMode, "cache", "", "Subcall cache mode: off, readonly or readwrite")
	cmd.Flags().StringVar(&providersPath, "providers", "", "Provider registry file (default providers.yaml next to the task)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Discard any previous run in the run directory")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
