package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/app"
)

func (c *CLI) newResumeCmd() *cobra.Command {
	var (
		runDir        string
		cacheMode     string
		providersPath string
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an existing run until it stops again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.Resume(cmd.Context(), app.AttachOptions{
				RunDir:        runDir,
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
	cmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory")
	cmd.Flags().StringVar(&cacheMode, "cache", "", "Must match the persisted cache mode when given")
	cmd.Flags().StringVar(&providersPath, "providers", "", "Provider registry file (default providers.yaml next to the task)")
	_ = cmd.MarkFlagRequired("run-dir")
	return cmd
}
