package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [targets...]",
		Short: "Evaluate targets and re-evaluate on file changes",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return nil
			}
			noCache, _ := cmd.Flags().GetBool("no-cache")
			parallelism, _ := cmd.Flags().GetInt("parallelism")
			debounce, _ := cmd.Flags().GetDuration("debounce")

			return c.app.Watch(cmd.Context(), args, app.WatchOptions{
				NoCache:        noCache,
				Parallelism:    parallelism,
				DebounceWindow: debounce,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the result cache and force execution")
	cmd.Flags().IntP("parallelism", "p", 0, "Maximum number of nodes evaluated concurrently (0 = number of CPUs)")
	cmd.Flags().Duration("debounce", 0, "Window used to batch file system events (0 = default)")
	return cmd
}
