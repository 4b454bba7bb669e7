package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Evaluate the specified targets",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				// Display command usage help without returning an error
				_ = cmd.Help()
				return nil
			}
			noCache, _ := cmd.Flags().GetBool("no-cache")
			parallelism, _ := cmd.Flags().GetInt("parallelism")

			return c.app.Run(cmd.Context(), args, app.RunOptions{
				NoCache:     noCache,
				Parallelism: parallelism,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the result cache and force execution")
	cmd.Flags().IntP("parallelism", "p", 0, "Maximum number of nodes evaluated concurrently (0 = number of CPUs)")
	return cmd
}
