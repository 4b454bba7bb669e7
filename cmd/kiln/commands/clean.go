package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the result cache and output directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputs, _ := cmd.Flags().GetBool("outputs")
			all, _ := cmd.Flags().GetBool("all")

			return c.app.Clean(cmd.Context(), app.CleanOptions{
				Outputs: outputs,
				All:     all,
			})
		},
	}

	cmd.Flags().BoolP("outputs", "o", false, "Also remove node output directories")
	cmd.Flags().BoolP("all", "a", false, "Remove the entire state directory")

	return cmd
}
