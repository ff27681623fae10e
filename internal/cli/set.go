package cli

import (
	"github.com/spf13/cobra"

	"github.com/lumactl/lumactl/internal/dispatch"
)

func newSetCommand(g *globals, opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set VALUE",
		Short: "Change the brightness",
		Long: `Change the brightness. VALUE is absolute ("40", "40%") or relative to the
current brightness ("+10", "-10%"). Percentages are of each display's own range.`,
		Example: "  lumactl set 50%\n  lumactl set -10% --all\n  lumactl set +5 --display DP-1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := dispatch.ParseValue(args[0])
			if err != nil {
				return err
			}
			return g.perform(cmd, opts, req)
		},
	}
}
