package cli

import (
	"github.com/spf13/cobra"

	"github.com/lumactl/lumactl/internal/dispatch"
)

func newGetCommand(g *globals, opts Options) *cobra.Command {
	var percentage, cached bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current brightness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := dispatch.Request{Op: dispatch.OpGet, Unit: dispatch.Raw, Cached: cached}
			if percentage {
				req.Unit = dispatch.Percent
			}
			return g.perform(cmd, opts, req)
		},
	}
	cmd.Flags().BoolVarP(&percentage, "percentage", "p", false, "print brightness as a percentage of each display's range")
	cmd.Flags().BoolVar(&cached, "cached", false, "print the daemon's last-known value without querying hardware")
	return cmd
}
