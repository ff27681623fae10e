// Package cli implements the lumactl command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/config"
	"github.com/lumactl/lumactl/internal/daemon"
	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/dispatch"
	"github.com/lumactl/lumactl/internal/displays"
	"github.com/lumactl/lumactl/internal/ipc"
	"github.com/lumactl/lumactl/internal/registry"
)

// ErrFailed is returned when at least one device reported an error. The
// results have already been printed.
var ErrFailed = errors.New("one or more displays failed")

var Version = "0.1.0"

type Options struct {
	Helper displays.Helper
	Out    io.Writer
	Err    io.Writer
	// GoFlags are added to the persistent flags, for klog's -v.
	GoFlags *flag.FlagSet
}

type globals struct {
	socket  string
	display string
	all     bool
	direct  bool
	timeout time.Duration
	config  config.Flag
}

// NewRootCommand builds the lumactl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Helper == nil {
		opts.Helper = displays.Wmctl()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}

	g := &globals{}
	root := &cobra.Command{
		Use:           "lumactl",
		Version:       Version,
		Short:         "Control backlight and monitor brightness",
		Long:          "lumactl reads and changes the brightness of laptop panels and DDC/CI monitors through the lumad daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.socket, "socket", "s", "", "daemon socket (default $XDG_RUNTIME_DIR/lumactl.sock)")
	pf.StringVarP(&g.display, "display", "d", "", "display name, or part of its model or description")
	pf.BoolVarP(&g.all, "all", "a", false, "act on every display")
	pf.BoolVar(&g.direct, "direct", false, "probe and act without the daemon (slow with DDC monitors)")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Second, "give up after this long")
	pf.Var(&g.config, "config", `configuration source for --direct and the socket path ("file:<path>", "env:<VAR>" or "stdin")`)
	if opts.GoFlags != nil {
		pf.AddGoFlagSet(opts.GoFlags)
	}
	root.MarkFlagsMutuallyExclusive("display", "all")

	root.AddCommand(newGetCommand(g, opts), newSetCommand(g, opts))
	return root
}

var negativeValue = regexp.MustCompile(`^-[0-9]+%?$`)

// normalizeArgs moves negative relative values behind "--" so they are not
// parsed as shorthand flags.
func normalizeArgs(args []string) []string {
	var res, values []string
	for i, arg := range args {
		if arg == "--" {
			values = append(values, args[i+1:]...)
			break
		}
		if negativeValue.MatchString(arg) {
			values = append(values, arg)
			continue
		}
		res = append(res, arg)
	}
	if len(values) == 0 {
		return res
	}
	return append(append(res, "--"), values...)
}

// Execute runs lumactl with args.
func Execute(ctx context.Context, opts Options, args []string) error {
	root := NewRootCommand(opts)
	root.SetArgs(normalizeArgs(args))
	return root.ExecuteContext(ctx)
}

// target fills the request's selector: an explicit display or --all, else
// the helper's first display, else every display.
func (g *globals) target(ctx context.Context, helper displays.Helper, req *dispatch.Request) {
	if g.all || g.display != "" {
		req.All, req.Display = g.all, g.display
		return
	}
	current, err := helper.CurrentDisplays(ctx)
	if err != nil || len(current) == 0 {
		klog.V(2).Infof("no current display (%v), using all displays", err)
		req.All = true
		return
	}
	req.Display = current[0].Name
}

func (g *globals) perform(cmd *cobra.Command, opts Options, req dispatch.Request) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	g.target(ctx, opts.Helper, &req)
	if err := req.Validate(); err != nil {
		return err
	}

	var (
		resp dispatch.Response
		err  error
	)
	if g.direct {
		resp, err = g.dispatchDirect(ctx, req)
	} else {
		resp, err = ipc.Do(ctx, g.socketPath(), req)
	}
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	return printResults(opts, resp)
}

func (g *globals) loadConfig() (*config.Config, error) {
	return g.config.Load()
}

func (g *globals) socketPath() string {
	if g.socket != "" {
		return g.socket
	}
	if g.config.IsSet() {
		if cfg, err := g.loadConfig(); err == nil {
			return cfg.SocketPath()
		}
	}
	return config.DefaultSocket("lumactl")
}

func (g *globals) dispatchDirect(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return dispatch.Response{}, err
	}
	reg := registry.New(daemon.Probers(cfg)...)
	defer reg.Close()
	snap, err := reg.Refresh(ctx)
	if err != nil {
		if snap.Generation == 0 {
			return dispatch.Response{}, fmt.Errorf("probe failed: %w", err)
		}
		klog.Errorf("probe incomplete: %v", err)
	}
	return dispatch.New(reg).Dispatch(ctx, req), nil
}

func printResults(opts Options, resp dispatch.Response) error {
	if len(resp.Results) == 1 && resp.Results[0].Status == dispatch.StatusOK {
		fmt.Fprintln(opts.Out, resp.Results[0].Value)
		return nil
	}
	for _, res := range resp.Results {
		if res.Status == dispatch.StatusOK {
			fmt.Fprintln(opts.Out, res)
		} else {
			fmt.Fprintln(opts.Err, res)
		}
	}
	if resp.Failed() {
		return ErrFailed
	}
	return nil
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, device.ErrInvalidRequest):
		return 2
	default:
		return 1
	}
}
