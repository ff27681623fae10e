package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	verbosity := flag.NewFlagSet("lumactl", flag.ContinueOnError)
	verbosity.Var(klogFlags.Lookup("v").Value, "v", "log verbosity")

	err := cli.Execute(ctx, cli.Options{GoFlags: verbosity}, os.Args[1:])
	cancel()
	klog.Flush()
	if err != nil && !errors.Is(err, cli.ErrFailed) {
		fmt.Fprintln(os.Stderr, "lumactl:", err)
	}
	os.Exit(cli.ExitCode(err))
}
