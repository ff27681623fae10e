package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/config"
	"github.com/lumactl/lumactl/internal/daemon"
)

type FlagValues struct {
	Config  config.Flag
	Daemon  bool
	Verbose bool

	config *config.Config
}

func initFlags() FlagValues {
	values := FlagValues{}
	flags := flag.NewFlagSet("lumad", flag.ExitOnError)
	klog.InitFlags(flags)
	flags.Var(&values.Config, "config", `configuration source (in form "file:<path>", "env:<ENV_VARIABLE>" or "stdin"), defaults apply when omitted`)
	flags.BoolVar(&values.Daemon, "daemon", false, "keep serving requests until interrupted instead of answering a single one")
	flags.BoolVar(&values.Verbose, "verbose", false, "log every request (same as -v=2)")
	flags.Parse(os.Args[1:])

	if values.Verbose {
		if err := flags.Set("v", "2"); err != nil {
			klog.Errorf("failed to raise verbosity: %v", err)
		}
	}

	cfg, err := values.Config.Load()
	if err != nil {
		klog.Fatalf("invalid configuration: %v", err)
	}
	values.config = cfg
	return values
}

func main() {
	os.Exit(run())
}

func run() int {
	appContext, appCancel := context.WithCancel(context.Background())
	appWaitGroup := &sync.WaitGroup{}
	defer appWaitGroup.Wait()
	defer appCancel()
	defer klog.Flush()

	flags := initFlags()

	d := daemon.New(flags.config, daemon.Probers(flags.config)...)
	defer func() {
		if err := d.Close(); err != nil {
			klog.Errorf("failed to release devices: %v", err)
		}
	}()

	if err := d.Start(appContext); err != nil {
		klog.Errorf("failed to start: %v", err)
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	appWaitGroup.Add(1)
	go func() {
		defer appWaitGroup.Done()
		select {
		case sig := <-sigs:
			klog.Infof("Received signal %q, shutting down", sig.String())
			appCancel()
		case <-appContext.Done():
		}
	}()

	if !flags.Daemon {
		if err := d.ServeOnce(appContext); err != nil && appContext.Err() == nil {
			klog.Errorf("failed to serve request: %v", err)
			return 1
		}
		return 0
	}

	if err := d.Serve(appContext, appWaitGroup); err != nil {
		klog.Errorf("server stopped: %v", err)
		return 1
	}
	klog.Info("Shut down")
	return 0
}
