// Package daemon wires the backends, registry, hot-plug monitor and socket
// server together from a config.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/backlight"
	"github.com/lumactl/lumactl/internal/config"
	"github.com/lumactl/lumactl/internal/ddc"
	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/hotplug"
	"github.com/lumactl/lumactl/internal/ipc"
	"github.com/lumactl/lumactl/internal/registry"
	"github.com/lumactl/lumactl/internal/udev"
)

// Probers builds the enabled backends.
func Probers(cfg *config.Config) []device.Prober {
	var probers []device.Prober
	if cfg.Backlight.Enabled {
		var setter backlight.Setter
		if cfg.Backlight.Logind {
			logind, err := backlight.NewLogind()
			if err != nil {
				klog.Errorf("logind unavailable, backlight writes need sysfs permission: %v", err)
			} else {
				setter = logind
			}
		}
		probers = append(probers, backlight.New(cfg.Sysfs, setter))
	}
	if cfg.DDC.Enabled {
		probers = append(probers, ddc.New(ddc.Config{
			Sysfs:        cfg.Sysfs,
			Dev:          cfg.Dev,
			Timeout:      cfg.DDC.Timeout,
			ProbeBudget:  cfg.DDC.ProbeBudget,
			Parallel:     cfg.DDC.Parallel,
			Ignore:       cfg.DDC.Ignore,
			ScanUnmapped: cfg.DDC.ScanUnmapped,
			Timing:       ddc.DefaultTiming,
		}))
	}
	return probers
}

// Sources builds the hot-plug sources for the configured mechanism.
func Sources(cfg *config.Config) []hotplug.Source {
	poll := &hotplug.PollSource{Interval: cfg.Hotplug.PollInterval}
	switch cfg.Hotplug.Source {
	case config.HotplugUdev:
		return []hotplug.Source{hotplug.WithFallback(udev.NewSource(), poll)}
	case config.HotplugFSNotify:
		return []hotplug.Source{&hotplug.FSSource{Dir: cfg.Dev, Pattern: "i2c-*"}, poll}
	default:
		return []hotplug.Source{poll}
	}
}

type Daemon struct {
	cfg      *config.Config
	registry *registry.Registry
	server   *ipc.Server
}

// New builds a daemon; nothing touches hardware until Start.
func New(cfg *config.Config, probers ...device.Prober) *Daemon {
	reg := registry.New(probers...)
	return &Daemon{
		cfg:      cfg,
		registry: reg,
		server: ipc.NewServer(ipc.Config{
			Path:     cfg.SocketPath(),
			MaxBytes: cfg.Request.MaxBytes,
		}, reg),
	}
}

func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

func (d *Daemon) Server() *ipc.Server {
	return d.server
}

// Start runs the initial probe pass and binds the socket. A failed probe is
// logged; hot-plug events and polling retry it.
func (d *Daemon) Start(ctx context.Context) error {
	snap, err := d.registry.Refresh(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("initial probe aborted: %w", ctxErr)
		}
		klog.Errorf("Initial probe incomplete: %v", err)
	}
	if snap.Len() == 0 {
		klog.Infof("No controllable displays found, waiting for hot-plug")
	}
	return d.server.Listen()
}

// Serve answers requests until ctx is done, refreshing the registry on
// hot-plug events, then drains in-flight requests.
func (d *Daemon) Serve(ctx context.Context, wg *sync.WaitGroup) error {
	if err := d.server.Watch(ctx, wg); err != nil {
		klog.Errorf("socket watch disabled: %v", err)
	}

	mon := hotplug.NewMonitor(d.registry, d.cfg.Hotplug.Settle)
	hotplug.Start(ctx, wg, mon, Sources(d.cfg)...)

	if d.cfg.HealthAddr != "" {
		d.serveHealthz(ctx, wg)
	}
	return d.server.Serve(ctx)
}

// ServeOnce answers a single connection.
func (d *Daemon) ServeOnce(ctx context.Context) error {
	defer d.server.Close()
	return d.server.ServeOnce(ctx)
}

func (d *Daemon) serveHealthz(ctx context.Context, wg *sync.WaitGroup) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.server.Healthz)
	srv := &http.Server{Addr: d.cfg.HealthAddr, Handler: mux}

	klog.Infof("Starting /healthz server on %s", d.cfg.HealthAddr)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("/healthz server failed: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Close releases hardware handles.
func (d *Daemon) Close() error {
	return errors.Join(d.server.Close(), d.registry.Close())
}
