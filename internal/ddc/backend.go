// Package ddc drives external monitors over DDC/CI on Linux I2C buses.
package ddc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/drm"
)

type Config struct {
	Sysfs       string
	Dev         string
	Timeout     time.Duration
	ProbeBudget time.Duration
	Parallel    int
	Ignore      []string
	// ScanUnmapped also probes /dev/i2c-* nodes no DRM connector claims.
	ScanUnmapped bool
	Timing       Timing
	Open         Opener
}

type Backend struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]*channel // by bus name
}

func New(cfg Config) *Backend {
	if cfg.Open == nil {
		cfg.Open = OpenI2C
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	return &Backend{
		cfg:      cfg,
		channels: make(map[string]*channel),
	}
}

func (b *Backend) Name() string {
	return "ddc"
}

type candidate struct {
	bus  string
	name string
}

func (b *Backend) candidates() ([]candidate, error) {
	conns, err := drm.Scan(b.cfg.Sysfs)
	if err != nil {
		return nil, err
	}

	res := make([]candidate, 0, len(conns))
	claimed := make(map[string]bool)
	for _, conn := range conns {
		if conn.Bus != "" {
			claimed[conn.Bus] = true
		}
		switch {
		case !conn.Connected(), conn.Bus == "":
			continue
		case conn.Backlight != "":
			klog.V(2).Infof("ddc: %s has a backlight, leaving it to the backlight backend", conn.Name)
			continue
		case slices.Contains(b.cfg.Ignore, conn.Bus):
			klog.V(2).Infof("ddc: ignoring %s (%s)", conn.Bus, conn.Name)
			continue
		}
		res = append(res, candidate{bus: conn.Bus, name: conn.Name})
	}

	if b.cfg.ScanUnmapped {
		nodes, err := filepath.Glob(filepath.Join(b.cfg.Dev, "i2c-*"))
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			bus := filepath.Base(node)
			if claimed[bus] || slices.Contains(b.cfg.Ignore, bus) {
				continue
			}
			res = append(res, candidate{bus: bus, name: bus})
		}
	}
	return res, nil
}

// Probe enumerates monitors. Channels are probed in parallel under the
// probe budget; a channel that cannot be opened or does not answer VCP
// 0x10 is skipped, unless it answered in an earlier pass, in which case the
// earlier monitor is reported stale.
func (b *Backend) Probe(ctx context.Context) ([]device.Probed, error) {
	start := time.Now()
	cands, err := b.candidates()
	if err != nil {
		return nil, fmt.Errorf("ddc: failed to list candidates: %w", err)
	}

	if b.cfg.ProbeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ProbeBudget)
		defer cancel()
	}

	found := make([]*device.Probed, len(cands))
	g := &errgroup.Group{}
	g.SetLimit(b.cfg.Parallel)
	for i, cand := range cands {
		g.Go(func() error {
			p, err := b.probe(ctx, cand)
			if err != nil {
				klog.Errorf("ddc: %s (%s): %v", cand.name, cand.bus, err)
				return nil
			}
			found[i] = p
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(cands))
	for _, cand := range cands {
		seen[cand.bus] = true
	}
	b.release(func(bus string) bool { return !seen[bus] })

	res := make([]device.Probed, 0, len(found))
	for _, p := range found {
		if p != nil {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	klog.Infof("ddc: probed %d channels, %d monitors in %s", len(cands), len(res), time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (b *Backend) channel(bus string) (*channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[bus]; ok {
		return ch, nil
	}
	path := filepath.Join(b.cfg.Dev, bus)
	handle, err := b.cfg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	ch := newChannel(bus, path, handle, b.cfg.Timeout)
	b.channels[bus] = ch
	return ch, nil
}

func (b *Backend) probe(ctx context.Context, cand candidate) (*device.Probed, error) {
	ch, err := b.channel(cand.bus)
	if err != nil {
		return nil, err
	}

	info := device.Info{Model: cand.name}
	edid, err := transact(ctx, ch, ReadEDID)
	if err != nil {
		klog.V(2).Infof("ddc: %s: no edid: %v", cand.bus, err)
	} else {
		info = device.Info{
			Model:       edid.Model(),
			Description: fmt.Sprintf("%s %s", edid.Manufacturer, edid.Model()),
		}
	}

	vcp, err := transact(ctx, ch, func(bus Bus) (VCPValue, error) {
		return GetVCP(bus, VCPLuminance, b.cfg.Timing)
	})
	if err == nil && vcp.Maximum <= 0 {
		err = fmt.Errorf("%w: maximum %d", ErrBadReply, vcp.Maximum)
	}
	if err != nil {
		b.mu.Lock()
		prev := ch.monitor
		b.mu.Unlock()
		if prev != nil && prev.name == cand.name && errors.Is(err, device.ErrTimeout) {
			klog.Errorf("ddc: %s did not answer, keeping it stale: %v", cand.name, err)
			return &device.Probed{Device: prev, Stale: true}, nil
		}
		return nil, err
	}

	mon := &Monitor{
		name:   cand.name,
		ch:     ch,
		info:   info,
		max:    vcp.Maximum,
		timing: b.cfg.Timing,
	}
	b.mu.Lock()
	ch.monitor = mon
	b.mu.Unlock()
	klog.V(2).Infof("ddc: %s on %s: %q value %d/%d", mon.name, cand.bus, info.Model, vcp.Current, vcp.Maximum)
	return &device.Probed{Device: mon, Value: vcp.Current}, nil
}

func (b *Backend) release(match func(bus string) bool) {
	b.mu.Lock()
	var gone []*channel
	for bus, ch := range b.channels {
		if match(bus) {
			gone = append(gone, ch)
			delete(b.channels, bus)
		}
	}
	b.mu.Unlock()

	for _, ch := range gone {
		klog.Infof("ddc: releasing %s", ch.bus)
		ch.close()
	}
}

// Close releases every open bus.
func (b *Backend) Close() error {
	b.release(func(string) bool { return true })
	return nil
}

// Monitor is a DDC/CI capable display.
type Monitor struct {
	name   string
	ch     *channel
	info   device.Info
	max    int
	timing Timing
}

func (m *Monitor) Name() string {
	return m.name
}

func (m *Monitor) Kind() device.Kind {
	return device.DDC{}
}

func (m *Monitor) Info() device.Info {
	return m.info
}

func (m *Monitor) Range() (int, int) {
	return 0, m.max
}

func (m *Monitor) Read(ctx context.Context) (int, error) {
	vcp, err := transact(ctx, m.ch, func(bus Bus) (VCPValue, error) {
		return GetVCP(bus, VCPLuminance, m.timing)
	})
	if err != nil {
		return 0, err
	}
	return vcp.Current, nil
}

func (m *Monitor) Write(ctx context.Context, value int) (int, error) {
	_, err := transact(ctx, m.ch, func(bus Bus) (struct{}, error) {
		return struct{}{}, SetVCP(bus, VCPLuminance, value, m.timing)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
