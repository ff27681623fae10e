package devicetest

import (
	"context"
	"sync"

	"github.com/lumactl/lumactl/internal/device"
)

// Prober reports a fixed set of fakes at their current hardware value.
type Prober struct {
	mu      sync.Mutex
	devices []*Fake
}

func NewProber(devices ...*Fake) *Prober {
	return &Prober{devices: devices}
}

func (p *Prober) Name() string { return "fake" }

// Set replaces what the next probe pass finds.
func (p *Prober) Set(devices ...*Fake) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

func (p *Prober) Probe(context.Context) ([]device.Probed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]device.Probed, 0, len(p.devices))
	for _, d := range p.devices {
		res = append(res, device.Probed{Device: d, Value: d.Value()})
	}
	return res, nil
}
