package hotplug

import (
	"context"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/mux"
	"github.com/lumactl/lumactl/internal/registry"
)

type Refresher interface {
	Refresh(ctx context.Context) (*registry.Snapshot, error)
}

// Monitor schedules registry refreshes for hot-plug events. At most one
// refresh is pending at a time: events arriving while one is pending are
// absorbed, events arriving while one runs schedule exactly one more.
type Monitor struct {
	refresher Refresher
	settle    time.Duration
	pending   chan struct{}

	events    atomic.Int64
	refreshes atomic.Int64
}

// NewMonitor returns a monitor that waits settle after the first event of
// a burst before refreshing.
func NewMonitor(refresher Refresher, settle time.Duration) *Monitor {
	return &Monitor{
		refresher: refresher,
		settle:    settle,
		pending:   make(chan struct{}, 1),
	}
}

// Sink subscribes the monitor to an event source.
func (m *Monitor) Sink() mux.Sink[Event] {
	return mux.SinkFunc(func(ev Event) {
		klog.V(5).Infof("hotplug: %s", ev)
		m.events.Add(1)
		m.Trigger()
	})
}

// Trigger schedules a refresh unless one is already pending.
func (m *Monitor) Trigger() {
	select {
	case m.pending <- struct{}{}:
	default:
	}
}

// Refreshes reports how many refreshes the monitor has run.
func (m *Monitor) Refreshes() int64 {
	return m.refreshes.Load()
}

// Run performs scheduled refreshes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.pending:
		}

		if m.settle > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.settle):
			}
			select {
			case <-m.pending:
			default:
			}
		}

		m.refreshes.Add(1)
		klog.Infof("hotplug: refreshing after %d events", m.events.Swap(0))
		if _, err := m.refresher.Refresh(ctx); err != nil {
			klog.Errorf("hotplug: refresh failed, keeping previous devices: %v", err)
		}
	}
}
