package hotplug

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/mux"
)

const submitTimeout = 100 * time.Millisecond

type klogLogger struct{}

func (klogLogger) Info(format string, args ...interface{}) {
	klog.Infof(format, args...)
}

// NewBus returns the mux sources publish into.
func NewBus() *mux.Mux[Event] {
	return mux.Make(
		mux.Buffered[Event](16),
		mux.WithSubmitTimeout[Event](submitTimeout),
		mux.WithLogger[Event](klogLogger{}),
	)
}

// Start runs the monitor and every source until ctx is done. The bus is
// closed once all sources have returned.
func Start(ctx context.Context, wg *sync.WaitGroup, mon *Monitor, sources ...Source) {
	bus := NewBus()
	unsubscribe := bus.Subscribe(mon.Sink())

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	var running sync.WaitGroup
	for _, src := range sources {
		running.Add(1)
		go func() {
			defer running.Done()
			klog.Infof("hotplug: starting %s source", src.Name())
			if err := src.Run(ctx, bus); err != nil {
				klog.Errorf("hotplug: %s source stopped: %v", src.Name(), err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		running.Wait()
		unsubscribe()
		bus.Close()
	}()
}
