package ddc

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
)

// channel owns one open bus. Transactions are serialized by sem; a caller
// that times out returns immediately while the transaction it started
// keeps sem until the bus call returns.
type channel struct {
	bus     string
	path    string
	handle  Bus
	sem     chan struct{}
	timeout time.Duration

	// last monitor probed on this channel, guarded by Backend.mu
	monitor *Monitor
}

func newChannel(bus, path string, handle Bus, timeout time.Duration) *channel {
	return &channel{
		bus:     bus,
		path:    path,
		handle:  handle,
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

type result[T any] struct {
	value T
	err   error
}

func transact[T any](ctx context.Context, c *channel, fn func(Bus) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, fmt.Errorf("%s: waiting for bus: %w", c.bus, device.ErrTimeout)
	}

	done := make(chan result[T], 1)
	go func() {
		defer func() { <-c.sem }()
		v, err := fn(c.handle)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		klog.Errorf("%s: transaction exceeded %s", c.bus, c.timeout)
		return zero, fmt.Errorf("%s: %w", c.bus, device.ErrTimeout)
	}
}

// close waits for the bus to become idle, bounded by the channel timeout,
// and releases the handle.
func (c *channel) close() {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-time.After(c.timeout):
		klog.Errorf("%s: closing while a transaction is still pending", c.bus)
	}
	if err := c.handle.Close(); err != nil {
		klog.Errorf("%s: failed to close %s: %v", c.bus, c.path, err)
	}
}
