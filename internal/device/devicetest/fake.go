// Package devicetest provides an in-memory device.Device for tests.
package devicetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumactl/lumactl/internal/device"
)

// Fake is a device whose hardware is a variable. Delay is applied to every
// operation and honours the caller's context the way a DDC transaction does.
type Fake struct {
	name string
	kind device.Kind
	info device.Info
	lo   int
	hi   int

	mu       sync.Mutex
	value    int
	readErr  error
	writeErr error
	delay    time.Duration

	Reads  atomic.Int32
	Writes atomic.Int32
}

func New(name string, kind device.Kind, lo, hi, value int) *Fake {
	return &Fake{name: name, kind: kind, lo: lo, hi: hi, value: value}
}

func (f *Fake) WithInfo(info device.Info) *Fake {
	f.info = info
	return f
}

func (f *Fake) Name() string      { return f.name }
func (f *Fake) Kind() device.Kind { return f.kind }
func (f *Fake) Info() device.Info { return f.info }
func (f *Fake) Range() (int, int) { return f.lo, f.hi }

// Value returns what the hardware currently holds.
func (f *Fake) Value() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// SetValue changes the hardware value behind the daemon's back.
func (f *Fake) SetValue(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

// Fail makes every following operation return err; nil clears it.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
	f.writeErr = err
}

// Stall delays every following operation by d.
func (f *Fake) Stall(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	d := f.delay
	f.mu.Unlock()
	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", f.name, device.ErrTimeout)
	}
}

func (f *Fake) Read(ctx context.Context) (int, error) {
	f.Reads.Add(1)
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.value, nil
}

func (f *Fake) Write(ctx context.Context, value int) (int, error) {
	f.Writes.Add(1)
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.value = value
	return value, nil
}
