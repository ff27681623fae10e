package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

type Liveness int32

const (
	Live Liveness = iota
	// Stale devices were found by the last probe pass but failed an
	// operation since; they are still targeted.
	Stale
	// Unreachable devices timed out and are skipped until the next refresh.
	Unreachable
)

func (l Liveness) String() string {
	switch l {
	case Live:
		return "Live"
	case Stale:
		return "Stale"
	case Unreachable:
		return "Unreachable"
	}
	return fmt.Sprintf("Liveness(%d)", int32(l))
}

// deviceState outlives a single generation: every handle for the same
// physical device shares it.
type deviceState struct {
	mu   sync.Mutex
	last atomic.Int64
}

// Handle is a registry entry: a backend Device plus the state the daemon
// keeps about it. Operations on one device are serialized, including across
// handles from different generations.
type Handle struct {
	dev        Device
	generation uint64
	lo, hi     int

	*deviceState
	liveness atomic.Int32
}

// NewHandle wraps dev for the given probe generation. An initial value
// outside the device range makes the handle Unreachable.
func NewHandle(dev Device, generation uint64, initial int, liveness Liveness) *Handle {
	h := newHandle(dev, generation, &deviceState{})
	if initial < h.lo || initial > h.hi {
		klog.Errorf("%q: value %d outside [%d, %d]", dev.Name(), initial, h.lo, h.hi)
		initial = Clamp(initial, h.lo, h.hi)
		liveness = Unreachable
	}
	h.last.Store(int64(initial))
	h.liveness.Store(int32(liveness))
	return h
}

// Successor wraps dev, found again by a later probe pass, in a handle that
// shares this one's lock and last-known value. The cached value is kept
// when it fits the device's current range, otherwise probed replaces it.
func (h *Handle) Successor(dev Device, generation uint64, probed int, liveness Liveness) *Handle {
	next := newHandle(dev, generation, h.deviceState)
	if cached := next.Cached(); cached < next.lo || cached > next.hi {
		next.last.CompareAndSwap(int64(cached), int64(Clamp(probed, next.lo, next.hi)))
	}
	next.liveness.Store(int32(liveness))
	return next
}

func newHandle(dev Device, generation uint64, state *deviceState) *Handle {
	lo, hi := dev.Range()
	return &Handle{
		dev:         dev,
		generation:  generation,
		lo:          lo,
		hi:          hi,
		deviceState: state,
	}
}

func (h *Handle) Name() string {
	return h.dev.Name()
}

func (h *Handle) Kind() Kind {
	return h.dev.Kind()
}

func (h *Handle) Info() Info {
	return h.dev.Info()
}

func (h *Handle) Range() (lo, hi int) {
	return h.lo, h.hi
}

func (h *Handle) Generation() uint64 {
	return h.generation
}

func (h *Handle) Liveness() Liveness {
	return Liveness(h.liveness.Load())
}

// Cached returns the last-known value without touching hardware.
func (h *Handle) Cached() int {
	return int(h.last.Load())
}

// Device exposes the backend for the registry's carry-over logic.
func (h *Handle) Device() Device {
	return h.dev
}

// Read queries the hardware and refreshes the cached value.
func (h *Handle) Read(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.read(ctx)
}

// Write clamps value into range, applies it and caches the result.
func (h *Handle) Write(ctx context.Context, value int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.write(ctx, value)
}

// Adjust reads the current value, computes a target from it and writes the
// clamped target, holding the device for the whole sequence.
func (h *Handle) Adjust(ctx context.Context, next func(current int) int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, err := h.read(ctx)
	if err != nil {
		return 0, err
	}
	return h.write(ctx, next(current))
}

func (h *Handle) read(ctx context.Context) (int, error) {
	if h.Liveness() == Unreachable {
		return 0, fmt.Errorf("%w: %s: marked unreachable until next probe", ErrUnreachable, h.Name())
	}
	value, err := h.dev.Read(ctx)
	if err != nil {
		return 0, h.fail("read", err)
	}
	if value < h.lo || value > h.hi {
		h.liveness.Store(int32(Unreachable))
		return 0, fmt.Errorf("%w: %s: read %d outside [%d, %d]", ErrUnreachable, h.Name(), value, h.lo, h.hi)
	}
	h.last.Store(int64(value))
	h.liveness.CompareAndSwap(int32(Stale), int32(Live))
	return value, nil
}

func (h *Handle) write(ctx context.Context, value int) (int, error) {
	if h.Liveness() == Unreachable {
		return 0, fmt.Errorf("%w: %s: marked unreachable until next probe", ErrUnreachable, h.Name())
	}
	target := Clamp(value, h.lo, h.hi)
	applied, err := h.dev.Write(ctx, target)
	if err != nil {
		return 0, h.fail("write", err)
	}
	applied = Clamp(applied, h.lo, h.hi)
	h.last.Store(int64(applied))
	h.liveness.CompareAndSwap(int32(Stale), int32(Live))
	klog.V(2).Infof("%q: wrote %d (requested %d)", h.Name(), applied, value)
	return applied, nil
}

func (h *Handle) fail(op string, err error) error {
	if isTimeout(err) {
		h.liveness.Store(int32(Unreachable))
		klog.Errorf("%q: %s timed out, marking unreachable: %v", h.Name(), op, err)
	} else {
		h.liveness.CompareAndSwap(int32(Live), int32(Stale))
		klog.Errorf("%q: %s failed: %v", h.Name(), op, err)
	}
	return fmt.Errorf("%w: %s: %s: %w", ErrUnreachable, h.Name(), op, err)
}
