package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/registry"
)

// Snapshotter is the read side of the registry.
type Snapshotter interface {
	Snapshot() *registry.Snapshot
}

// Target is a resolved entry of a request: a handle, or the reason the
// requested display has none.
type Target struct {
	Display string
	Handle  *device.Handle
	Err     error
}

type Dispatcher struct {
	registry Snapshotter
}

func New(registry Snapshotter) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch validates, resolves and executes req against the current
// snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	snap := d.registry.Snapshot()
	if err := req.Validate(); err != nil {
		return Reject(snap.Generation, err)
	}
	return d.Execute(ctx, req, snap, Resolve(snap, req))
}

// Resolve expands the target selector. All covers every device that is not
// Unreachable; a named display that is missing or Unreachable resolves to a
// DeviceNotFound entry.
func Resolve(snap *registry.Snapshot, req Request) []Target {
	if req.All {
		var res []Target
		for _, h := range snap.Devices() {
			if h.Liveness() == device.Unreachable {
				klog.V(2).Infof("dispatch: skipping unreachable %q", h.Name())
				continue
			}
			res = append(res, Target{Display: h.Name(), Handle: h})
		}
		return res
	}

	h, err := snap.Lookup(req.Display)
	if err != nil {
		return []Target{{Display: req.Display, Err: err}}
	}
	if h.Liveness() == device.Unreachable {
		return []Target{{Display: h.Name(), Err: fmt.Errorf("%w: %s is unreachable until the next probe", device.ErrDeviceNotFound, h.Name())}}
	}
	return []Target{{Display: h.Name(), Handle: h}}
}

// Execute runs req on every target concurrently. Results keep target order.
func (d *Dispatcher) Execute(ctx context.Context, req Request, snap *registry.Snapshot, targets []Target) Response {
	results := make([]Result, len(targets))
	g := &errgroup.Group{}
	for i, t := range targets {
		if t.Err != nil {
			results[i] = failure(t.Display, t.Err)
			continue
		}
		g.Go(func() error {
			results[i] = run(ctx, req, t.Handle)
			return nil
		})
	}
	_ = g.Wait()
	return Response{Generation: snap.Generation, Results: results}
}

func run(ctx context.Context, req Request, h *device.Handle) Result {
	lo, hi := h.Range()
	var (
		value int
		err   error
	)
	switch req.Op {
	case OpGet:
		if req.Cached {
			value = h.Cached()
		} else {
			value, err = h.Read(ctx)
		}
	case OpSetAbsolute:
		target := req.Value
		if req.unit() == Percent {
			target = device.FromPercent(req.Value, lo, hi)
		}
		value, err = h.Write(ctx, target)
	case OpSetRelative:
		value, err = h.Adjust(ctx, func(current int) int {
			if req.unit() == Percent {
				return current + device.PercentDelta(req.Value, lo, hi)
			}
			return current + req.Value
		})
	}
	if err != nil {
		klog.V(2).Infof("dispatch: %s on %q failed: %v", req, h.Name(), err)
		return failure(h.Name(), err)
	}

	res := Result{
		Display: h.Name(),
		Status:  StatusOK,
		Value:   value,
		Unit:    req.unit(),
		Raw:     value,
		Min:     lo,
		Max:     hi,
	}
	if req.unit() == Percent {
		res.Value = device.ToPercent(value, lo, hi)
	}
	return res
}

func failure(display string, err error) Result {
	return Result{
		Display: display,
		Status:  StatusError,
		Kind:    device.KindOf(err),
		Error:   err.Error(),
	}
}
