// Package registry holds the daemon's view of every reachable device.
//
// Readers take an immutable Snapshot, published atomically; Refresh is the
// only writer and builds the next snapshot off to the side, so a slow probe
// pass never delays a reader.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
)

// Snapshot is one probe generation. It is never modified after publication.
type Snapshot struct {
	Generation uint64
	ProbedAt   time.Time

	devices map[string]*device.Handle
	names   []string
}

func newSnapshot(generation uint64, handles []*device.Handle) *Snapshot {
	s := &Snapshot{
		Generation: generation,
		ProbedAt:   time.Now(),
		devices:    make(map[string]*device.Handle, len(handles)),
		names:      make([]string, 0, len(handles)),
	}
	for _, h := range handles {
		s.devices[h.Name()] = h
		s.names = append(s.names, h.Name())
	}
	sort.Strings(s.names)
	return s
}

// Names returns the device names in order.
func (s *Snapshot) Names() []string {
	return append([]string(nil), s.names...)
}

// Devices returns every handle ordered by name.
func (s *Snapshot) Devices() []*device.Handle {
	res := make([]*device.Handle, 0, len(s.names))
	for _, name := range s.names {
		res = append(res, s.devices[name])
	}
	return res
}

func (s *Snapshot) Len() int {
	return len(s.names)
}

// Get returns the handle with exactly this name.
func (s *Snapshot) Get(name string) (*device.Handle, bool) {
	h, ok := s.devices[name]
	return h, ok
}

// Lookup resolves a user-supplied display name: an exact name wins,
// otherwise the first device (by name) whose name, model or description
// contains it.
func (s *Snapshot) Lookup(name string) (*device.Handle, error) {
	if h, ok := s.devices[name]; ok {
		return h, nil
	}
	if name != "" {
		for _, n := range s.names {
			h := s.devices[n]
			info := h.Info()
			if strings.Contains(n, name) || strings.Contains(info.Model, name) || strings.Contains(info.Description, name) {
				return h, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", device.ErrDeviceNotFound, name)
}

type Registry struct {
	probers []device.Prober

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	// owners maps each published device to the index of the prober that
	// found it. Guarded by refreshMu.
	owners map[string]int
}

// New returns a registry with an empty generation-0 snapshot. Call Refresh
// before serving requests.
func New(probers ...device.Prober) *Registry {
	r := &Registry{probers: probers, owners: make(map[string]int)}
	r.current.Store(newSnapshot(0, nil))
	return r
}

// Snapshot returns the latest published generation without blocking.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Refresh runs every prober and publishes a new generation. Devices that
// were present before keep their last-known value; devices that were not
// found are dropped. A prober that fails keeps the devices it found last
// time, and its error is returned alongside the new snapshot. When every
// prober fails, or ctx is done, the previous snapshot stays published.
func (r *Registry) Refresh(ctx context.Context) (*Snapshot, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := time.Now()
	prev := r.current.Load()
	generation := prev.Generation + 1

	var (
		probed []device.Probed
		owner  []int
		errs   error
	)
	failed := make(map[int]bool)
	for i, p := range r.probers {
		found, err := p.Probe(ctx)
		if err != nil {
			klog.Errorf("registry: %s probe failed, keeping its previous devices: %v", p.Name(), err)
			failed[i] = true
			errs = errors.Join(errs, fmt.Errorf("probe %s: %w", p.Name(), err))
			continue
		}
		probed = append(probed, found...)
		for range found {
			owner = append(owner, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return prev, fmt.Errorf("probe aborted: %w", err)
	}
	if len(r.probers) > 0 && len(failed) == len(r.probers) {
		return prev, errs
	}

	handles := make([]*device.Handle, 0, len(probed))
	owners := make(map[string]int, len(probed))
	for j, p := range probed {
		name := p.Name()
		if _, dup := owners[name]; dup {
			klog.Errorf("registry: duplicate device name %q from %s backend, keeping the first", name, p.Kind())
			continue
		}
		owners[name] = owner[j]

		liveness := device.Live
		if p.Stale {
			liveness = device.Stale
		}
		if old, ok := prev.devices[name]; ok && old.Kind() == p.Kind() {
			handles = append(handles, old.Successor(p.Device, generation, p.Value, liveness))
			continue
		}
		klog.Infof("registry: new %s device %q", p.Kind(), name)
		value := p.Value
		if p.Stale {
			lo, hi := p.Range()
			value = device.Clamp(value, lo, hi)
		}
		handles = append(handles, device.NewHandle(p.Device, generation, value, liveness))
	}

	for _, name := range prev.names {
		if _, ok := owners[name]; ok {
			continue
		}
		if i, ok := r.owners[name]; ok && failed[i] {
			old := prev.devices[name]
			handles = append(handles, old.Successor(old.Device(), generation, old.Cached(), old.Liveness()))
			owners[name] = i
			continue
		}
		klog.Infof("registry: device %q is gone", name)
	}

	next := newSnapshot(generation, handles)
	r.current.Store(next)
	r.owners = owners
	klog.Infof("registry: generation %d with %d devices %v in %s", generation, next.Len(), next.names, time.Since(start).Round(time.Millisecond))
	return next, errs
}

// Close releases hardware held by the probers.
func (r *Registry) Close() error {
	var errs error
	for _, p := range r.probers {
		if c, ok := p.(io.Closer); ok {
			errs = errors.Join(errs, c.Close())
		}
	}
	return errs
}
