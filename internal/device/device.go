package device

import (
	"context"
)

// Kind identifies the backend a device is driven by.
type Kind interface {
	String() string
	sealed()
}

type Backlight struct{}

func (Backlight) sealed() {}

func (Backlight) String() string {
	return "backlight"
}

type DDC struct{}

func (DDC) sealed() {}

func (DDC) String() string {
	return "ddc"
}

// Info carries descriptive strings used for name matching.
type Info struct {
	Model       string
	Description string
}

// Device is the capability set both backends implement.
// Write receives a value already clamped into Range and returns the
// value the hardware accepted.
type Device interface {
	Name() string
	Kind() Kind
	Info() Info
	Range() (lo, hi int)
	Read(ctx context.Context) (int, error)
	Write(ctx context.Context, value int) (int, error)
}

// Probed is a device found by a probe pass together with the value it
// reported at that moment.
type Probed struct {
	Device
	Value int
	Stale bool
}

// Prober enumerates the devices of one backend.
type Prober interface {
	Name() string
	Probe(ctx context.Context) ([]Probed, error)
}
