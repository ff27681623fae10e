package udev

import (
	"github.com/lumactl/lumactl/internal/hotplug"
	"github.com/lumactl/lumactl/internal/mux"
)

const (
	DRMSubsystem       = "drm"
	I2CDevSubsystem    = "i2c-dev"
	BacklightSubsystem = "backlight"

	PropertyHotplug = "HOTPLUG"

	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionChange  = "change"
	ActionOffline = "offline"
	ActionOnline  = "online"
)

// Subsystems are the ones the monitor subscribes to.
var Subsystems = []string{DRMSubsystem, I2CDevSubsystem, BacklightSubsystem}

// Uevent is the part of a kernel uevent the monitor looks at.
type Uevent struct {
	Action    string
	Subsystem string
	Syspath   string
	Devnode   string
	// Hotplug is set on drm change events that report a connector status
	// change.
	Hotplug bool
}

func subsystem(name string) mux.FilterFunc[Uevent] {
	return func(u Uevent) bool {
		return u.Subsystem == name
	}
}

func action(names ...string) mux.FilterFunc[Uevent] {
	return func(u Uevent) bool {
		for _, name := range names {
			if u.Action == name {
				return true
			}
		}
		return false
	}
}

func hotplugChange(u Uevent) bool {
	return u.Action == ActionChange && u.Hotplug
}

// Interesting reports uevents that can change the set of displays. Brightness
// changes on a backlight arrive as change events and are dropped.
var Interesting = mux.Or(
	mux.And(subsystem(DRMSubsystem), mux.Or(action(ActionAdd, ActionRemove, ActionOnline, ActionOffline), hotplugChange)),
	mux.And(subsystem(I2CDevSubsystem), action(ActionAdd, ActionRemove)),
	mux.And(subsystem(BacklightSubsystem), mux.Not(action(ActionChange))),
)

// ToEvent maps an interesting uevent to a hot-plug event.
func ToEvent(u Uevent) hotplug.Event {
	kind := hotplug.Connected
	if u.Action == ActionRemove || u.Action == ActionOffline {
		kind = hotplug.Disconnected
	}
	hint := u.Syspath
	if u.Devnode != "" {
		hint = u.Devnode
	}
	return hotplug.Event{Kind: kind, Hint: hint, Source: "udev"}
}
