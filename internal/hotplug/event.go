// Package hotplug turns display connect and disconnect signals into
// coalesced registry refreshes.
package hotplug

import (
	"context"
	"fmt"
)

type Kind int

const (
	Connected Kind = iota
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one signal from a source. Hint is backend specific: a syspath,
// a device node or the name of a timer.
type Event struct {
	Kind   Kind
	Hint   string
	Source string
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s %s]", e.Source, e.Kind, e.Hint)
}

// Publisher accepts events from sources; *mux.Mux[Event] is one.
type Publisher interface {
	Submit(context.Context, Event) error
}

// Source produces events until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, out Publisher) error
}
