// Package dispatch resolves client requests against a registry snapshot and
// runs them on every targeted device.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lumactl/lumactl/internal/device"
)

type Op string

const (
	OpGet         Op = "get"
	OpSetAbsolute Op = "set_absolute"
	OpSetRelative Op = "set_relative"
)

type Unit string

const (
	Raw     Unit = "raw"
	Percent Unit = "percent"
)

// Request is one client operation. Exactly one of Display and All selects
// the targets. Unit applies to Value for sets and to the reported value for
// gets.
type Request struct {
	Op      Op     `json:"op"`
	Value   int    `json:"value,omitempty"`
	Unit    Unit   `json:"unit,omitempty"`
	Display string `json:"display,omitempty"`
	All     bool   `json:"all,omitempty"`
	// Cached serves a get from the last-known value without hardware access.
	Cached bool `json:"cached,omitempty"`
}

func (r Request) String() string {
	target := "--all"
	if !r.All {
		target = strconv.Quote(r.Display)
	}
	switch r.Op {
	case OpGet:
		return fmt.Sprintf("get %s %s", r.unit(), target)
	case OpSetRelative:
		return fmt.Sprintf("set %+d %s %s", r.Value, r.unit(), target)
	}
	return fmt.Sprintf("%s %d %s %s", r.Op, r.Value, r.unit(), target)
}

func (r Request) unit() Unit {
	if r.Unit == "" {
		return Raw
	}
	return r.Unit
}

// Validate reports malformed requests as ErrInvalidRequest. Out-of-range
// values are not malformed: they are clamped to each device's range.
func (r Request) Validate() error {
	switch r.Op {
	case OpGet, OpSetAbsolute, OpSetRelative:
	default:
		return fmt.Errorf("%w: unknown operation %q", device.ErrInvalidRequest, r.Op)
	}
	switch r.unit() {
	case Raw, Percent:
	default:
		return fmt.Errorf("%w: unknown unit %q", device.ErrInvalidRequest, r.Unit)
	}
	switch {
	case r.All && r.Display != "":
		return fmt.Errorf("%w: both a display and all displays requested", device.ErrInvalidRequest)
	case !r.All && r.Display == "":
		return fmt.Errorf("%w: no display requested", device.ErrInvalidRequest)
	case r.Cached && r.Op != OpGet:
		return fmt.Errorf("%w: cached only applies to get", device.ErrInvalidRequest)
	}
	return nil
}

// ParseValue turns a command-line value into a set request: "50" and "50%"
// are absolute, "+10", "-10%" are relative.
func ParseValue(s string) (Request, error) {
	s = strings.TrimSpace(s)
	req := Request{Op: OpSetAbsolute, Unit: Raw}
	if rest, ok := strings.CutSuffix(s, "%"); ok {
		req.Unit = Percent
		s = rest
	}
	if s == "" {
		return Request{}, fmt.Errorf("%w: empty value", device.ErrInvalidRequest)
	}
	if s[0] == '+' || s[0] == '-' {
		req.Op = OpSetRelative
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %q is not a number", device.ErrInvalidRequest, s)
	}
	req.Value = v
	return req, nil
}
