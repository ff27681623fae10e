package dispatch

import (
	"fmt"

	"github.com/lumactl/lumactl/internal/device"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the outcome for one targeted device. Value is in the request's
// unit, Raw always in device units.
type Result struct {
	Display string           `json:"display"`
	Status  Status           `json:"status"`
	Value   int              `json:"value,omitempty"`
	Unit    Unit             `json:"unit,omitempty"`
	Raw     int              `json:"raw,omitempty"`
	Min     int              `json:"min,omitempty"`
	Max     int              `json:"max,omitempty"`
	Kind    device.ErrorKind `json:"kind,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (r Result) String() string {
	if r.Status != StatusOK {
		return fmt.Sprintf("%s: %s: %s", r.Display, r.Kind, r.Error)
	}
	if r.Unit == Percent {
		return fmt.Sprintf("%s: %d%%", r.Display, r.Value)
	}
	return fmt.Sprintf("%s: %d/%d", r.Display, r.Value, r.Max)
}

// Response answers one request. Kind and Error are set only when the request
// as a whole was rejected.
type Response struct {
	Generation uint64           `json:"generation"`
	Results    []Result         `json:"results,omitempty"`
	Kind       device.ErrorKind `json:"kind,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Reject builds a request-level error response.
func Reject(generation uint64, err error) Response {
	return Response{Generation: generation, Kind: device.KindOf(err), Error: err.Error()}
}

// Failed reports whether the request or any device in it failed.
func (r Response) Failed() bool {
	if r.Kind != "" {
		return true
	}
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return true
		}
	}
	return false
}

// Err returns the request-level error, if any.
func (r Response) Err() error {
	if r.Kind == "" {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Kind, r.Error)
}
