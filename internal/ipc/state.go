package ipc

import "fmt"

// State is the progress of one connection.
type State int

const (
	Accepted State = iota
	ParsingRequest
	Resolving
	Executing
	RespondingDone
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case ParsingRequest:
		return "ParsingRequest"
	case Resolving:
		return "Resolving"
	case Executing:
		return "Executing"
	case RespondingDone:
		return "RespondingDone"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
