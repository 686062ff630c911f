package unit

import "fmt"

// State of a unit inside an executor. Transitions only move forward:
//
//	Submitted -> Compiled -> Loaded -> Initialized -> Unloaded
//
// Initialized is optional, Unloaded is terminal and only reachable from Loaded or Initialized.
type State uint8

const (
	Submitted State = iota
	Compiled
	Loaded
	Initialized
	Unloaded
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Compiled:
		return "compiled"
	case Loaded:
		return "loaded"
	case Initialized:
		return "initialized"
	case Unloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Live reports whether a unit in this state owns loaded code.
func (s State) Live() bool {
	return s == Loaded || s == Initialized
}

// CanMove reports whether the transition from s to next is allowed.
func (s State) CanMove(next State) bool {
	switch next {
	case Compiled:
		return s == Submitted
	case Loaded:
		return s == Compiled
	case Initialized:
		return s == Loaded
	case Unloaded:
		return s.Live()
	default:
		return false
	}
}
