package lifecycle

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of one entity.
type State int

const (
	Unloaded State = iota
	Created
	Started
	Reloading
	Stopped
	Failed
)

var stateNames = [...]string{
	Unloaded:  "unloaded",
	Created:   "created",
	Started:   "started",
	Reloading: "reloading",
	Stopped:   "stopped",
	Failed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name, also when used as a map key.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown lifecycle state %q", text)
}

var transitions = map[State][]State{
	Unloaded:  {Created, Failed},
	Created:   {Started, Stopped, Failed},
	Started:   {Reloading, Stopped},
	Reloading: {Started, Failed},
	Stopped:   {Unloaded, Created},
	Failed:    {Unloaded},
}

// CanTransition reports whether an entity may move from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
