package command

import (
	"fmt"
	"strings"
)

// DialogType is the kind of conversation a command may be used in.
type DialogType int

const (
	All DialogType = iota
	Private
	Conversation
)

// Allows reports whether a command declared for d may run in other.
func (d DialogType) Allows(other DialogType) bool {
	return d == All || other == All || d == other
}

func (d DialogType) String() string {
	switch d {
	case All:
		return "all"
	case Private:
		return "private"
	case Conversation:
		return "conversation"
	default:
		return fmt.Sprintf("dialog(%d)", int(d))
	}
}

// ParseDialogType parses the configuration spelling of a dialog type. The
// empty string means All.
func ParseDialogType(s string) (DialogType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "private", "private_message":
		return Private, nil
	case "conversation":
		return Conversation, nil
	default:
		return All, fmt.Errorf("unknown dialog type %q", s)
	}
}
