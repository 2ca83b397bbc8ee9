package lifecycle

import (
	"time"
)

// Event names published on the bus.
const (
	EventTransition      = "lifecycle.transition"
	EventEntityEnabled   = "entity.enabled"
	EventEntityDisabled  = "entity.disabled"
	EventReloadCompleted = "lifecycle.reload_completed"
)

// TransitionEvent is published after every state change. It is scoped to
// the entity, so listeners registered by other entities only receive it
// when they ignore the owner filter.
type TransitionEvent struct {
	ID    string
	Type  string
	From  State
	To    State
	Err   error
	Cycle string
	// Hook and Elapsed are set when the transition follows a hook call.
	Hook    string
	Elapsed time.Duration
}

func (e *TransitionEvent) EventName() string { return EventTransition }
func (e *TransitionEvent) Owner() string     { return e.ID }

// EntityEnabled is published when a newly created entity has started.
type EntityEnabled struct {
	ID   string
	Type string
}

func (e *EntityEnabled) EventName() string { return EventEntityEnabled }
func (e *EntityEnabled) Owner() string     { return e.ID }

// EntityDisabled is published when an entity has stopped.
type EntityDisabled struct {
	ID   string
	Type string
}

func (e *EntityDisabled) EventName() string { return EventEntityDisabled }
func (e *EntityDisabled) Owner() string     { return e.ID }

// ReloadCompleted is published at the end of every reload cycle.
type ReloadCompleted struct {
	Report *Report
}

func (e *ReloadCompleted) EventName() string { return EventReloadCompleted }
