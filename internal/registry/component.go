package registry

import (
	"context"

	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/timer"
)

// Component is a live entity instance.
type Component interface {
	// Start brings the component up. It may block; ctx is cancelled when the
	// process shuts down.
	Start(ctx context.Context) error
	// Stop releases every resource the component holds. ctx carries the
	// shutdown grace period.
	Stop(ctx context.Context) error
}

// Reloader is implemented by components that can apply a changed section
// without being recreated.
type Reloader interface {
	Reload(ctx context.Context, section *config.Section) error
}

// Services are the process-wide facilities a component may use. Anything a
// component registers with them under its entity ID is removed when the
// entity stops.
type Services struct {
	Bus      *event.Bus
	Timer    *timer.Scheduler
	Commands *command.Registry
}

// Spec is the input of a factory.
type Spec struct {
	ID       string
	Type     string
	Section  *config.Section
	Services Services
}

// Factory builds a component for an entity. It should not perform external
// side effects; those belong in Start.
type Factory func(ctx context.Context, spec Spec) (Component, error)
