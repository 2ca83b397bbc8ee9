package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyFailed marks entities that were not created because a
	// hard dependency is not running.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrManagerStopped is returned by Apply once shutdown has begun.
	ErrManagerStopped = errors.New("lifecycle manager is stopped")
	// ErrNotStarted is returned by Apply before Start.
	ErrNotStarted = errors.New("lifecycle manager is not started")
)

// Hook names used in LifecycleHookError.
const (
	HookCreate = "create"
	HookStart  = "start"
	HookReload = "reload"
	HookStop   = "stop"
)

// LifecycleHookError is a failure of a factory or of a component hook.
type LifecycleHookError struct {
	ID   string
	Hook string
	Err  error
}

func (e *LifecycleHookError) Error() string {
	return fmt.Sprintf("entity %q: %s hook failed: %v", e.ID, e.Hook, e.Err)
}

func (e *LifecycleHookError) Unwrap() error { return e.Err }

// ReloadConflictError records that a changed entity could not be reloaded in
// place because its component does not implement registry.Reloader. The
// manager resolves it by stopping and recreating the entity; it only shows
// up in a report when the recreation fails too.
type ReloadConflictError struct {
	ID   string
	Type string
}

func (e *ReloadConflictError) Error() string {
	return fmt.Sprintf("entity %q of type %q cannot reload in place", e.ID, e.Type)
}

// panicError turns a recovered hook panic into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
