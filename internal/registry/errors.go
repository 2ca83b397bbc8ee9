package registry

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateType = errors.New("duplicate component type")
	ErrUnknownType   = errors.New("unknown component type")
	ErrFrozen        = errors.New("registry is frozen")
)

// DuplicateTypeError is returned when a type name is registered twice.
type DuplicateTypeError struct {
	Type string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("component type %q is already registered", e.Type)
}

func (e *DuplicateTypeError) Is(target error) bool { return target == ErrDuplicateType }

// UnknownTypeError is returned when no factory is bound to a type name.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("component type %q is not registered", e.Type)
}

func (e *UnknownTypeError) Is(target error) bool { return target == ErrUnknownType }
