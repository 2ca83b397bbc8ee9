package entity

import "errors"

var (
	// ErrDuplicateID is returned by Build when two entity sections share an ID.
	ErrDuplicateID = errors.New("duplicate entity ID")
	// ErrDependencyCycle marks entities that are part of a dependency cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrMissingDependency marks entities whose hard dependency is not in
	// the table.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrInvalidHeader marks entities whose reserved attributes could not be
	// decoded.
	ErrInvalidHeader = errors.New("invalid entity header")
)
