package config

import (
	"errors"
	"fmt"
)

// ErrConfigLoad is matched by every error returned from a Loader.
var ErrConfigLoad = errors.New("configuration load failed")

// LoadError reports a configuration source that could not be read, parsed or
// evaluated.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load configuration from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrConfigLoad, e.Err}
}
