package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every configuration source under the given paths and
	// returns the merged document. Any read, parse or evaluation failure is
	// reported as a *LoadError.
	Load(ctx context.Context, paths ...string) (*Document, error)
}
