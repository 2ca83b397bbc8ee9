// Package registry maps component type names to the factories that build
// live components for entities.
//
// Modules register their factories once during bootstrap, after which the
// registry is frozen. Every name is interned to a small integer TypeID at
// registration time, so the lifecycle manager resolves factories with a slice
// index instead of hashing the type name on every transition. Lookups after
// the freeze take no lock.
package registry
