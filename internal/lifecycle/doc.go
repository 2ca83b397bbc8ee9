// Package lifecycle owns the live component of every configured entity and
// moves it through its states as descriptor tables are applied.
//
// All writes go through one driver goroutine, so reload cycles never
// overlap. Creation and start hooks of independent entities run on a
// bounded worker pool; readers observe the result through Status, an
// immutable snapshot replaced after every transition.
package lifecycle
