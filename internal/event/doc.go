// Package event implements the in-process event bus shared by the lifecycle
// manager, the command registry and components.
//
// Listeners subscribe to an event name (or to every event with Any) at one of
// six priorities. Publish dispatches synchronously from Lowest to Monitor, so
// Monitor listeners observe the final outcome, including whether a
// Cancellable event was cancelled. Events that implement Scoped belong to one
// entity; listeners owned by another entity do not see them unless they set
// IgnoreFilter.
package event
