package event

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/cutlet/internal/ctxlog"
)

// Handler receives a published event.
type Handler func(ctx context.Context, ev Event)

// Listener describes one subscription.
type Listener struct {
	// Owner is the entity the listener belongs to. Empty means the process
	// itself, which receives every scoped event.
	Owner    string
	Priority Priority
	// ReceiveCancelled delivers Cancellable events that an earlier listener
	// already cancelled.
	ReceiveCancelled bool
	// IgnoreFilter delivers scoped events owned by other entities.
	IgnoreFilter bool
	Handler      Handler
}

// Subscription identifies a registered listener.
type Subscription uint64

type subscription struct {
	id       Subscription
	name     string
	listener Listener
}

// Bus dispatches events to listeners. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID Subscription
	byName map[string][]*subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{byName: make(map[string][]*subscription)}
}

// Subscribe registers l for events called name, or for every event when
// name is Any.
func (b *Bus) Subscribe(name string, l Listener) Subscription {
	if l.Handler == nil {
		panic("event: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, name: name, listener: l}
	list := append(b.byName[name], sub)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].listener.Priority < list[j].listener.Priority
	})
	b.byName[name] = list
	return sub.id
}

// Unsubscribe removes a single subscription. It reports whether it existed.
func (b *Bus) Unsubscribe(id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, list := range b.byName {
		for i, sub := range list {
			if sub.id == id {
				b.byName[name] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// UnsubscribeAll removes every listener registered by owner and returns how
// many were removed.
func (b *Bus) UnsubscribeAll(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for name, list := range b.byName {
		kept := list[:0:0]
		for _, sub := range list {
			if sub.listener.Owner == owner {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		b.byName[name] = kept
	}
	return removed
}

// Publish delivers ev synchronously to every matching listener in priority
// order. A panicking listener is logged and skipped.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	for _, sub := range b.matching(ev.EventName()) {
		if !deliverable(sub.listener, ev) {
			continue
		}
		b.call(ctx, sub, ev)
	}
}

// matching merges the listeners of name and Any, preserving priority order
// and subscription order within a priority.
func (b *Bus) matching(name string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	named, all := b.byName[name], b.byName[Any]
	if name == Any {
		all = nil
	}
	out := make([]*subscription, 0, len(named)+len(all))
	out = append(out, named...)
	out = append(out, all...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].listener.Priority != out[j].listener.Priority {
			return out[i].listener.Priority < out[j].listener.Priority
		}
		return out[i].id < out[j].id
	})
	return out
}

func deliverable(l Listener, ev Event) bool {
	if c, ok := ev.(Cancellable); ok && c.Cancelled() && !l.ReceiveCancelled {
		return false
	}
	if s, ok := ev.(Scoped); ok && l.Owner != "" && !l.IgnoreFilter && s.Owner() != l.Owner {
		return false
	}
	return true
}

func (b *Bus) call(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Event listener panicked.",
				"event", ev.EventName(),
				"owner", sub.listener.Owner,
				"priority", sub.listener.Priority.String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	sub.listener.Handler(ctx, ev)
}

// Typed adapts a handler for a concrete event type. Events of other types are
// ignored.
func Typed[T Event](fn func(ctx context.Context, ev T)) Handler {
	return func(ctx context.Context, ev Event) {
		if t, ok := ev.(T); ok {
			fn(ctx, t)
		}
	}
}
