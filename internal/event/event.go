package event

import "fmt"

// Any subscribes a listener to every event name.
const Any = "*"

// Priority orders listeners of the same event.
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
	// Monitor listeners run last and should only observe.
	Monitor
)

func (p Priority) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Highest:
		return "highest"
	case Monitor:
		return "monitor"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Event is anything that can be published on the bus.
type Event interface {
	EventName() string
}

// Cancellable events can be vetoed by a listener.
type Cancellable interface {
	Event
	Cancelled() bool
	SetCancelled(bool)
}

// Scoped events relate to a single entity.
type Scoped interface {
	Owner() string
}

// Cancel is embedded by events that implement Cancellable.
type Cancel struct {
	cancelled bool
}

func (c *Cancel) Cancelled() bool { return c.cancelled }

func (c *Cancel) SetCancelled(v bool) { c.cancelled = v }
