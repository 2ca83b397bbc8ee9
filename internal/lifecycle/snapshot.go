package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vk/cutlet/internal/entity"
)

// EntityStatus is the state of one entity at the time a snapshot was taken.
type EntityStatus struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	State State     `json:"state"`
	Since time.Time `json:"since"`
	Error string    `json:"error,omitempty"`
	Err   error     `json:"-"`
}

// Snapshot is an immutable view of every known entity, in declaration order.
type Snapshot struct {
	Cycle    string         `json:"cycle,omitempty"`
	Entities []EntityStatus `json:"entities"`
}

// Get returns the status of one entity.
func (s Snapshot) Get(id string) (EntityStatus, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityStatus{}, false
}

// Count returns the number of entities in the given state.
func (s Snapshot) Count(state State) int {
	n := 0
	for _, e := range s.Entities {
		if e.State == state {
			n++
		}
	}
	return n
}

// Health summarizes a snapshot.
type Health struct {
	Healthy bool              `json:"healthy"`
	Counts  map[State]int     `json:"counts"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// FailedIDs returns the IDs of the failed entities in sorted order.
func (h Health) FailedIDs() []string {
	ids := make([]string, 0, len(h.Failed))
	for id := range h.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Health aggregates the snapshot: counts per state and the failed entities.
// It is healthy when no entity has failed.
func (s Snapshot) Health() Health {
	h := Health{Counts: make(map[State]int)}
	for _, e := range s.Entities {
		h.Counts[e.State]++
		if e.State == Failed {
			if h.Failed == nil {
				h.Failed = make(map[string]string)
			}
			h.Failed[e.ID] = e.Error
		}
	}
	h.Healthy = len(h.Failed) == 0
	return h
}

// Report describes the outcome of one reload cycle. Entity IDs in each list
// are in the order the manager handled them.
type Report struct {
	Cycle   string
	Changes entity.Changes
	// Started lists entities that were created and started.
	Started []string
	// Reloaded lists entities that were reloaded in place.
	Reloaded []string
	// Recreated lists changed entities that were stopped and started again.
	Recreated []string
	// Stopped lists entities whose stop hook ran.
	Stopped []string
	// Cancelled lists entities whose creation was cut short by shutdown.
	Cancelled []string
	Failed    map[string]error
}

func newReport(cycle string, changes entity.Changes) *Report {
	return &Report{Cycle: cycle, Changes: changes, Failed: make(map[string]error)}
}

// Err joins the per-entity failures in ID order, or returns nil.
func (r *Report) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = fmt.Errorf("%s: %w", id, r.Failed[id])
	}
	return errors.Join(errs...)
}
