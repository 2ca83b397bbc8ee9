package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/cutlet/internal/ctxlog"
)

// transition moves inst to a new state, then publishes the snapshot, the log
// record and the bus events describing the change.
func (m *Manager) transition(ctx context.Context, inst *instance, to State, err error, hook string, elapsed time.Duration) {
	from := inst.state
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("lifecycle: illegal transition of %q from %s to %s", inst.desc.ID, from, to))
	}
	inst.state = to
	inst.err = err
	inst.since = time.Now()
	m.publishSnapshot()

	logger := ctxlog.FromContext(ctx)
	attrs := []any{"entity", inst.desc.ID, "type", inst.desc.TypeName, "from", from.String(), "to", to.String()}
	if hook != "" {
		attrs = append(attrs, "hook", hook, "elapsed", elapsed)
	}
	switch to {
	case Failed:
		logger.Error("Entity failed.", append(attrs, "error", err)...)
	case Started, Stopped, Reloading:
		logger.Info(transitionMessages[to], attrs...)
	default:
		logger.Debug(transitionMessages[to], attrs...)
	}

	bus := m.services.Bus
	bus.Publish(ctx, &TransitionEvent{
		ID:      inst.desc.ID,
		Type:    inst.desc.TypeName,
		From:    from,
		To:      to,
		Err:     err,
		Cycle:   m.cycle,
		Hook:    hook,
		Elapsed: elapsed,
	})
	switch {
	case from == Created && to == Started:
		bus.Publish(ctx, &EntityEnabled{ID: inst.desc.ID, Type: inst.desc.TypeName})
	case to == Stopped:
		bus.Publish(ctx, &EntityDisabled{ID: inst.desc.ID, Type: inst.desc.TypeName})
	}
}

var transitionMessages = map[State]string{
	Unloaded:  "Entity unloaded.",
	Created:   "Entity created.",
	Started:   "Entity started.",
	Reloading: "Entity reloading.",
	Stopped:   "Entity stopped.",
	Failed:    "Entity failed.",
}

// fail marks inst failed from any state that allows it. A stopped instance
// waiting to be recreated is unloaded first.
func (m *Manager) fail(ctx context.Context, inst *instance, err error, hook string, elapsed time.Duration) {
	if inst.state == Stopped {
		m.transition(ctx, inst, Unloaded, nil, "", 0)
	}
	m.transition(ctx, inst, Failed, err, hook, elapsed)
	inst.comp = nil
	m.release(ctx, inst)
}

// release removes everything the entity registered with the shared
// services.
func (m *Manager) release(ctx context.Context, inst *instance) {
	id := inst.desc.ID
	var timers, listeners, commands int
	if m.services.Timer != nil {
		timers = m.services.Timer.CancelAll(id)
	}
	listeners = m.services.Bus.UnsubscribeAll(id)
	if m.services.Commands != nil {
		commands = m.services.Commands.UnregisterAll(id)
	}
	if timers+listeners+commands > 0 {
		ctxlog.FromContext(ctx).Debug("Released entity services.",
			"entity", id, "timers", timers, "listeners", listeners, "commands", commands)
	}
}

// unload drops the record of an entity that holds no live component.
func (m *Manager) unload(ctx context.Context, inst *instance) {
	if inst.state != Unloaded {
		m.transition(ctx, inst, Unloaded, nil, "", 0)
	}
	delete(m.entities, inst.desc.ID)
	m.publishSnapshot()
}
