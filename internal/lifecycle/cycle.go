package lifecycle

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/dag"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/registry"
)

// runCycle applies next on top of the current table. The diff and the plan
// derived from it are complete before the first transition.
func (m *Manager) runCycle(ctx context.Context, next *entity.Table) *Report {
	prev := m.table
	changes := entity.Diff(prev, next)
	r := newReport(uuid.NewString(), changes)
	m.cycle = r.Cycle
	m.table = next

	ctx, logger := ctxlog.With(ctx, "cycle", r.Cycle)
	began := time.Now()
	logger.Info("Reload cycle started.",
		"added", len(changes.Added),
		"removed", len(changes.Removed),
		"changed", len(changes.Changed),
		"unchanged", len(changes.Unchanged),
	)

	p := m.plan(prev, next, changes)
	for _, id := range p.restart {
		logger.Info("Entity follows its dependencies, recreating.", "entity", id)
	}
	for _, id := range p.retry {
		logger.Info("Entity may start now, retrying.", "entity", id)
	}
	for _, id := range p.fallback {
		logger.Info("Entity cannot reload in place, recreating.", "entity", id, "type", m.entities[id].desc.TypeName)
	}

	conflicts := make(map[string]error, len(p.fallback))
	for _, id := range p.fallback {
		conflicts[id] = &ReloadConflictError{ID: id, Type: m.entities[id].desc.TypeName}
	}

	// Everything that goes down stops in one pass, dependents first. Records
	// of recreated entities are kept.
	keep := make(map[string]bool, len(p.fallback)+len(p.restart))
	for _, id := range slices.Concat(p.fallback, p.restart) {
		keep[id] = true
	}
	m.stop(ctx, slices.Concat(changes.Removed, p.fresh, p.retry, p.fallback, p.restart), keep, r)
	for id := range keep {
		desc, _ := next.Get(id)
		m.entities[id].desc = desc
	}

	var failed []string
	for _, id := range p.inPlace {
		desc, _ := next.Get(id)
		inst := m.entities[id]
		if err := m.reloadInPlace(ctx, inst, inst.comp.(registry.Reloader), desc); err != nil {
			r.Failed[id] = err
			failed = append(failed, id)
			continue
		}
		r.Reloaded = append(r.Reloaded, id)
	}
	// Dependents of a component that failed to reload cannot keep running.
	var orphans []string
	if len(failed) > 0 {
		orphans = m.liveDependents(next, failed)
		for _, id := range orphans {
			keep[id] = true
		}
		m.stop(ctx, orphans, keep, r)
	}

	create := slices.Concat(changes.Added, p.fallback, p.restart, orphans, p.fresh, p.retry)
	m.create(ctx, next, create, conflicts, keep, r)

	m.publishSnapshot()
	m.services.Bus.Publish(ctx, &ReloadCompleted{Report: r})
	logger.Info("Reload cycle completed.",
		"started", len(r.Started),
		"reloaded", len(r.Reloaded),
		"recreated", len(r.Recreated),
		"stopped", len(r.Stopped),
		"failed", len(r.Failed),
		"cancelled", len(r.Cancelled),
		"elapsed", time.Since(began),
	)
	return r
}

// cyclePlan sorts the entities of next by what a cycle does to them.
type cyclePlan struct {
	// inPlace entities are handed their new section.
	inPlace []string
	// fallback entities changed but cannot reload; they are recreated.
	fallback []string
	// fresh entities changed while not running; they are built anew.
	fresh []string
	// restart entities are running and could stay, but one of their hard
	// dependencies goes down or they became invalid.
	restart []string
	// retry entities are unchanged and failed, but the cause may be gone.
	retry []string
}

// plan decides what happens to every entity of next. An unchanged entity is
// left alone unless its dependencies move under it: a running one is
// recreated when a hard dependency stops or it can no longer start, a failed
// one is retried when its table error changed or a hard dependency is being
// started again.
func (m *Manager) plan(prev, next *entity.Table, changes entity.Changes) cyclePlan {
	var p cyclePlan
	down := make(map[string]bool)
	up := make(map[string]bool)
	for _, id := range changes.Removed {
		down[id] = true
	}
	for _, id := range changes.Added {
		up[id] = true
	}

	candidates := make(map[string]bool)
	for _, id := range changes.Changed {
		desc, _ := next.Get(id)
		inst, ok := m.entities[id]
		switch {
		case !ok:
			up[id] = true
			p.fresh = append(p.fresh, id)
		case inst.state != Started || next.Err(id) != nil:
			down[id], up[id] = true, true
			p.fresh = append(p.fresh, id)
		default:
			_, reloads := inst.comp.(registry.Reloader)
			if reloads && inst.desc.TypeName == desc.TypeName {
				candidates[id] = true
				continue
			}
			down[id], up[id] = true, true
			p.fallback = append(p.fallback, id)
		}
	}
	for _, id := range changes.Unchanged {
		candidates[id] = true
	}

	hardDepIn := func(id string, set map[string]bool) bool {
		desc, _ := next.Get(id)
		return slices.ContainsFunc(desc.DependsOn, func(dep string) bool { return set[dep] })
	}

	// Propagate along hard dependencies until nothing moves.
	restart := make(map[string]bool)
	retry := make(map[string]bool)
	for moved := true; moved; {
		moved = false
		for _, id := range next.IDs() {
			if !candidates[id] || restart[id] || retry[id] {
				continue
			}
			inst, ok := m.entities[id]
			if !ok {
				continue
			}
			switch inst.state {
			case Created, Started:
				if next.Err(id) != nil || hardDepIn(id, down) {
					restart[id], down[id], up[id] = true, true, true
					moved = true
				}
			case Failed:
				if tableErr(prev, id) != tableErr(next, id) || hardDepIn(id, up) {
					retry[id], up[id] = true, true
					moved = true
				}
			}
		}
	}

	for _, id := range next.IDs() {
		switch {
		case restart[id]:
			p.restart = append(p.restart, id)
		case retry[id]:
			p.retry = append(p.retry, id)
		case candidates[id] && slices.Contains(changes.Changed, id):
			p.inPlace = append(p.inPlace, id)
		}
	}
	return p
}

// liveDependents returns the running entities that transitively hard-depend
// on any of ids, in the declaration order of table.
func (m *Manager) liveDependents(table *entity.Table, ids []string) []string {
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	var out []string
	for moved := true; moved; {
		moved = false
		for _, id := range table.IDs() {
			inst, ok := m.entities[id]
			if gone[id] || !ok || (inst.state != Created && inst.state != Started) {
				continue
			}
			if slices.ContainsFunc(inst.desc.DependsOn, func(dep string) bool { return gone[dep] }) {
				gone[id] = true
				out = append(out, id)
				moved = true
			}
		}
	}
	return out
}

func tableErr(t *entity.Table, id string) string {
	if t == nil {
		return ""
	}
	if err := t.Err(id); err != nil {
		return err.Error()
	}
	return ""
}

// stop stops the given entities, dependents first and otherwise in reverse
// creation order. Records not in keep are unloaded and dropped.
func (m *Manager) stop(ctx context.Context, ids []string, keep map[string]bool, r *Report) {
	for _, id := range m.stopOrder(ids) {
		inst := m.entities[id]
		if inst.state == Created || inst.state == Started {
			m.stopInstance(ctx, inst)
			if r != nil {
				r.Stopped = append(r.Stopped, id)
			}
		}
		if !keep[id] {
			m.unload(ctx, inst)
		}
	}
}

func (m *Manager) stopOrder(ids []string) []string {
	list := make([]*instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := m.entities[id]; ok {
			list = append(list, inst)
		}
	}
	slices.SortStableFunc(list, func(a, b *instance) int { return cmp.Compare(a.seq, b.seq) })

	g := dag.New()
	for _, inst := range list {
		g.AddNode(inst.desc.ID)
	}
	for _, inst := range list {
		id := inst.desc.ID
		for _, dep := range slices.Concat(inst.desc.DependsOn, inst.desc.SoftDependsOn) {
			if dep == id || !g.Has(dep) || g.HasPath(id, dep) {
				continue
			}
			_ = g.AddEdge(dep, id)
		}
	}

	order, err := g.TopologicalOrder(nil)
	if err != nil {
		order = make([]string, len(list))
		for i, inst := range list {
			order[i] = inst.desc.ID
		}
	}
	slices.Reverse(order)
	return order
}
