package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/registry"
)

type resultKind int

const (
	resultCreated resultKind = iota
	resultStarted
	resultFailed
	// resultInterrupted: the start hook returned after observing shutdown.
	resultInterrupted
	// resultSkipped: shutdown began before the component could be started.
	resultSkipped
)

type result struct {
	id      string
	kind    resultKind
	comp    registry.Component
	err     error
	hook    string
	elapsed time.Duration
}

// final reports whether the worker is done with the entity.
func (r result) final() bool { return r.kind != resultCreated }

type waiter struct {
	id   string
	hard bool
}

// create builds and starts the given entities of table on the worker pool.
// An entity is dispatched once every dependency in the same batch has
// settled; ready entities go out in creation order. Entities in recreated
// are reported as recreated rather than started.
func (m *Manager) create(ctx context.Context, table *entity.Table, ids []string, conflicts map[string]error, recreated map[string]bool, r *Report) {
	if len(ids) == 0 {
		return
	}
	logger := ctxlog.FromContext(ctx)

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
		if _, ok := m.entities[id]; !ok {
			desc, _ := table.Get(id)
			m.entities[id] = &instance{desc: desc, state: Unloaded, since: time.Now()}
		}
	}
	m.publishSnapshot()

	var order []string
	pos := make(map[string]int)
	for _, id := range table.Order() {
		if wanted[id] {
			pos[id] = len(order)
			order = append(order, id)
		}
	}

	resolved := make(map[string]bool, len(ids))
	pending := make(map[string]int, len(order))
	waiters := make(map[string][]waiter)
	blocked := make(map[string]string)
	var ready []string

	for _, id := range order {
		desc := m.entities[id].desc
		for _, dep := range desc.DependsOn {
			if _, ok := pos[dep]; ok {
				pending[id]++
				waiters[dep] = append(waiters[dep], waiter{id: id, hard: true})
				continue
			}
			if inst, ok := m.entities[dep]; (!ok || inst.state != Started) && blocked[id] == "" {
				blocked[id] = dep
			}
		}
		for _, dep := range desc.SoftDependsOn {
			if p, ok := pos[dep]; ok && p < pos[id] && !slices.Contains(desc.DependsOn, dep) {
				pending[id]++
				waiters[dep] = append(waiters[dep], waiter{id: id})
			}
		}
	}

	unblock := func(id string) {
		if resolved[id] {
			return
		}
		pending[id]--
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	var fail func(id string, err error, hook string, elapsed time.Duration)
	fail = func(id string, err error, hook string, elapsed time.Duration) {
		if resolved[id] {
			return
		}
		resolved[id] = true
		if c, ok := conflicts[id]; ok {
			err = errors.Join(c, err)
		}
		m.fail(ctx, m.entities[id], err, hook, elapsed)
		r.Failed[id] = err
		for _, w := range waiters[id] {
			if w.hard {
				fail(w.id, fmt.Errorf("%w: %q requires %q", ErrDependencyFailed, w.id, id), "", 0)
			} else {
				unblock(w.id)
			}
		}
	}
	succeed := func(id string) {
		resolved[id] = true
		if recreated[id] {
			r.Recreated = append(r.Recreated, id)
		} else {
			r.Started = append(r.Started, id)
		}
		for _, w := range waiters[id] {
			unblock(w.id)
		}
	}

	for _, id := range table.IDs() {
		if wanted[id] {
			if err := table.Err(id); err != nil {
				fail(id, err, "", 0)
			}
		}
	}
	for _, id := range order {
		if dep, ok := blocked[id]; ok {
			fail(id, fmt.Errorf("%w: %q requires %q", ErrDependencyFailed, id, dep), "", 0)
		}
	}
	for _, id := range order {
		if !resolved[id] && pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	handle := func(res result) {
		inst := m.entities[res.id]
		switch res.kind {
		case resultCreated:
			m.seq++
			inst.seq = m.seq
			inst.comp = res.comp
			m.transition(ctx, inst, Created, nil, HookCreate, res.elapsed)
		case resultStarted:
			m.transition(ctx, inst, Started, nil, HookStart, res.elapsed)
			succeed(res.id)
		case resultFailed:
			fail(res.id, res.err, res.hook, res.elapsed)
		case resultInterrupted:
			resolved[res.id] = true
			logger.Info("Entity start interrupted by shutdown.", "entity", res.id, "error", res.err)
			m.stopInstance(ctx, inst)
			m.unload(ctx, inst)
			r.Cancelled = append(r.Cancelled, res.id)
		}
	}

	workers := min(m.workers, len(order))
	jobs := make(chan *entity.Descriptor, max(workers, 1))
	// Every job reports at most twice; sends never block, even after the
	// driver stopped listening.
	results := make(chan result, 2*len(order))
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go m.worker(ctx, i, jobs, results, &wg)
	}

	inflight := 0
	running := make(map[string]bool)
	settle := func(res result) {
		handle(res)
		if res.final() {
			delete(running, res.id)
			inflight--
		}
	}
	for {
		if ctx.Err() == nil {
			slices.SortFunc(ready, func(a, b string) int { return pos[a] - pos[b] })
			for len(ready) > 0 && inflight < workers {
				id := ready[0]
				ready = ready[1:]
				if resolved[id] {
					continue
				}
				jobs <- m.entities[id].desc
				running[id] = true
				inflight++
			}
		}
		if inflight == 0 || ctx.Err() != nil {
			break
		}
		select {
		case res := <-results:
			settle(res)
		case <-ctx.Done():
		}
	}

	if inflight > 0 {
		logger.Info("Waiting for in-flight entity creations.", "count", inflight, "grace_period", m.grace)
		grace := time.NewTimer(m.grace)
		defer grace.Stop()
	drain:
		for inflight > 0 {
			select {
			case res := <-results:
				settle(res)
			case <-grace.C:
				break drain
			}
		}
	}
	close(jobs)
	if inflight == 0 {
		wg.Wait()
	}

	for _, id := range order {
		if resolved[id] {
			continue
		}
		inst := m.entities[id]
		switch {
		case inst.state == Created:
			// The start hook is still running; shutdown stops it.
			logger.Warn("Entity start outlived the grace period.", "entity", id)
		case running[id]:
			logger.Warn("Entity creation abandoned after grace period.", "entity", id)
			m.unload(ctx, inst)
			r.Cancelled = append(r.Cancelled, id)
		default:
			logger.Info("Entity creation cancelled.", "entity", id)
			m.unload(ctx, inst)
			r.Cancelled = append(r.Cancelled, id)
		}
	}
}

// worker creates and starts the entities it receives until jobs is closed.
func (m *Manager) worker(ctx context.Context, workerID int, jobs <-chan *entity.Descriptor, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "worker", workerID)

	for desc := range jobs {
		if ctx.Err() != nil {
			results <- result{id: desc.ID, kind: resultSkipped}
			continue
		}
		logger.Debug("Worker picked up entity.", "worker", workerID, "entity", desc.ID)
		m.createAndStart(ctx, desc, results)
	}
	logger.Debug("Worker finished.", "worker", workerID)
}

func (m *Manager) createAndStart(ctx context.Context, desc *entity.Descriptor, results chan<- result) {
	ctx, _ = ctxlog.With(ctx, "entity", desc.ID)

	factory, err := m.factory(desc)
	if err != nil {
		results <- result{id: desc.ID, kind: resultFailed, err: err}
		return
	}

	spec := registry.Spec{ID: desc.ID, Type: desc.TypeName, Section: desc.Section, Services: m.services}
	began := time.Now()
	var comp registry.Component
	err = guard(func() error {
		var ferr error
		comp, ferr = factory(ctx, spec)
		return ferr
	})
	if err == nil && comp == nil {
		err = errors.New("factory returned no component")
	}
	if err != nil {
		results <- result{
			id:      desc.ID,
			kind:    resultFailed,
			err:     &LifecycleHookError{ID: desc.ID, Hook: HookCreate, Err: err},
			hook:    HookCreate,
			elapsed: time.Since(began),
		}
		return
	}
	if ctx.Err() != nil {
		// The driver may have abandoned this entity already.
		m.discard(ctx, &instance{desc: desc, comp: comp})
		results <- result{id: desc.ID, kind: resultSkipped}
		return
	}
	results <- result{id: desc.ID, kind: resultCreated, comp: comp, elapsed: time.Since(began)}

	began = time.Now()
	err = guard(func() error { return comp.Start(ctx) })
	res := result{id: desc.ID, hook: HookStart, elapsed: time.Since(began)}
	switch {
	case err == nil:
		res.kind = resultStarted
	case ctx.Err() != nil:
		res.kind = resultInterrupted
		res.err = err
	default:
		res.kind = resultFailed
		res.err = &LifecycleHookError{ID: desc.ID, Hook: HookStart, Err: err}
	}
	results <- res
}
