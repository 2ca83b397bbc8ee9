package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/registry"
)

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn()
}

// factory resolves the factory of a descriptor. Unregistered types fail
// with *registry.UnknownTypeError.
func (m *Manager) factory(d *entity.Descriptor) (registry.Factory, error) {
	if d.Type == registry.NoType {
		return m.factories.Resolve(d.TypeName)
	}
	return m.factories.Factory(d.Type)
}

// stopHook calls the component's Stop bounded by the grace period. A hook
// that outlives the grace period is abandoned.
func (m *Manager) stopHook(ctx context.Context, inst *instance) (time.Duration, error) {
	if inst.comp == nil {
		return 0, nil
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.grace)
	defer cancel()

	began := time.Now()
	result := make(chan error, 1)
	go func() {
		result <- guard(func() error { return inst.comp.Stop(stopCtx) })
	}()

	var err error
	select {
	case err = <-result:
	case <-stopCtx.Done():
		err = stopCtx.Err()
	}
	elapsed := time.Since(began)
	if err != nil {
		err = &LifecycleHookError{ID: inst.desc.ID, Hook: HookStop, Err: err}
		ctxlog.FromContext(ctx).Warn("Entity stop hook failed, continuing.",
			"entity", inst.desc.ID, "error", err, "elapsed", elapsed)
	}
	return elapsed, err
}

// stopInstance runs the stop hook of a created or started entity and moves
// it to Stopped. Stop failures are logged only.
func (m *Manager) stopInstance(ctx context.Context, inst *instance) {
	elapsed, _ := m.stopHook(ctx, inst)
	m.transition(ctx, inst, Stopped, nil, HookStop, elapsed)
	inst.comp = nil
	m.release(ctx, inst)
}

// discard stops a component that was built after shutdown began and releases
// whatever it registered. It runs on a worker, outside the entity records.
func (m *Manager) discard(ctx context.Context, inst *instance) {
	ctxlog.FromContext(ctx).Info("Entity built after shutdown began, stopping it.", "entity", inst.desc.ID)
	_, _ = m.stopHook(ctx, inst)
	m.release(ctx, inst)
}

// reloadInPlace hands the new section to a running component.
func (m *Manager) reloadInPlace(ctx context.Context, inst *instance, rl registry.Reloader, desc *entity.Descriptor) error {
	m.transition(ctx, inst, Reloading, nil, "", 0)
	inst.desc = desc

	began := time.Now()
	err := guard(func() error { return rl.Reload(ctx, desc.Section) })
	elapsed := time.Since(began)
	if err == nil {
		m.transition(ctx, inst, Started, nil, HookReload, elapsed)
		return nil
	}

	herr := &LifecycleHookError{ID: desc.ID, Hook: HookReload, Err: err}
	m.transition(ctx, inst, Failed, herr, HookReload, elapsed)
	if _, serr := m.stopHook(ctx, inst); serr != nil {
		herr.Err = errors.Join(err, serr)
	}
	inst.comp = nil
	m.release(ctx, inst)
	return herr
}
