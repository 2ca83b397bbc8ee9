package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/registry"
)

// DefaultGracePeriod bounds stop hooks and the wait for in-flight creations
// during shutdown.
const DefaultGracePeriod = 10 * time.Second

// Factories resolves component factories. *registry.Registry implements it.
type Factories interface {
	Resolve(name string) (registry.Factory, error)
	Factory(id registry.TypeID) (registry.Factory, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers bounds the number of entities created concurrently. Values
// below one select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		m.workers = n
	}
}

// WithGracePeriod sets how long shutdown waits for a hook.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithServices sets the facilities passed to factories. A nil bus is
// replaced by a private one.
func WithServices(s registry.Services) Option {
	return func(m *Manager) {
		m.services = s
	}
}

// instance is the manager's record of one entity. Only the driver goroutine
// touches it.
type instance struct {
	desc  *entity.Descriptor
	comp  registry.Component
	state State
	err   error
	since time.Time
	// seq orders instances by creation; zero means never created.
	seq uint64
}

type request struct {
	table    *entity.Table
	shutdown bool
	reply    chan *Report
}

// Manager runs the entities of the applied descriptor tables.
type Manager struct {
	factories Factories
	services  registry.Services
	workers   int
	grace     time.Duration

	requests  chan request
	done      chan struct{}
	started   atomic.Bool
	stopping  atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	cancelRun context.CancelFunc
	snapshot  atomic.Pointer[Snapshot]

	// Owned by the driver goroutine.
	table    *entity.Table
	entities map[string]*instance
	seq      uint64
	cycle    string
}

// New creates a manager. Call Start before Apply.
func New(factories Factories, opts ...Option) *Manager {
	m := &Manager{
		factories: factories,
		workers:   runtime.NumCPU(),
		grace:     DefaultGracePeriod,
		requests:  make(chan request),
		done:      make(chan struct{}),
		cancelRun: func() {},
		table:     entity.NewTable(),
		entities:  make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.services.Bus == nil {
		m.services.Bus = event.NewBus()
	}
	m.snapshot.Store(&Snapshot{})
	return m
}

// Bus returns the bus lifecycle events are published on.
func (m *Manager) Bus() *event.Bus {
	return m.services.Bus
}

// Start launches the driver goroutine. The logger and values of ctx are
// used by every hook; its cancellation is not, use Shutdown instead.
func (m *Manager) Start(ctx context.Context) error {
	if m.stopping.Load() {
		return ErrManagerStopped
	}
	launched := false
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancelRun = cancel
		m.started.Store(true)
		launched = true
		go m.run(runCtx)
	})
	if !launched {
		return errors.New("lifecycle manager already started")
	}
	return nil
}

// Apply runs one reload cycle against table and returns its report. Cycles
// run one at a time in the order they were requested. When ctx ends first,
// the cycle still completes but its report is lost.
func (m *Manager) Apply(ctx context.Context, table *entity.Table) (*Report, error) {
	if table == nil {
		return nil, errors.New("nil descriptor table")
	}
	if !m.started.Load() {
		return nil, ErrNotStarted
	}
	if m.stopping.Load() {
		return nil, ErrManagerStopped
	}

	req := request{table: table, reply: make(chan *Report, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return nil, ErrManagerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels pending creations, lets the current cycle settle and
// stops every entity, dependents before their dependencies and otherwise in
// reverse creation order. Stop failures are logged and do not interrupt the
// sequence. It returns when all entities are unloaded or ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.cancelRun()
	})
	if !m.started.Load() {
		return nil
	}

	req := request{shutdown: true, reply: make(chan *Report, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once shutdown has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Status returns the latest snapshot. It never blocks.
func (m *Manager) Status() Snapshot {
	return *m.snapshot.Load()
}

// Health summarizes the latest snapshot.
func (m *Manager) Health() Health {
	return m.Status().Health()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Lifecycle driver started.", "workers", m.workers, "grace_period", m.grace)

	for req := range m.requests {
		if req.shutdown {
			m.shutdown(ctx)
			req.reply <- nil
			logger.Debug("Lifecycle driver finished.")
			return
		}
		req.reply <- m.runCycle(ctx, req.table)
	}
}

func (m *Manager) shutdown(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	ids := make([]string, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	logger.Info("Shutting down entities.", "count", len(ids))
	m.stop(ctx, ids, nil, nil)
	logger.Info("All entities unloaded.")
}

// publishSnapshot replaces the snapshot with the current records.
func (m *Manager) publishSnapshot() {
	list := make([]*instance, 0, len(m.entities))
	for _, inst := range m.entities {
		list = append(list, inst)
	}
	slices.SortFunc(list, func(a, b *instance) int {
		if c := cmp.Compare(a.desc.Index, b.desc.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.desc.ID, b.desc.ID)
	})

	s := &Snapshot{Cycle: m.cycle, Entities: make([]EntityStatus, len(list))}
	for i, inst := range list {
		st := EntityStatus{
			ID:    inst.desc.ID,
			Type:  inst.desc.TypeName,
			State: inst.state,
			Since: inst.since,
			Err:   inst.err,
		}
		if inst.err != nil {
			st.Error = inst.err.Error()
		}
		s.Entities[i] = st
	}
	m.snapshot.Store(s)
}
