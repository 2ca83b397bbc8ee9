package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/cutlet/internal/command"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/entity"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/registry"
	"github.com/vk/cutlet/internal/timer"
	"github.com/zclconf/go-cty/cty"
)

// probe records what the test components were asked to do.
type probe struct {
	mu       sync.Mutex
	calls    []string
	built    map[string]int
	comps    map[string]registry.Component
	sections map[string]*config.Section

	entered chan string
	release chan struct{}
	active  int
	peak    int
}

func newProbe() *probe {
	return &probe{
		built:    make(map[string]int),
		comps:    make(map[string]registry.Component),
		sections: make(map[string]*config.Section),
		entered:  make(chan string, 16),
		release:  make(chan struct{}),
	}
}

func (p *probe) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *probe) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *probe) Built(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built[id]
}

func (p *probe) Component(id string) registry.Component {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comps[id]
}

func (p *probe) Section(id string) *config.Section {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sections[id]
}

func (p *probe) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

type testComponent struct {
	id    string
	p     *probe
	spec  registry.Spec
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (c *testComponent) Start(ctx context.Context) error {
	c.p.record("start:" + c.id)
	if c.start != nil {
		return c.start(ctx)
	}
	return nil
}

func (c *testComponent) Stop(ctx context.Context) error {
	c.p.record("stop:" + c.id)
	if c.stop != nil {
		return c.stop(ctx)
	}
	return nil
}

type reloadingComponent struct {
	*testComponent
	fail bool
}

func (c *reloadingComponent) Reload(ctx context.Context, s *config.Section) error {
	c.p.record("reload:" + c.id)
	if c.fail {
		return errors.New("reload refused")
	}
	c.p.mu.Lock()
	c.p.sections[c.id] = s
	c.p.mu.Unlock()
	return nil
}

// testFactories registers the component types used by the tests.
func testFactories(t *testing.T, p *probe) *registry.Registry {
	t.Helper()
	reg := registry.New()

	factory := func(configure func(c *testComponent) registry.Component) registry.Factory {
		return func(ctx context.Context, spec registry.Spec) (registry.Component, error) {
			c := &testComponent{id: spec.ID, p: p, spec: spec}
			comp := configure(c)
			p.mu.Lock()
			p.built[spec.ID]++
			p.comps[spec.ID] = comp
			p.sections[spec.ID] = spec.Section
			p.mu.Unlock()
			return comp, nil
		}
	}

	types := map[string]registry.Factory{
		"basic": factory(func(c *testComponent) registry.Component { return c }),
		"reloadable": factory(func(c *testComponent) registry.Component {
			return &reloadingComponent{testComponent: c}
		}),
		"stubborn-reload": factory(func(c *testComponent) registry.Component {
			return &reloadingComponent{testComponent: c, fail: true}
		}),
		"failing": factory(func(c *testComponent) registry.Component {
			c.start = func(context.Context) error { return errors.New("boom") }
			return c
		}),
		"stopfail": factory(func(c *testComponent) registry.Component {
			c.stop = func(context.Context) error { return errors.New("stuck") }
			return c
		}),
		// blocking starts until shutdown and gives up.
		"blocking": factory(func(c *testComponent) registry.Component {
			c.start = func(ctx context.Context) error {
				p.entered <- c.id
				<-ctx.Done()
				return ctx.Err()
			}
			return c
		}),
		// finishing notices shutdown but completes its start anyway.
		"finishing": factory(func(c *testComponent) registry.Component {
			c.start = func(ctx context.Context) error {
				p.entered <- c.id
				<-ctx.Done()
				return nil
			}
			return c
		}),
		// deaf ignores cancellation until the test releases it.
		"deaf": factory(func(c *testComponent) registry.Component {
			c.start = func(ctx context.Context) error {
				p.entered <- c.id
				<-p.release
				return nil
			}
			return c
		}),
		"gated": factory(func(c *testComponent) registry.Component {
			c.start = func(ctx context.Context) error {
				p.mu.Lock()
				p.active++
				p.peak = max(p.peak, p.active)
				p.mu.Unlock()
				<-p.release
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				return nil
			}
			return c
		}),
		"services": factory(func(c *testComponent) registry.Component {
			c.start = func(ctx context.Context) error {
				svc := c.spec.Services
				if _, err := svc.Timer.ScheduleRepeating(c.id, time.Hour, time.Hour, func(context.Context) {}); err != nil {
					return err
				}
				svc.Bus.Subscribe(event.Any, event.Listener{Owner: c.id, Handler: func(context.Context, event.Event) {}})
				return svc.Commands.Register(c.id, command.Command{
					Name:    "ping",
					Handler: func(context.Context, command.Invocation) error { return nil },
				})
			}
			return c
		}),
	}
	for name, f := range types {
		require.NoError(t, reg.Register(name, f))
	}
	require.NoError(t, reg.Register("panicky", func(context.Context, registry.Spec) (registry.Component, error) {
		panic("factory exploded")
	}))
	// sluggish takes until the test releases it to build its component.
	require.NoError(t, reg.Register("sluggish", func(ctx context.Context, spec registry.Spec) (registry.Component, error) {
		p.entered <- spec.ID
		<-p.release
		c := &testComponent{id: spec.ID, p: p, spec: spec}
		p.mu.Lock()
		p.built[spec.ID]++
		p.comps[spec.ID] = c
		p.mu.Unlock()
		return c, nil
	}))
	reg.Freeze()
	return reg
}

// transitionRecorder collects transition events per entity.
type transitionRecorder struct {
	mu     sync.Mutex
	events []*TransitionEvent
}

func (r *transitionRecorder) handle(ctx context.Context, ev *TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// States returns the target states of id's transitions, in order.
func (r *transitionRecorder) States(id string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		if ev.ID == id {
			out = append(out, ev.To)
		}
	}
	return out
}

func (r *transitionRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	probe    *probe
	reg      *registry.Registry
	services registry.Services
	mgr      *Manager
	rec      *transitionRecorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := ctxlog.Discard(context.Background())
	p := newProbe()
	bus := event.NewBus()
	services := registry.Services{
		Bus:      bus,
		Timer:    timer.New(ctx),
		Commands: command.NewRegistry(nil, bus),
	}
	t.Cleanup(services.Timer.Close)

	h := &harness{
		t:        t,
		ctx:      ctx,
		probe:    p,
		reg:      testFactories(t, p),
		services: services,
		rec:      &transitionRecorder{},
	}
	bus.Subscribe(EventTransition, h.rec.listener())

	opts = append([]Option{WithServices(services), WithGracePeriod(time.Second), WithWorkers(1)}, opts...)
	h.mgr = New(h.reg, opts...)
	require.NoError(t, h.mgr.Start(ctx))
	t.Cleanup(func() {
		select {
		case <-p.release:
		default:
			close(p.release)
		}
		_ = h.mgr.Shutdown(ctx)
	})
	return h
}

func (r *transitionRecorder) listener() event.Listener {
	return event.Listener{Priority: event.Monitor, Handler: event.Typed(r.handle)}
}

type ent struct {
	typ   string
	id    string
	attrs []config.Attribute
}

func dependsOn(ids ...string) config.Attribute {
	vals := make([]cty.Value, len(ids))
	for i, id := range ids {
		vals[i] = cty.StringVal(id)
	}
	return config.Attribute{Name: "depends_on", Value: cty.TupleVal(vals)}
}

func version(v int64) config.Attribute {
	return config.Attribute{Name: "version", Value: cty.NumberIntVal(v)}
}

func (h *harness) table(ents ...ent) *entity.Table {
	h.t.Helper()
	sections := make([]*config.Section, len(ents))
	for i, e := range ents {
		sections[i] = config.NewSection("", entity.Kind, []string{e.typ, e.id}, "test.hcl", e.attrs, nil)
	}
	table, err := entity.Build(config.NewDocument([]string{"test.hcl"}, sections), h.reg)
	require.NoError(h.t, err)
	return table
}

func (h *harness) apply(table *entity.Table) *Report {
	h.t.Helper()
	r, err := h.mgr.Apply(h.ctx, table)
	require.NoError(h.t, err)
	require.NotNil(h.t, r)
	return r
}

func (h *harness) state(id string) State {
	h.t.Helper()
	st, ok := h.mgr.Status().Get(id)
	require.True(h.t, ok, "entity %q is not in the snapshot", id)
	return st.State
}
