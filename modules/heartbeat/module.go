// Package heartbeat provides a component that logs a message on a fixed
// interval through the shared timer.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/registry"
	"github.com/vk/cutlet/internal/timer"
)

// TypeName is the component type registered by this module.
const TypeName = "heartbeat"

const defaultMessage = "alive"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the heartbeat factory.
func (m *Module) Register(r *registry.Registry) error {
	return r.Register(TypeName, New)
}

// Settings are the attributes of a heartbeat section.
type Settings struct {
	Interval string  `cty:"interval"`
	Message  *string `cty:"message"`
}

type params struct {
	interval time.Duration
	message  string
}

func parse(section *config.Section) (params, error) {
	var s Settings
	if err := section.Decode(&s); err != nil {
		return params{}, err
	}
	interval, err := time.ParseDuration(s.Interval)
	if err != nil {
		return params{}, fmt.Errorf("%s: invalid interval: %w", section.Path, err)
	}
	if interval <= 0 {
		return params{}, fmt.Errorf("%s: interval must be positive, got %s", section.Path, interval)
	}
	p := params{interval: interval, message: defaultMessage}
	if s.Message != nil {
		p.message = *s.Message
	}
	return p, nil
}

// Heartbeat is a live heartbeat entity.
type Heartbeat struct {
	id    string
	timer *timer.Scheduler
	ticks atomic.Int64

	mu     sync.Mutex
	p      params
	task   *timer.Task
	logger *slog.Logger
}

// New is the heartbeat factory.
func New(ctx context.Context, spec registry.Spec) (registry.Component, error) {
	if spec.Services.Timer == nil {
		return nil, errors.New("heartbeat requires the timer service")
	}
	p, err := parse(spec.Section)
	if err != nil {
		return nil, err
	}
	return &Heartbeat{id: spec.ID, timer: spec.Services.Timer, p: p}, nil
}

// Start schedules the repeating tick.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger = ctxlog.FromContext(ctx).With("entity", h.id)
	return h.schedule()
}

// schedule must be called with mu held.
func (h *Heartbeat) schedule() error {
	task, err := h.timer.ScheduleRepeating(h.id, h.p.interval, h.p.interval, h.tick)
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	h.task = task
	h.logger.Debug("Heartbeat scheduled.", "interval", h.p.interval)
	return nil
}

func (h *Heartbeat) tick(ctx context.Context) {
	n := h.ticks.Add(1)
	h.mu.Lock()
	msg, logger := h.p.message, h.logger
	h.mu.Unlock()
	logger.Info("Heartbeat.", "message", msg, "tick", n)
}

// Ticks returns how many times the heartbeat has fired.
func (h *Heartbeat) Ticks() int64 {
	return h.ticks.Load()
}

// Interval returns the current tick interval.
func (h *Heartbeat) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.p.interval
}

// Reload applies a new interval and message. The tick is rescheduled only
// when the interval changed.
func (h *Heartbeat) Reload(ctx context.Context, section *config.Section) error {
	p, err := parse(section)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	old := h.p
	h.p = p
	if p.interval == old.interval {
		return nil
	}
	if h.task != nil {
		h.task.Cancel()
	}
	return h.schedule()
}

// Stop cancels the tick.
func (h *Heartbeat) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.task != nil {
		h.task.Cancel()
		h.task = nil
	}
	return nil
}
