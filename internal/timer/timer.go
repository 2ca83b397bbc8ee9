// Package timer runs delayed and repeating tasks on behalf of entities.
// Tasks are grouped by owner so that everything an entity scheduled can be
// cancelled when it stops.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/cutlet/internal/ctxlog"
)

var (
	// ErrInvalidDelay is returned for a non-positive delay or period.
	ErrInvalidDelay = errors.New("delay must be positive")
	// ErrClosed is returned when scheduling on a closed scheduler.
	ErrClosed = errors.New("scheduler is closed")
)

// State is the state of a task.
type State int32

const (
	Waiting State = iota
	Running
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Func is the body of a task. ctx is cancelled when the task is cancelled.
type Func func(ctx context.Context)

// Task is a scheduled unit of work.
type Task struct {
	id     uint64
	owner  string
	period time.Duration
	fn     Func
	state  atomic.Int32
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	s      *Scheduler
}

// Owner returns the entity the task belongs to.
func (t *Task) Owner() string { return t.owner }

// State returns the current state of the task.
func (t *Task) State() State { return State(t.state.Load()) }

// Repeating reports whether the task runs periodically.
func (t *Task) Repeating() bool { return t.period > 0 }

// Cancel stops the task. It reports false if the task had already finished
// or been cancelled. A running invocation observes cancellation through its
// context and is not interrupted otherwise.
func (t *Task) Cancel() bool {
	for {
		cur := State(t.state.Load())
		if cur == Finished || cur == Cancelled {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(Cancelled)) {
			t.s.mu.Lock()
			t.timer.Stop()
			t.s.mu.Unlock()
			t.cancel()
			t.s.forget(t)
			return true
		}
	}
}

// Scheduler owns a set of tasks.
type Scheduler struct {
	ctx    context.Context
	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]*Task
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler. Task bodies receive a context derived from ctx,
// which must carry a logger.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:   ctx,
		tasks: make(map[uint64]*Task),
	}
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(owner string, delay time.Duration, fn Func) (*Task, error) {
	return s.schedule(owner, delay, 0, fn)
}

// ScheduleRepeating runs fn after delay and then every period until
// cancelled.
func (s *Scheduler) ScheduleRepeating(owner string, delay, period time.Duration, fn Func) (*Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period %s: %w", period, ErrInvalidDelay)
	}
	return s.schedule(owner, delay, period, fn)
}

func (s *Scheduler) schedule(owner string, delay, period time.Duration, fn Func) (*Task, error) {
	if delay <= 0 {
		return nil, fmt.Errorf("delay %s: %w", delay, ErrInvalidDelay)
	}
	if fn == nil {
		return nil, errors.New("timer: nil task function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.nextID++
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{
		id:     s.nextID,
		owner:  owner,
		period: period,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		s:      s,
	}
	s.tasks[t.id] = t
	// run takes s.mu before touching t.timer, so the assignment below is
	// visible to it even for tiny delays.
	t.timer = time.AfterFunc(delay, func() { s.run(t) })
	return t, nil
}

func (s *Scheduler) run(t *Task) {
	s.mu.Lock()
	if s.closed || !t.state.CompareAndSwap(int32(Waiting), int32(Running)) {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.invoke(t)

	if t.period > 0 {
		s.mu.Lock()
		if !s.closed && t.state.CompareAndSwap(int32(Running), int32(Waiting)) {
			t.timer.Reset(t.period)
		}
		s.mu.Unlock()
		return
	}
	if t.state.CompareAndSwap(int32(Running), int32(Finished)) {
		t.cancel()
		s.forget(t)
	}
}

func (s *Scheduler) invoke(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(t.ctx).Error("Scheduled task panicked.", "owner", t.owner, "panic", fmt.Sprint(r))
		}
	}()
	t.fn(t.ctx)
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
}

// Pending returns the number of tasks that have not finished or been
// cancelled for owner.
func (s *Scheduler) Pending(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if t.owner == owner {
			n++
		}
	}
	return n
}

// CancelAll cancels every task of owner and returns how many were cancelled.
func (s *Scheduler) CancelAll(owner string) int {
	s.mu.Lock()
	var owned []*Task
	for _, t := range s.tasks {
		if t.owner == owner {
			owned = append(owned, t)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, t := range owned {
		if t.Cancel() {
			n++
		}
	}
	return n
}

// Close cancels every task and waits for running invocations to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.wg.Wait()
}
