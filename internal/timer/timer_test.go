package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cutlet/internal/ctxlog"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(ctxlog.Discard(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestSchedule_RunsOnce(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	task, err := s.Schedule("A", 10*time.Millisecond, func(ctx context.Context) { runs.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, "A", task.Owner())
	assert.False(t, task.Repeating())

	require.Eventually(t, func() bool { return task.State() == Finished }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, s.Pending("A"))
	assert.False(t, task.Cancel(), "a finished task cannot be cancelled")
}

func TestScheduleRepeating(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	task, err := s.ScheduleRepeating("A", 5*time.Millisecond, 5*time.Millisecond, func(ctx context.Context) { runs.Add(1) })
	require.NoError(t, err)
	assert.True(t, task.Repeating())

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, task.Cancel())
	assert.Equal(t, Cancelled, task.State())

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), after+1, "at most one in-flight run may complete after cancel")
}

func TestSchedule_InvalidDelay(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) {}

	_, err := s.Schedule("A", 0, noop)
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = s.ScheduleRepeating("A", time.Second, -time.Second, noop)
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = s.Schedule("A", time.Second, nil)
	assert.Error(t, err)
}

func TestCancelAll(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	fn := func(context.Context) { runs.Add(1) }

	a1, err := s.Schedule("A", time.Hour, fn)
	require.NoError(t, err)
	_, err = s.ScheduleRepeating("A", time.Hour, time.Hour, fn)
	require.NoError(t, err)
	b, err := s.Schedule("B", time.Hour, fn)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Pending("A"))
	assert.Equal(t, 2, s.CancelAll("A"))
	assert.Equal(t, 0, s.Pending("A"))
	assert.Equal(t, Cancelled, a1.State())
	assert.Equal(t, Waiting, b.State())
	assert.Equal(t, 1, s.Pending("B"))
}

func TestCancel_CancelsTaskContext(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	stopped := make(chan struct{})

	task, err := s.Schedule("A", time.Millisecond, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})
	require.NoError(t, err)

	<-started
	assert.Equal(t, Running, task.State())
	assert.True(t, task.Cancel())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("running task did not observe cancellation")
	}
}

func TestClose(t *testing.T) {
	s := New(ctxlog.Discard(context.Background()))
	task, err := s.Schedule("A", time.Hour, func(context.Context) {})
	require.NoError(t, err)

	s.Close()
	assert.Equal(t, Cancelled, task.State())

	_, err = s.Schedule("A", time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSchedule_RecoversPanics(t *testing.T) {
	s := newTestScheduler(t)
	task, err := s.Schedule("A", time.Millisecond, func(context.Context) { panic("boom") })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.State() == Finished }, time.Second, 5*time.Millisecond)
}
