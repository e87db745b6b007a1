package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/udpburst/internal/logger"
)

func startMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := New(logger.NewNullLogger())
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorRunsInDeadlineOrder(t *testing.T) {
	m := startMonitor(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)
	record := func(name string) Task {
		return func(time.Time) (time.Time, bool) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
			return time.Time{}, true
		}
	}

	now := time.Now()
	m.Schedule(now.Add(60*time.Millisecond), "c", record("c"))
	m.Schedule(now.Add(20*time.Millisecond), "a", record("a"))
	m.Schedule(now.Add(40*time.Millisecond), "b", record("b"))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks did not run")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, m.Len())
}

func TestMonitorReschedulesMovingDeadline(t *testing.T) {
	m := startMonitor(t)

	// Simulates a session that keeps receiving: the deadline moves twice
	// before the task finally completes.
	var runs atomic.Int32
	finished := make(chan time.Time, 1)
	start := time.Now()

	m.Schedule(start.Add(10*time.Millisecond), "session", func(now time.Time) (time.Time, bool) {
		if runs.Add(1) < 3 {
			return now.Add(20 * time.Millisecond), false
		}
		finished <- now
		return time.Time{}, true
	})

	select {
	case at := <-finished:
		assert.Equal(t, int32(3), runs.Load())
		assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}
}

func TestMonitorScheduleEarlierWakesSleeper(t *testing.T) {
	m := startMonitor(t)

	m.Schedule(time.Now().Add(time.Hour), "late", func(time.Time) (time.Time, bool) {
		return time.Time{}, true
	})

	ran := make(chan struct{})
	m.Schedule(time.Now().Add(10*time.Millisecond), "early", func(time.Time) (time.Time, bool) {
		close(ran)
		return time.Time{}, true
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("earlier task was not picked up while sleeping")
	}
	assert.Equal(t, 1, m.Len())
}

func TestMonitorRecoversPanics(t *testing.T) {
	m := startMonitor(t)

	m.Schedule(time.Now(), "bad", func(time.Time) (time.Time, bool) {
		panic("boom")
	})

	ran := make(chan struct{})
	m.Schedule(time.Now().Add(5*time.Millisecond), "good", func(time.Time) (time.Time, bool) {
		close(ran)
		return time.Time{}, true
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("monitor stopped after a panicking task")
	}
}

func TestMonitorScheduleFromTask(t *testing.T) {
	m := startMonitor(t)

	ran := make(chan struct{})
	m.Schedule(time.Now(), "parent", func(now time.Time) (time.Time, bool) {
		m.Schedule(now, "child", func(time.Time) (time.Time, bool) {
			close(ran)
			return time.Time{}, true
		})
		return time.Time{}, true
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("child task did not run")
	}
}

func TestMonitorStop(t *testing.T) {
	m := New(logger.NewNullLogger())
	m.Stop() // not started

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	var ran atomic.Bool
	m.Schedule(time.Now().Add(50*time.Millisecond), "never", func(time.Time) (time.Time, bool) {
		ran.Store(true)
		return time.Time{}, true
	})

	cancel()
	m.Stop()
	time.Sleep(80 * time.Millisecond)
	require.False(t, ran.Load())
}
