// Package monitor runs deadline-driven tasks from a single goroutine.
//
// Each task reports when it next wants to run, so a task whose deadline
// moves (a session that keeps receiving packets) is rescheduled rather than
// polled.
package monitor

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/udpburst/internal/logger"
	"github.com/zsiec/udpburst/internal/metrics"
)

// Task runs at or after its deadline. It returns done=true when finished,
// otherwise the next time it should run.
type Task func(now time.Time) (next time.Time, done bool)

type entry struct {
	at    time.Time
	name  string
	task  Task
	index int
}

type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Monitor owns a min-heap of tasks ordered by deadline.
type Monitor struct {
	logger logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks taskHeap
	wake  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped monitor.
func New(log logger.Logger) *Monitor {
	return &Monitor{
		logger: log.WithField("component", "timeout_monitor"),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Schedule adds a task due at at. Safe to call from any goroutine,
// including from inside a running task.
func (m *Monitor) Schedule(at time.Time, name string, task Task) {
	m.mu.Lock()
	heap.Push(&m.tasks, &entry{at: at, name: name, task: task})
	m.mu.Unlock()
	m.signal()
}

// Len returns the number of pending tasks.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks.Len()
}

func (m *Monitor) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the scheduler in a goroutine until Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		metrics.IncrementGoroutineCreated("timeout_monitor")
		defer metrics.IncrementGoroutineDestroyed("timeout_monitor")
		m.Run(ctx)
	}()
}

// Stop cancels the scheduler and waits for it to exit. Pending tasks are
// discarded.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Run blocks, executing due tasks, until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait, due := m.next()
		for _, e := range due {
			m.execute(e)
		}
		if len(due) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
		}
	}
}

// next pops every due entry, or returns how long to sleep when none is due.
func (m *Monitor) next() (time.Duration, []*entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tasks.Len() == 0 {
		return time.Hour, nil
	}

	now := m.now()
	var due []*entry
	for m.tasks.Len() > 0 && !m.tasks[0].at.After(now) {
		due = append(due, heap.Pop(&m.tasks).(*entry))
	}
	if len(due) > 0 {
		return 0, due
	}
	return m.tasks[0].at.Sub(now), nil
}

func (m *Monitor) execute(e *entry) {
	next, done, err := m.safeRun(e)
	if err != nil {
		metrics.IncrementRecoveredPanic("timeout_monitor")
		m.logger.WithError(err).WithField("task", e.name).Error("Timeout task panicked, dropping it")
		return
	}
	if done {
		return
	}

	e.at = next
	m.mu.Lock()
	heap.Push(&m.tasks, e)
	m.mu.Unlock()
}

func (m *Monitor) safeRun(e *entry) (next time.Time, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	next, done = e.task(m.now())
	return next, done, nil
}
