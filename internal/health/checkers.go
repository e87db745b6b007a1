package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the result store's Redis.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// ListenerState is the part of the burst listener the checker needs.
type ListenerState interface {
	Running() bool
	ActiveSessions() int
}

// ListenerChecker reports down when the UDP receive loop is not serving,
// and degraded when the session table is close to its cap.
type ListenerChecker struct {
	listener    ListenerState
	maxSessions int
}

// NewListenerChecker creates a checker. maxSessions <= 0 disables the
// saturation check.
func NewListenerChecker(listener ListenerState, maxSessions int) *ListenerChecker {
	return &ListenerChecker{listener: listener, maxSessions: maxSessions}
}

func (l *ListenerChecker) Name() string { return "udp_listener" }

func (l *ListenerChecker) Check(ctx context.Context) error {
	if !l.listener.Running() {
		return errors.New("burst listener is not running")
	}
	if l.maxSessions > 0 {
		if active := l.listener.ActiveSessions(); active*10 >= l.maxSessions*9 {
			return &DegradedError{Reason: fmt.Sprintf("%d of %d sessions in use", active, l.maxSessions)}
		}
	}
	return nil
}

// Backlogger reports queue occupancy.
type Backlogger interface {
	Backlog() (queued, capacity int)
}

// QueueChecker reports degraded when the result queue is nearly full, a
// sign that the store cannot keep up and results are about to be dropped.
type QueueChecker struct {
	queue Backlogger
}

func NewQueueChecker(queue Backlogger) *QueueChecker {
	return &QueueChecker{queue: queue}
}

func (q *QueueChecker) Name() string { return "result_queue" }

func (q *QueueChecker) Check(ctx context.Context) error {
	queued, capacity := q.queue.Backlog()
	if capacity > 0 && queued*10 >= capacity*9 {
		return &DegradedError{Reason: fmt.Sprintf("result queue %d/%d full", queued, capacity)}
	}
	return nil
}
