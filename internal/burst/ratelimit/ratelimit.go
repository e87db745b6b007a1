// Package ratelimit provides admission control for the burst listener.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiter applies a token bucket per client key to downlink
// REQUESTs, so one client cannot make the server flood the network.
type RequestLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRequestLimiter creates a limiter admitting perSecond requests per
// client with the given burst. perSecond <= 0 disables limiting.
func NewRequestLimiter(perSecond float64, burst int, idle time.Duration) *RequestLimiter {
	return &RequestLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		limiters: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from key may proceed at now.
func (l *RequestLimiter) Allow(key string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	cl, ok := l.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = cl
	}
	cl.lastSeen = now
	l.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Cleanup forgets clients idle for longer than the idle timeout and
// returns how many were removed.
func (l *RequestLimiter) Cleanup(now time.Time) int {
	if l == nil || l.idle <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, cl := range l.limiters {
		if now.Sub(cl.lastSeen) > l.idle {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *RequestLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// SessionLimiter caps concurrent uplink sessions in total and per host.
// A zero limit means unlimited.
type SessionLimiter struct {
	maxPerHost int
	maxTotal   int

	mu    sync.RWMutex
	hosts map[string]int
	total int
}

// NewSessionLimiter creates a session limiter.
func NewSessionLimiter(maxPerHost, maxTotal int) *SessionLimiter {
	return &SessionLimiter{
		maxPerHost: maxPerHost,
		maxTotal:   maxTotal,
		hosts:      make(map[string]int),
	}
}

// TryAcquire takes a slot for host, reporting false when a limit is hit.
func (sl *SessionLimiter) TryAcquire(host string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.maxTotal > 0 && sl.total >= sl.maxTotal {
		return false
	}

	current := sl.hosts[host]
	if sl.maxPerHost > 0 && current >= sl.maxPerHost {
		return false
	}

	sl.hosts[host] = current + 1
	sl.total++
	return true
}

// Release returns a slot taken by TryAcquire. Releasing a host with no
// slots is a no-op.
func (sl *SessionLimiter) Release(host string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	count, ok := sl.hosts[host]
	if !ok || count == 0 {
		return
	}
	if count == 1 {
		delete(sl.hosts, host)
	} else {
		sl.hosts[host] = count - 1
	}
	sl.total--
}

// Count returns the slots held by host.
func (sl *SessionLimiter) Count(host string) int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.hosts[host]
}

// Total returns the slots held across all hosts.
func (sl *SessionLimiter) Total() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.total
}
