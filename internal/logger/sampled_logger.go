package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Per-datagram log categories. A client flooding malformed or rejected
// datagrams hits these once per packet, so they are sampled.
const (
	CategoryMalformed   = "malformed_packet"
	CategoryValidation  = "validation"
	CategoryRateLimited = "rate_limited"
	CategoryAdmission   = "admission"
	CategoryUnknownType = "unknown_type"
	CategorySend        = "send_failure"
)

// SampledLogger rate limits log lines per category. Uncategorised calls
// pass straight through to the base logger.
type SampledLogger struct {
	base     Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu sync.RWMutex
	m  map[string]*LogSampler
}

// LogSampler admits a burst of messages per window, then every Nth message
// until the window rolls over.
type LogSampler struct {
	window time.Duration
	burst  int64
	every  int64

	mu          sync.Mutex
	windowStart time.Time
	inWindow    int64

	total   atomic.Int64
	logged  atomic.Int64
	dropped atomic.Int64
}

func (s *LogSampler) allow(now time.Time) bool {
	s.total.Add(1)

	s.mu.Lock()
	if now.Sub(s.windowStart) >= s.window {
		s.windowStart = now
		s.inWindow = 0
	}
	s.inWindow++
	n := s.inWindow
	s.mu.Unlock()

	ok := n <= s.burst || (s.every > 0 && (n-s.burst)%s.every == 0)
	if ok {
		s.logged.Add(1)
	} else {
		s.dropped.Add(1)
	}
	return ok
}

// NewSampledLogger creates a sampled logger with no categories configured.
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: &samplerSet{m: make(map[string]*LogSampler)},
	}
}

// WithSampler configures a category: burst lines per window, then one in
// every lines. every <= 0 drops everything past the burst.
func (s *SampledLogger) WithSampler(category string, window time.Duration, burst, every int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()
	s.samplers.m[category] = &LogSampler{window: window, burst: int64(burst), every: int64(every)}
	return s
}

// NewBurstLogger returns a sampled logger configured for the receive loop.
func NewBurstLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryMalformed, time.Second, 5, 100).
		WithSampler(CategoryValidation, time.Second, 10, 50).
		WithSampler(CategoryRateLimited, time.Second, 5, 100).
		WithSampler(CategoryAdmission, time.Second, 5, 100).
		WithSampler(CategoryUnknownType, time.Second, 5, 100).
		WithSampler(CategorySend, time.Second, 10, 10)
}

func (s *SampledLogger) shouldLog(category string) bool {
	s.samplers.mu.RLock()
	sampler, ok := s.samplers.m[category]
	s.samplers.mu.RUnlock()
	if !ok {
		return true
	}
	return sampler.allow(time.Now())
}

func (s *SampledLogger) logCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.shouldLog(category) {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["category"] = category
	s.base.WithFields(fields).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["category"] = category
	s.base.WithFields(fields).Error(msg)
}

// SamplerStats holds counters for one category.
type SamplerStats struct {
	Name    string `json:"name"`
	Total   int64  `json:"total"`
	Logged  int64  `json:"logged"`
	Dropped int64  `json:"dropped"`
}

// Stats returns counters for every configured category.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	out := make(map[string]SamplerStats, len(s.samplers.m))
	for name, sm := range s.samplers.m {
		out[name] = SamplerStats{
			Name:    name,
			Total:   sm.total.Load(),
			Logged:  sm.logged.Load(),
			Dropped: sm.dropped.Load(),
		}
	}
	return out
}

// Derived loggers share the parent's samplers.

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{base: s.base.WithFields(fields), samplers: s.samplers}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{base: s.base.WithField(key, value), samplers: s.samplers}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{base: s.base.WithError(err), samplers: s.samplers}
}

func (s *SampledLogger) Debug(args ...interface{})                 { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{})                  { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{})                  { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{})                 { s.base.Error(args...) }
func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) { s.base.Log(level, args...) }
func (s *SampledLogger) Debugf(format string, args ...interface{}) { s.base.Debugf(format, args...) }
func (s *SampledLogger) Infof(format string, args ...interface{})  { s.base.Infof(format, args...) }
func (s *SampledLogger) Warnf(format string, args ...interface{})  { s.base.Warnf(format, args...) }
func (s *SampledLogger) Errorf(format string, args ...interface{}) { s.base.Errorf(format, args...) }
func (s *SampledLogger) Fatal(args ...interface{})                 { s.base.Fatal(args...) }
