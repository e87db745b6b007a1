package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Wrappers for metrics created at runtime, e.g. per result backend. Creating
// the same name twice returns the collector already registered.

// Counter wraps prometheus.Counter
type Counter struct {
	counter prometheus.Counter
}

// NewCounter creates or reuses a counter.
func NewCounter(name, help string, labels map[string]string) *Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
	return &Counter{counter: register(c)}
}

func (c *Counter) Inc()          { c.counter.Inc() }
func (c *Counter) Add(v float64) { c.counter.Add(v) }

// Collector exposes the underlying counter for tests.
func (c *Counter) Collector() prometheus.Counter { return c.counter }

// Gauge wraps prometheus.Gauge
type Gauge struct {
	gauge prometheus.Gauge
}

// NewGauge creates or reuses a gauge.
func NewGauge(name, help string, labels map[string]string) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
	return &Gauge{gauge: register(g)}
}

func (g *Gauge) Set(v float64) { g.gauge.Set(v) }
func (g *Gauge) Inc()          { g.gauge.Inc() }
func (g *Gauge) Dec()          { g.gauge.Dec() }

// Collector exposes the underlying gauge for tests.
func (g *Gauge) Collector() prometheus.Gauge { return g.gauge }

// Histogram wraps prometheus.Histogram
type Histogram struct {
	histogram prometheus.Histogram
}

// NewHistogram creates or reuses a histogram.
func NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
		Buckets:     buckets,
	})
	return &Histogram{histogram: register(h)}
}

func (h *Histogram) Observe(v float64) { h.histogram.Observe(v) }

// Collector exposes the underlying histogram for tests.
func (h *Histogram) Collector() prometheus.Histogram { return h.histogram }

// register adds c to the default registry, returning the existing
// collector when one with the same descriptor is already present. Other
// registration errors leave c unregistered but usable.
func register[T prometheus.Collector](c T) T {
	err := prometheus.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	return c
}
