package results

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/udpburst/internal/logger"
	"github.com/zsiec/udpburst/internal/metrics"
)

const saveTimeout = 5 * time.Second

// Publisher decouples the receive path from store latency: Publish never
// blocks and a single worker drains the queue into the store.
type Publisher struct {
	store  Store
	logger logger.Logger
	queue  chan *Result

	queueDepth *metrics.Gauge
	dropped    *metrics.Counter
	saved      *metrics.Counter
	failed     *metrics.Counter
	latency    *metrics.Histogram

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewPublisher creates a publisher with a queue of queueSize results.
func NewPublisher(store Store, queueSize int, log logger.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1
	}
	labels := map[string]string{"backend": store.Name()}
	return &Publisher{
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "result_publisher", "backend": store.Name()}),
		queue:  make(chan *Result, queueSize),

		queueDepth: metrics.NewGauge("burst_results_queue_depth", "Results waiting to be stored", labels),
		dropped:    metrics.NewCounter("burst_results_dropped_total", "Results dropped because the queue was full", labels),
		saved:      metrics.NewCounter("burst_results_saved_total", "Results written to the store", labels),
		failed:     metrics.NewCounter("burst_results_failed_total", "Results the store rejected", labels),
		latency: metrics.NewHistogram("burst_results_save_seconds", "Store write latency", labels,
			prometheus.ExponentialBuckets(0.0001, 4, 10)),

		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Store returns the backing store.
func (p *Publisher) Store() Store {
	return p.store
}

// Backlog returns the number of queued results and the queue capacity.
func (p *Publisher) Backlog() (queued, capacity int) {
	return len(p.queue), cap(p.queue)
}

// Publish enqueues r, returning false when the queue is full.
func (p *Publisher) Publish(r *Result) bool {
	select {
	case p.queue <- r:
		p.queueDepth.Set(float64(len(p.queue)))
		return true
	default:
		p.dropped.Inc()
		p.logger.WithField("result_id", r.ID).Warn("Result queue full, dropping result")
		return false
	}
}

// Start launches the worker.
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop flushes queued results and waits for the worker. ctx bounds the
// flush.
func (p *Publisher) Stop(ctx context.Context) error {
	p.Start()
	p.stopOnce.Do(func() { close(p.stop) })

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	metrics.IncrementGoroutineCreated("result_publisher")
	defer metrics.IncrementGoroutineDestroyed("result_publisher")

	for {
		select {
		case r := <-p.queue:
			p.save(r)
		case <-p.stop:
			for {
				select {
				case r := <-p.queue:
					p.save(r)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) save(r *Result) {
	p.queueDepth.Set(float64(len(p.queue)))

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	err := p.store.Save(ctx, r)
	p.latency.Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Inc()
		p.logger.WithError(err).WithField("result_id", r.ID).Error("Failed to store result")
		return
	}
	p.saved.Inc()
}
