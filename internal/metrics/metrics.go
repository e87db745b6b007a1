package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Finalization reasons.
const (
	ReasonComplete = "complete"
	ReasonTimeout  = "timeout"
	ReasonSweep    = "sweep"
	ReasonMismatch = "sequence_mismatch"
)

var (
	// Datagram metrics
	datagramsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burst_datagrams_received_total",
		Help: "Datagrams received by decoded packet type",
	}, []string{"type"})

	bytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burst_bytes_received_total",
		Help: "Total UDP payload bytes received",
	})

	packetsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burst_packets_sent_total",
		Help: "Packets sent by type",
	}, []string{"type"})

	sendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burst_send_failures_total",
		Help: "Failed UDP sends by packet type",
	}, []string{"type"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burst_errors_total",
		Help: "Dropped or rejected datagrams by error kind",
	}, []string{"kind"})

	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "burst_sessions_active",
		Help: "Uplink sessions currently accumulating",
	})

	downlinkActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "burst_downlink_active",
		Help: "Downlink bursts currently being sent",
	})

	sessionsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burst_sessions_finalized_total",
		Help: "Uplink sessions finalized by reason",
	}, []string{"reason"})

	sessionJitter = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "burst_jitter_milliseconds",
		Help:    "Reported uplink jitter per session",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~2s
	})

	sessionOutOfOrder = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "burst_out_of_order_packets",
		Help:    "Reported out-of-order packets per session",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	sessionLossRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "burst_loss_ratio",
		Help:    "Fraction of expected packets missing at finalization",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1},
	})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})

	recoveredPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_recovered_panics_total",
		Help: "Panics recovered by component",
	}, []string{"component"})
)

// RecordDatagram counts one received datagram.
func RecordDatagram(packetType string, size int) {
	datagramsReceivedTotal.WithLabelValues(packetType).Inc()
	bytesReceivedTotal.Add(float64(size))
}

// RecordSend counts a sent packet or a failed send.
func RecordSend(packetType string, err error) {
	if err != nil {
		sendFailuresTotal.WithLabelValues(packetType).Inc()
		return
	}
	packetsSentTotal.WithLabelValues(packetType).Inc()
}

// IncrementError counts a dropped or rejected datagram.
func IncrementError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the number of accumulating uplink sessions.
func SetActiveSessions(count int) {
	sessionsActive.Set(float64(count))
}

// IncrementDownlink and DecrementDownlink bracket one downlink burst.
func IncrementDownlink() { downlinkActive.Inc() }
func DecrementDownlink() { downlinkActive.Dec() }

// RecordFinalized records the outcome of one uplink session.
func RecordFinalized(reason string, jitter int64, outOfOrder, received, expected int32) {
	sessionsFinalizedTotal.WithLabelValues(reason).Inc()
	if reason == ReasonMismatch {
		return
	}
	sessionJitter.Observe(float64(jitter))
	sessionOutOfOrder.Observe(float64(outOfOrder))
	if expected > 0 {
		lost := float64(expected-received) / float64(expected)
		if lost < 0 {
			lost = 0
		}
		sessionLossRatio.Observe(lost)
	}
}

// IncrementGoroutineCreated increments the goroutine creation counter
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed increments the goroutine destruction counter
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

// IncrementRecoveredPanic counts a panic caught by an error boundary.
func IncrementRecoveredPanic(component string) {
	recoveredPanicsTotal.WithLabelValues(component).Inc()
}
