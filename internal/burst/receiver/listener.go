// Package receiver runs the UDP burst measurement socket: it answers
// downlink REQUESTs with bursts and accumulates uplink DATA bursts into
// sessions, reporting each with a RESPONSE.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/udpburst/internal/burst/monitor"
	"github.com/zsiec/udpburst/internal/burst/packet"
	"github.com/zsiec/udpburst/internal/burst/ratelimit"
	"github.com/zsiec/udpburst/internal/burst/results"
	"github.com/zsiec/udpburst/internal/burst/session"
	"github.com/zsiec/udpburst/internal/config"
	"github.com/zsiec/udpburst/internal/logger"
	"github.com/zsiec/udpburst/internal/metrics"
)

// ResultSink receives every finalized uplink session.
type ResultSink interface {
	Publish(r *results.Result) bool
}

// Listener owns the UDP socket, the session table and the timeout monitor.
type Listener struct {
	config   *config.BurstConfig
	conn     *net.UDPConn
	table    *session.Table
	monitor  *monitor.Monitor
	requests *ratelimit.RequestLimiter
	slots    *ratelimit.SessionLimiter
	sink     ResultSink
	logger   logger.Logger
	sampled  *logger.SampledLogger
	stats    counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	now func() time.Time
}

// NewListener creates a listener. sink may be nil.
func NewListener(cfg *config.BurstConfig, sink ResultSink, log logger.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	base := log.WithField("component", "burst_listener")

	return &Listener{
		config:   cfg,
		table:    session.NewTable(),
		monitor:  monitor.New(log),
		requests: ratelimit.NewRequestLimiter(cfg.RequestRate, cfg.RequestBurst, cfg.LimiterIdleTimeout),
		slots:    ratelimit.NewSessionLimiter(cfg.MaxSessionsPerHost, cfg.MaxSessions),
		sink:     sink,
		logger:   base,
		sampled:  logger.NewBurstLogger(base),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start binds the socket and launches the receive loop and the timeout
// monitor. A bind failure is returned and nothing is started.
func (l *Listener) Start() error {
	var err error
	l.startOnce.Do(func() {
		err = l.start()
	})
	return err
}

func (l *Listener) start() error {
	addr, err := net.ResolveUDPAddr("udp", l.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to resolve burst address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on burst port: %w", err)
	}

	if l.config.SocketBuffer > 0 {
		if err := conn.SetReadBuffer(l.config.SocketBuffer); err != nil {
			l.logger.WithError(err).Warn("Failed to set UDP read buffer size")
		}
		if err := conn.SetWriteBuffer(l.config.SocketBuffer); err != nil {
			l.logger.WithError(err).Warn("Failed to set UDP write buffer size")
		}
	}
	l.conn = conn

	l.monitor.Start(l.ctx)
	if l.config.RequestRate > 0 && l.config.LimiterIdleTimeout > 0 {
		l.scheduleLimiterCleanup()
	}

	l.wg.Add(1)
	go l.receiveLoop()

	l.logger.WithFields(map[string]interface{}{
		"address":         conn.LocalAddr().String(),
		"session_timeout": l.config.SessionTimeout.String(),
		"global_timeout":  l.config.GlobalTimeout.String(),
	}).Info("Burst listener started")

	return nil
}

// Stop closes the socket and waits for the receive loop, downlink senders
// and the monitor. Sessions still accumulating are discarded unreported.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() {
		l.logger.Info("Stopping burst listener")
		l.cancel()

		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.wg.Wait()
		l.monitor.Stop()

		if dropped := len(l.table.Drain()); dropped > 0 {
			l.logger.WithField("sessions", dropped).Warn("Discarded unfinished sessions on shutdown")
		}
		metrics.SetActiveSessions(0)
		l.logger.Info("Burst listener stopped")
	})
	return nil
}

// Addr returns the bound socket address, or nil before Start.
func (l *Listener) Addr() *net.UDPAddr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Sessions returns snapshots of every accumulating uplink session.
func (l *Listener) Sessions() []session.Stats {
	recs := l.table.Records()
	out := make([]session.Stats, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot())
	}
	return out
}

// ActiveSessions returns the number of accumulating uplink sessions.
func (l *Listener) ActiveSessions() int {
	return l.table.Len()
}

// Running reports whether the receive loop is serving.
func (l *Listener) Running() bool {
	return l.conn != nil && l.ctx.Err() == nil
}

func (l *Listener) receiveLoop() {
	defer l.wg.Done()
	metrics.IncrementGoroutineCreated("burst_receiver")
	defer metrics.IncrementGoroutineDestroyed("burst_receiver")

	buf := make([]byte, packet.BufferSize)
	lastActivity := l.now()

	for {
		if l.ctx.Err() != nil {
			return
		}

		_ = l.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		n, addr, err := l.conn.ReadFromUDP(buf)
		now := l.now()

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if now.Sub(lastActivity) >= l.config.GlobalTimeout {
					l.sweep(now)
					lastActivity = now
				}
				continue
			}
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.WithError(err).Error("Failed to read UDP datagram")
			continue
		}

		lastActivity = now
		l.stats.datagrams.Add(1)

		if err := l.safeDispatch(buf[:n], addr, now); err != nil {
			l.logDispatchError(err, addr)
		}
	}
}

// safeDispatch is the per-datagram error boundary: nothing a single
// datagram does may stop the loop.
func (l *Listener) safeDispatch(data []byte, addr *net.UDPAddr, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrementRecoveredPanic("burst_receiver")
			err = fmt.Errorf("panic handling datagram: %v", r)
		}
	}()
	return l.dispatch(data, addr, now)
}

func (l *Listener) dispatch(data []byte, addr *net.UDPAddr, now time.Time) error {
	client := session.NewClientIdentity(addr)

	p, err := packet.Decode(data)
	if err != nil {
		metrics.RecordDatagram("MALFORMED", len(data))
		return err
	}
	metrics.RecordDatagram(p.Type.String(), len(data))

	switch p.Type {
	case packet.TypeRequest:
		return l.handleRequest(client, p, now)
	case packet.TypeData:
		return l.handleData(client, p, now)
	default:
		// RESPONSE and ERROR are server-to-client only.
		l.sendError(client, p)
		return &UnrecognizedTypeError{Client: client.String(), Type: p.Type}
	}
}

func (l *Listener) handleRequest(client session.ClientIdentity, p *packet.Packet, now time.Time) error {
	if err := p.ValidateRequest(); err != nil {
		return fmt.Errorf("request from %s: %w", client, err)
	}
	// Keyed by host so rotating source ports cannot reset the bucket.
	if !l.requests.Allow(client.Host(), now) {
		return fmt.Errorf("request from %s: %w", client, ErrRateLimited)
	}

	l.stats.requests.Add(1)
	l.startDownlink(client, p)
	return nil
}

func (l *Listener) handleData(client session.ClientIdentity, p *packet.Packet, now time.Time) error {
	rec, created, err := l.table.GetOrCreate(client, func() (*session.Record, error) {
		if err := p.ValidateUplink(); err != nil {
			return nil, fmt.Errorf("data from %s: %w", client, err)
		}
		if !l.slots.TryAcquire(client.Host()) {
			return nil, fmt.Errorf("data from %s: %w", client, ErrSessionLimit)
		}
		return session.NewRecord(client, p, now), nil
	})
	if err != nil {
		return err
	}

	if created {
		l.stats.sessionsCreated.Add(1)
		metrics.SetActiveSessions(l.table.Len())
		l.monitor.Schedule(now.Add(l.config.SessionTimeout), "session "+client.String(), l.timeoutTask(client, rec))
		logger.WithClient(l.logger, client.String()).WithFields(map[string]interface{}{
			"seq":         p.Seq,
			"burst_count": p.BurstCount,
		}).Debug("Uplink session started")
	} else if rec.Seq() != p.Seq {
		return l.rejectMismatch(client, rec, p, now)
	}

	// The monitor may have finalized rec since GetOrCreate returned it. The
	// arrival then lands on a record no longer in the table and is lost;
	// finalize loses CompareAndRemove so nothing is reported twice.
	if rec.RecordArrival(p, now) {
		l.finalize(client, rec, metrics.ReasonComplete, now)
	}
	return nil
}

func (l *Listener) rejectMismatch(client session.ClientIdentity, rec *session.Record, p *packet.Packet, now time.Time) error {
	l.sendError(client, p)

	if l.table.CompareAndRemove(client, rec) {
		l.slots.Release(client.Host())
		l.stats.finalized(metrics.ReasonMismatch).Add(1)
		metrics.RecordFinalized(metrics.ReasonMismatch, 0, 0, rec.PacketsReceived(), rec.BurstCount())
		metrics.SetActiveSessions(l.table.Len())
	}

	return &SequenceMismatchError{Client: client.String(), Expected: rec.Seq(), Got: p.Seq}
}

// timeoutTask reports a session once it has been idle for the session
// timeout. The deadline moves with every arrival.
func (l *Listener) timeoutTask(client session.ClientIdentity, rec *session.Record) monitor.Task {
	return func(now time.Time) (time.Time, bool) {
		if !l.table.Contains(client, rec) {
			return time.Time{}, true
		}
		deadline := rec.LastReceive().Add(l.config.SessionTimeout)
		if now.Before(deadline) {
			return deadline, false
		}
		l.finalize(client, rec, metrics.ReasonTimeout, now)
		return time.Time{}, true
	}
}

// sweep reports every session after the socket has been idle for the
// global timeout.
func (l *Listener) sweep(now time.Time) {
	drained := l.table.Drain()
	if len(drained) == 0 {
		return
	}
	l.logger.WithField("sessions", len(drained)).Info("Socket idle, sweeping all sessions")
	for _, rec := range drained {
		l.report(rec, metrics.ReasonSweep, now)
	}
	metrics.SetActiveSessions(l.table.Len())
}

// finalize removes rec and reports it, unless another path already did.
func (l *Listener) finalize(client session.ClientIdentity, rec *session.Record, reason string, now time.Time) bool {
	if !l.table.CompareAndRemove(client, rec) {
		return false
	}
	l.report(rec, reason, now)
	metrics.SetActiveSessions(l.table.Len())
	return true
}

// report runs once per session, by whichever path removed it from the
// table.
func (l *Listener) report(rec *session.Record, reason string, now time.Time) {
	client := rec.Client()
	l.slots.Release(client.Host())

	resp := rec.Response()
	if err := l.send(client, resp); err != nil {
		l.logDispatchError(err, client.UDPAddr())
	}

	stats := rec.Snapshot()
	l.stats.finalized(reason).Add(1)
	metrics.RecordFinalized(reason, stats.Jitter, stats.OutOfOrder, stats.PacketsReceived, stats.BurstCount)

	if l.sink != nil {
		l.sink.Publish(results.FromStats(stats, reason, now))
	}

	logger.WithClient(l.logger, client.String()).WithFields(map[string]interface{}{
		"reason":           reason,
		"seq":              stats.Seq,
		"packets_received": stats.PacketsReceived,
		"burst_count":      stats.BurstCount,
		"out_of_order":     stats.OutOfOrder,
		"jitter_ms":        stats.Jitter,
	}).Debug("Uplink session finalized")
}

func (l *Listener) sendError(client session.ClientIdentity, cause *packet.Packet) {
	if err := l.send(client, packet.NewError(cause)); err != nil {
		l.logDispatchError(err, client.UDPAddr())
	}
}

// send writes one packet. *net.UDPConn is safe for concurrent writers.
func (l *Listener) send(client session.ClientIdentity, p *packet.Packet) error {
	_, err := l.conn.WriteToUDPAddrPort(p.Marshal(), client.AddrPort())
	metrics.RecordSend(p.Type.String(), err)
	if err != nil {
		return &SendError{Client: client.String(), Type: p.Type, Err: err}
	}
	l.stats.packetsSent.Add(1)
	return nil
}

func (l *Listener) scheduleLimiterCleanup() {
	interval := l.config.LimiterIdleTimeout / 2
	l.monitor.Schedule(l.now().Add(interval), "request limiter cleanup", func(now time.Time) (time.Time, bool) {
		if removed := l.requests.Cleanup(now); removed > 0 {
			l.logger.WithField("clients", removed).Debug("Forgot idle request limiters")
		}
		return now.Add(interval), false
	})
}

func (l *Listener) logDispatchError(err error, addr *net.UDPAddr) {
	kind := errorKind(err)
	metrics.IncrementError(kind)
	l.stats.errors.Add(1)

	fields := map[string]interface{}{"error": err.Error(), "kind": kind}
	if addr != nil {
		fields["client"] = addr.String()
	}

	switch kind {
	case "malformed":
		l.sampled.DebugWithCategory(logger.CategoryMalformed, "Dropping malformed datagram", fields)
	case "validation":
		l.sampled.WarnWithCategory(logger.CategoryValidation, "Dropping out-of-range burst parameters", fields)
	case "rate_limited":
		l.sampled.WarnWithCategory(logger.CategoryRateLimited, "Dropping rate-limited request", fields)
	case "session_limit":
		l.sampled.WarnWithCategory(logger.CategoryAdmission, "Dropping data packet, session limit reached", fields)
	case "unrecognized_type":
		l.sampled.WarnWithCategory(logger.CategoryUnknownType, "Rejected unrecognized packet type", fields)
	case "send":
		l.sampled.WarnWithCategory(logger.CategorySend, "Failed to send packet", fields)
	case "sequence_mismatch":
		l.logger.WithFields(fields).Warn("Sequence mismatch, session discarded")
	default:
		l.logger.WithFields(fields).Error("Failed to handle datagram")
	}
}

// counters back the /api/v1/stats endpoint.
type counters struct {
	datagrams       atomic.Int64
	requests        atomic.Int64
	downlinkBursts  atomic.Int64
	downlinkAborted atomic.Int64
	packetsSent     atomic.Int64
	sessionsCreated atomic.Int64
	errors          atomic.Int64

	complete atomic.Int64
	timeout  atomic.Int64
	sweep    atomic.Int64
	mismatch atomic.Int64
}

func (c *counters) finalized(reason string) *atomic.Int64 {
	switch reason {
	case metrics.ReasonComplete:
		return &c.complete
	case metrics.ReasonTimeout:
		return &c.timeout
	case metrics.ReasonSweep:
		return &c.sweep
	default:
		return &c.mismatch
	}
}

// Stats is a snapshot of listener counters.
type Stats struct {
	Datagrams        int64 `json:"datagrams"`
	Requests         int64 `json:"requests"`
	DownlinkBursts   int64 `json:"downlink_bursts"`
	DownlinkAborted  int64 `json:"downlink_aborted"`
	PacketsSent      int64 `json:"packets_sent"`
	SessionsCreated  int64 `json:"sessions_created"`
	SessionsActive   int   `json:"sessions_active"`
	Errors           int64 `json:"errors"`
	Completed        int64 `json:"sessions_completed"`
	TimedOut         int64 `json:"sessions_timed_out"`
	Swept            int64 `json:"sessions_swept"`
	SequenceMismatch int64 `json:"sessions_rejected"`
}

// Stats returns the current counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Datagrams:        l.stats.datagrams.Load(),
		Requests:         l.stats.requests.Load(),
		DownlinkBursts:   l.stats.downlinkBursts.Load(),
		DownlinkAborted:  l.stats.downlinkAborted.Load(),
		PacketsSent:      l.stats.packetsSent.Load(),
		SessionsCreated:  l.stats.sessionsCreated.Load(),
		SessionsActive:   l.table.Len(),
		Errors:           l.stats.errors.Load(),
		Completed:        l.stats.complete.Load(),
		TimedOut:         l.stats.timeout.Load(),
		Swept:            l.stats.sweep.Load(),
		SequenceMismatch: l.stats.mismatch.Load(),
	}
}
