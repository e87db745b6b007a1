package receiver

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/udpburst/internal/burst/packet"
	"github.com/zsiec/udpburst/internal/burst/results"
	"github.com/zsiec/udpburst/internal/burst/session"
	"github.com/zsiec/udpburst/internal/config"
	"github.com/zsiec/udpburst/internal/logger"
	"github.com/zsiec/udpburst/internal/metrics"
)

type captureSink struct {
	ch chan *results.Result
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan *results.Result, 64)}
}

func (c *captureSink) Publish(r *results.Result) bool {
	c.ch <- r
	return true
}

func (c *captureSink) next(t *testing.T, within time.Duration) *results.Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(within):
		t.Fatal("no result published")
		return nil
	}
}

func testConfig() *config.BurstConfig {
	return &config.BurstConfig{
		ListenAddr:     "127.0.0.1",
		Port:           0,
		SessionTimeout: 200 * time.Millisecond,
		GlobalTimeout:  10 * time.Second,
		ReadTimeout:    20 * time.Millisecond,
	}
}

func startListener(t *testing.T, cfg *config.BurstConfig, sink ResultSink) *Listener {
	t.Helper()
	l := NewListener(cfg, sink, logger.NewNullLogger())
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func dial(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, l.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *net.UDPConn, p *packet.Packet) {
	t.Helper()
	_, err := conn.Write(p.Marshal())
	require.NoError(t, err)
}

func receive(t *testing.T, conn *net.UDPConn, within time.Duration) (*packet.Packet, int) {
	t.Helper()
	buf := make([]byte, packet.BufferSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(within)))
	n, err := conn.Read(buf)
	require.NoError(t, err, "expected a packet from the server")
	p, err := packet.Decode(buf[:n])
	require.NoError(t, err)
	return p, n
}

func expectSilence(t *testing.T, conn *net.UDPConn, wait time.Duration) {
	t.Helper()
	buf := make([]byte, packet.BufferSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	n, err := conn.Read(buf)
	if err == nil {
		p, _ := packet.Decode(buf[:n])
		t.Fatalf("unexpected packet from server: %v", p)
	}
}

func data(seq, burstCount, num int32) *packet.Packet {
	return &packet.Packet{
		Type:       packet.TypeData,
		Seq:        seq,
		BurstCount: burstCount,
		PacketNum:  num,
		PacketSize: packet.MinPacketSize,
		Timestamp:  packet.NowMillis(),
	}
}

func TestListener_SinglePacketBurstCompletes(t *testing.T) {
	sink := newCaptureSink()
	l := startListener(t, testConfig(), sink)
	conn := dial(t, l)

	send(t, conn, data(42, 1, 0))

	resp, n := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeResponse, resp.Type)
	assert.Equal(t, int32(42), resp.Seq)
	assert.Equal(t, int32(1), resp.BurstCount)
	assert.Equal(t, int32(1), resp.PacketNum, "packetNum carries packets received")
	assert.Equal(t, int32(0), resp.OutOfOrderNum)
	assert.Equal(t, int64(0), resp.Jitter())
	assert.Equal(t, packet.HeaderSize, n)

	r := sink.next(t, time.Second)
	assert.Equal(t, metrics.ReasonComplete, r.Reason)
	assert.Equal(t, conn.LocalAddr().String(), r.Client)

	// Completion wins; the timeout must not report the session again.
	expectSilence(t, conn, 400*time.Millisecond)
	assert.Equal(t, 0, l.ActiveSessions())
	assert.Equal(t, int64(1), l.Stats().Completed)
	assert.Equal(t, int64(0), l.Stats().TimedOut)
}

func TestListener_OutOfOrderBurst(t *testing.T) {
	sink := newCaptureSink()
	l := startListener(t, testConfig(), sink)
	conn := dial(t, l)

	for _, num := range []int32{2, 3, 8, 6, 1} {
		send(t, conn, data(7, 5, num))
	}

	resp, _ := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeResponse, resp.Type)
	assert.Equal(t, int32(5), resp.PacketNum)
	assert.Equal(t, int32(2), resp.OutOfOrderNum)

	r := sink.next(t, time.Second)
	assert.Equal(t, int32(2), r.OutOfOrder)
	assert.Equal(t, int64(5), r.Inversions)
	assert.Equal(t, int32(5), r.PacketsReceived)
}

func TestListener_SequenceMismatch(t *testing.T) {
	sink := newCaptureSink()
	l := startListener(t, testConfig(), sink)
	conn := dial(t, l)

	send(t, conn, data(1024, 5, 0))
	send(t, conn, data(2048, 5, 1))

	errPkt, _ := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeError, errPkt.Type)
	assert.Equal(t, int32(2048), errPkt.Seq)
	assert.Equal(t, int32(1), errPkt.PacketNum)

	// The session is gone, so no timeout RESPONSE follows.
	expectSilence(t, conn, 400*time.Millisecond)
	assert.Equal(t, 0, l.ActiveSessions())
	assert.Equal(t, int64(1), l.Stats().SequenceMismatch)
	assert.Empty(t, sink.ch)

	// A fresh burst from the same client starts a new session.
	send(t, conn, data(4096, 1, 0))
	resp, _ := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeResponse, resp.Type)
	assert.Equal(t, int32(4096), resp.Seq)
}

func TestListener_TimeoutReportsPartialBurst(t *testing.T) {
	sink := newCaptureSink()
	l := startListener(t, testConfig(), sink)
	conn := dial(t, l)

	send(t, conn, data(9, 10, 0))
	send(t, conn, data(9, 10, 1))
	sentAt := time.Now()

	resp, _ := receive(t, conn, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(sentAt), 150*time.Millisecond)
	assert.Equal(t, packet.TypeResponse, resp.Type)
	assert.Equal(t, int32(2), resp.PacketNum)
	assert.Equal(t, int32(10), resp.BurstCount)

	r := sink.next(t, time.Second)
	assert.Equal(t, metrics.ReasonTimeout, r.Reason)
	assert.InDelta(t, 0.8, r.LossRatio(), 1e-9)

	expectSilence(t, conn, 300*time.Millisecond)
	assert.Equal(t, int64(1), l.Stats().TimedOut)
}

func TestListener_TimeoutFollowsLastArrival(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	send(t, conn, data(3, 10, 0))
	time.Sleep(120 * time.Millisecond)
	send(t, conn, data(3, 10, 1))
	lastAt := time.Now()

	resp, _ := receive(t, conn, 2*time.Second)
	assert.Equal(t, int32(2), resp.PacketNum)
	assert.GreaterOrEqual(t, time.Since(lastAt), 150*time.Millisecond,
		"deadline must be recomputed from the latest arrival")
}

func TestListener_GlobalSweep(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Second
	cfg.GlobalTimeout = 150 * time.Millisecond

	sink := newCaptureSink()
	l := startListener(t, cfg, sink)
	a := dial(t, l)
	b := dial(t, l)

	send(t, a, data(1, 3, 0))
	send(t, b, data(2, 3, 0))
	send(t, b, data(2, 3, 1))

	respA, _ := receive(t, a, 2*time.Second)
	respB, _ := receive(t, b, 2*time.Second)
	assert.Equal(t, int32(1), respA.PacketNum)
	assert.Equal(t, int32(2), respB.PacketNum)

	assert.Equal(t, metrics.ReasonSweep, sink.next(t, time.Second).Reason)
	assert.Equal(t, metrics.ReasonSweep, sink.next(t, time.Second).Reason)
	assert.Equal(t, 0, l.ActiveSessions())
	assert.Equal(t, int64(2), l.Stats().Swept)
}

func TestListener_DownlinkBurst(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	send(t, conn, &packet.Packet{
		Type:        packet.TypeRequest,
		Seq:         77,
		BurstCount:  5,
		PacketSize:  100,
		UDPInterval: 1,
	})

	for i := int32(0); i < 5; i++ {
		p, n := receive(t, conn, time.Second)
		assert.Equal(t, packet.TypeData, p.Type)
		assert.Equal(t, i, p.PacketNum)
		assert.Equal(t, int32(77), p.Seq)
		assert.Equal(t, int32(5), p.BurstCount)
		assert.Equal(t, 100, n, "datagram padded to packetSize")
		assert.InDelta(t, packet.NowMillis(), p.Timestamp, 1000)
	}
	expectSilence(t, conn, 100*time.Millisecond)

	assert.Eventually(t, func() bool { return l.Stats().DownlinkBursts == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, l.ActiveSessions(), "requests never create uplink sessions")
}

func TestListener_RequestValidation(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	tests := []struct {
		name string
		req  *packet.Packet
	}{
		{"packet size below minimum", &packet.Packet{Type: packet.TypeRequest, BurstCount: 2, PacketSize: packet.MinPacketSize - 1}},
		{"negative burst count", &packet.Packet{Type: packet.TypeRequest, BurstCount: -1, PacketSize: packet.MinPacketSize}},
		{"burst count too large", &packet.Packet{Type: packet.TypeRequest, BurstCount: packet.MaxBurstCount + 1, PacketSize: packet.MinPacketSize}},
		{"interval too large", &packet.Packet{Type: packet.TypeRequest, BurstCount: 1, PacketSize: packet.MinPacketSize, UDPInterval: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.req)
			expectSilence(t, conn, 100*time.Millisecond)
		})
	}

	assert.Equal(t, int64(0), l.Stats().Requests)
	assert.Equal(t, 0, l.ActiveSessions())
	assert.GreaterOrEqual(t, l.Stats().Errors, int64(4))
}

func TestListener_InvalidUplinkBurstCount(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	send(t, conn, data(1, 0, 0))
	send(t, conn, data(1, packet.MaxBurstCount+1, 0))
	expectSilence(t, conn, 100*time.Millisecond)
	assert.Equal(t, 0, l.ActiveSessions())
}

func TestListener_UnrecognizedTypes(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	for _, typ := range []packet.Type{packet.TypeResponse, packet.TypeError, packet.Type(99)} {
		send(t, conn, &packet.Packet{Type: typ, Seq: 5, BurstCount: 3, PacketNum: 1})
		p, _ := receive(t, conn, time.Second)
		assert.Equal(t, packet.TypeError, p.Type, "reply to %s", typ)
		assert.Equal(t, int32(5), p.Seq)
	}
}

func TestListener_MalformedDatagramDropped(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	_, err := conn.Write([]byte{0, 0, 0, 3, 1, 2, 3})
	require.NoError(t, err)
	expectSilence(t, conn, 100*time.Millisecond)

	// The loop keeps serving.
	send(t, conn, data(1, 1, 0))
	resp, _ := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeResponse, resp.Type)
	assert.GreaterOrEqual(t, l.Stats().Datagrams, int64(2))
}

func TestListener_RequestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RequestRate = 0.1
	cfg.RequestBurst = 1
	cfg.LimiterIdleTimeout = time.Minute

	l := startListener(t, cfg, nil)
	conn := dial(t, l)
	req := &packet.Packet{Type: packet.TypeRequest, Seq: 1, BurstCount: 1, PacketSize: packet.MinPacketSize}

	send(t, conn, req)
	p, _ := receive(t, conn, time.Second)
	assert.Equal(t, packet.TypeData, p.Type)

	send(t, conn, req)
	expectSilence(t, conn, 100*time.Millisecond)
	assert.Equal(t, int64(1), l.Stats().Requests)
}

func TestListener_RequestRateLimitSharedAcrossPorts(t *testing.T) {
	cfg := testConfig()
	cfg.RequestRate = 0.1
	cfg.RequestBurst = 1
	cfg.LimiterIdleTimeout = time.Minute

	l := startListener(t, cfg, nil)
	a := dial(t, l)
	b := dial(t, l)
	req := &packet.Packet{Type: packet.TypeRequest, Seq: 1, BurstCount: 1, PacketSize: packet.MinPacketSize}

	send(t, a, req)
	p, _ := receive(t, a, time.Second)
	assert.Equal(t, packet.TypeData, p.Type)

	// Same host, new source port: still limited.
	send(t, b, req)
	expectSilence(t, b, 100*time.Millisecond)
	assert.Equal(t, int64(1), l.Stats().Requests)
}

func TestListener_SessionLimitPerHost(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessionsPerHost = 1

	l := startListener(t, cfg, nil)
	a := dial(t, l)
	b := dial(t, l)

	send(t, a, data(1, 2, 0))
	require.Eventually(t, func() bool { return l.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)

	send(t, b, data(2, 1, 0))
	expectSilence(t, b, 100*time.Millisecond)

	// Completing a's session frees the slot.
	send(t, a, data(1, 2, 1))
	_, _ = receive(t, a, time.Second)
	send(t, b, data(3, 1, 0))
	resp, _ := receive(t, b, time.Second)
	assert.Equal(t, int32(3), resp.Seq)
}

func TestListener_FinalizeExactlyOnce(t *testing.T) {
	sink := newCaptureSink()
	cfg := testConfig()
	cfg.SessionTimeout = time.Hour
	l := startListener(t, cfg, sink)
	conn := dial(t, l)

	send(t, conn, data(11, 10, 0))
	require.Eventually(t, func() bool { return l.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)

	client := session.NewClientIdentity(conn.LocalAddr().(*net.UDPAddr))
	rec, ok := l.table.Get(client)
	require.True(t, ok)

	// Completion, timeout and sweep racing for the same record.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); l.finalize(client, rec, metrics.ReasonComplete, time.Now()) }()
		go func() { defer wg.Done(); l.finalize(client, rec, metrics.ReasonTimeout, time.Now()) }()
		go func() { defer wg.Done(); l.sweep(time.Now()) }()
	}
	wg.Wait()

	_, _ = receive(t, conn, time.Second)
	expectSilence(t, conn, 100*time.Millisecond)
	_ = sink.next(t, time.Second)
	assert.Empty(t, sink.ch)

	s := l.Stats()
	assert.Equal(t, int64(1), s.Completed+s.TimedOut+s.Swept)
}

func TestListener_ArrivalAfterTimeoutWin(t *testing.T) {
	sink := newCaptureSink()
	cfg := testConfig()
	cfg.SessionTimeout = time.Hour
	l := startListener(t, cfg, sink)
	conn := dial(t, l)

	send(t, conn, data(21, 2, 0))
	require.Eventually(t, func() bool { return l.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)

	client := session.NewClientIdentity(conn.LocalAddr().(*net.UDPAddr))
	rec, ok := l.table.Get(client)
	require.True(t, ok)

	require.True(t, l.finalize(client, rec, metrics.ReasonTimeout, time.Now()))
	resp, _ := receive(t, conn, time.Second)
	assert.Equal(t, int32(1), resp.PacketNum)
	assert.Equal(t, metrics.ReasonTimeout, sink.next(t, time.Second).Reason)

	// A late arrival completes the orphaned record but is never reported.
	assert.True(t, rec.RecordArrival(data(21, 2, 1), time.Now()))
	assert.False(t, l.finalize(client, rec, metrics.ReasonComplete, time.Now()))
	expectSilence(t, conn, 100*time.Millisecond)
	assert.Empty(t, sink.ch)
	assert.Equal(t, int64(0), l.Stats().Completed)
}

func TestListener_StartStop(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	assert.True(t, l.Running())
	assert.NotNil(t, l.Addr())

	cfg := testConfig()
	cfg.Port = l.Addr().Port
	other := NewListener(cfg, nil, logger.NewNullLogger())
	assert.Error(t, other.Start(), "binding a used port must fail")
	assert.NoError(t, other.Stop())

	assert.NoError(t, l.Stop())
	assert.NoError(t, l.Stop())
	assert.False(t, l.Running())
}

func TestListener_StopAbortsDownlink(t *testing.T) {
	l := NewListener(testConfig(), nil, logger.NewNullLogger())
	require.NoError(t, l.Start())
	conn := dial(t, l)

	send(t, conn, &packet.Packet{
		Type: packet.TypeRequest, Seq: 1, BurstCount: packet.MaxBurstCount,
		PacketSize: packet.MinPacketSize, UDPInterval: 1,
	})
	_, _ = receive(t, conn, time.Second)

	done := make(chan struct{})
	go func() {
		_ = l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a downlink burst was running")
	}
}

func TestListener_Sessions(t *testing.T) {
	l := startListener(t, testConfig(), nil)
	conn := dial(t, l)

	send(t, conn, data(5, 4, 0))
	send(t, conn, data(5, 4, 1))

	require.Eventually(t, func() bool {
		sessions := l.Sessions()
		return len(sessions) == 1 && sessions[0].PacketsReceived == 2
	}, time.Second, 5*time.Millisecond)

	s := l.Sessions()[0]
	assert.Equal(t, int32(5), s.Seq)
	assert.Equal(t, int32(4), s.BurstCount)
	assert.Equal(t, conn.LocalAddr().String(), s.Client)
}
