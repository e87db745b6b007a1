// Package burstclient drives measurements against a UDP burst server:
// downlink bursts requested from the server and uplink bursts sent to it.
package burstclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/zsiec/udpburst/internal/burst/packet"
	"github.com/zsiec/udpburst/internal/burst/session"
)

// DefaultIdleTimeout matches the server's default session timeout.
const DefaultIdleTimeout = time.Second

var (
	// ErrRejected is returned when the server answers with an ERROR packet.
	ErrRejected = errors.New("server rejected burst")

	// ErrNoResponse is returned when no RESPONSE arrives for an uplink burst.
	ErrNoResponse = errors.New("no response from server")
)

// Params describes one burst.
type Params struct {
	Seq        int32
	BurstCount int32
	PacketSize int32
	Interval   int32 // milliseconds between packets
}

// Validate applies the same bounds the server enforces on REQUESTs.
func (p Params) Validate() error {
	return p.request().ValidateRequest()
}

func (p Params) request() *packet.Packet {
	return &packet.Packet{
		Type:        packet.TypeRequest,
		Seq:         p.Seq,
		BurstCount:  p.BurstCount,
		PacketSize:  p.PacketSize,
		UDPInterval: p.Interval,
	}
}

// Result is the outcome of one burst as measured by the receiving side.
type Result struct {
	Direction  string        `json:"direction"`
	Seq        int32         `json:"seq"`
	Expected   int32         `json:"expected"`
	Received   int32         `json:"received"`
	OutOfOrder int32         `json:"out_of_order"`
	Inversions int64         `json:"inversions,omitempty"`
	Jitter     int64         `json:"jitter_ms"`
	Stray      int           `json:"stray,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// LossRatio is the fraction of packets that never arrived.
func (r *Result) LossRatio() float64 {
	if r.Expected <= 0 || r.Received >= r.Expected {
		return 0
	}
	return float64(r.Expected-r.Received) / float64(r.Expected)
}

// Client owns one connected UDP socket to the server. A Client runs one
// burst at a time.
type Client struct {
	conn        *net.UDPConn
	server      session.ClientIdentity
	idleTimeout time.Duration
}

// Dial connects to addr ("host:port").
func Dial(addr string, idleTimeout time.Duration) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Client{
		conn:        conn,
		server:      session.NewClientIdentity(raddr),
		idleTimeout: idleTimeout,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the client socket address the server sees.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Downlink asks the server for a burst and measures what arrives. It
// returns once every packet has arrived or the link has been idle for the
// idle timeout. Missing packets are loss, not an error.
func (c *Client) Downlink(ctx context.Context, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	if _, err := c.conn.Write(p.request().Marshal()); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var (
		rec   *session.Record
		stray int
		buf   = make([]byte, packet.BufferSize)
	)

	for {
		pkt, now, err := c.read(ctx, buf)
		if err != nil {
			if errors.Is(err, errIdle) {
				break
			}
			return nil, err
		}

		switch {
		case pkt.Type == packet.TypeError:
			return nil, fmt.Errorf("%w: %s", ErrRejected, pkt)
		case pkt.Type != packet.TypeData || pkt.Seq != p.Seq:
			stray++
			continue
		}

		if rec == nil {
			rec = session.NewRecord(c.server, pkt, now)
		}
		if rec.RecordArrival(pkt, now) {
			break
		}
	}

	res := &Result{Direction: "downlink", Seq: p.Seq, Expected: p.BurstCount, Stray: stray, Duration: time.Since(start)}
	if rec != nil {
		s := rec.Snapshot()
		res.Received = s.PacketsReceived
		res.OutOfOrder = s.OutOfOrder
		res.Inversions = s.Inversions
		res.Jitter = s.Jitter
	}
	return res, nil
}

// Uplink sends a burst to the server and waits for its RESPONSE. The
// server reports after the last packet or after its session timeout, so
// the wait allows for that plus the idle timeout.
func (c *Client) Uplink(ctx context.Context, p Params, serverTimeout time.Duration) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	if err := c.sendBurst(ctx, p); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(serverTimeout + c.idleTimeout)
	buf := make([]byte, packet.BufferSize)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("read response: %w", err)
		}

		pkt, err := packet.Decode(buf[:n])
		if err != nil || pkt.Seq != p.Seq {
			continue
		}
		switch pkt.Type {
		case packet.TypeResponse:
			return &Result{
				Direction:  "uplink",
				Seq:        pkt.Seq,
				Expected:   pkt.BurstCount,
				Received:   pkt.PacketNum,
				OutOfOrder: pkt.OutOfOrderNum,
				Jitter:     pkt.Jitter(),
				Duration:   time.Since(start),
			}, nil
		case packet.TypeError:
			return nil, fmt.Errorf("%w: %s", ErrRejected, pkt)
		}
	}
}

func (c *Client) sendBurst(ctx context.Context, p Params) error {
	interval := time.Duration(p.Interval) * time.Millisecond
	for i := int32(0); i < p.BurstCount; i++ {
		pkt := &packet.Packet{
			Type:        packet.TypeData,
			Seq:         p.Seq,
			BurstCount:  p.BurstCount,
			PacketNum:   i,
			PacketSize:  p.PacketSize,
			UDPInterval: p.Interval,
			Timestamp:   packet.NowMillis(),
		}
		if _, err := c.conn.Write(pkt.Marshal()); err != nil {
			return fmt.Errorf("send packet %d: %w", i, err)
		}
		if interval > 0 && i < p.BurstCount-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil
}

var errIdle = errors.New("idle")

// read waits up to the idle timeout for one decodable packet.
func (c *Client) read(ctx context.Context, buf []byte) (*packet.Packet, time.Time, error) {
	for {
		if ctx.Err() != nil {
			return nil, time.Time{}, ctx.Err()
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		n, err := c.conn.Read(buf)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return nil, now, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, now, errIdle
			}
			return nil, now, fmt.Errorf("read: %w", err)
		}
		pkt, err := packet.Decode(buf[:n])
		if err != nil {
			continue
		}
		return pkt, now, nil
	}
}
