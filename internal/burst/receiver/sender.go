package receiver

import (
	"context"
	"time"

	"github.com/zsiec/udpburst/internal/burst/packet"
	"github.com/zsiec/udpburst/internal/burst/session"
	"github.com/zsiec/udpburst/internal/metrics"
)

// startDownlink sends the requested burst from its own goroutine so the
// receive loop never waits on inter-packet spacing.
func (l *Listener) startDownlink(client session.ClientIdentity, req *packet.Packet) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		metrics.IncrementGoroutineCreated("downlink_sender")
		defer metrics.IncrementGoroutineDestroyed("downlink_sender")
		metrics.IncrementDownlink()
		defer metrics.DecrementDownlink()

		sent, err := l.sendBurst(l.ctx, client, req)
		if err != nil {
			l.stats.downlinkAborted.Add(1)
			if l.ctx.Err() == nil {
				l.logDispatchError(err, client.UDPAddr())
			}
			return
		}
		l.stats.downlinkBursts.Add(1)

		l.logger.WithFields(map[string]interface{}{
			"client":      client.String(),
			"seq":         req.Seq,
			"packets":     sent,
			"packet_size": req.PacketSize,
			"interval_ms": req.UDPInterval,
		}).Debug("Downlink burst sent")
	}()
}

// sendBurst emits burstCount DATA packets numbered from zero, stamped with
// the send time and spaced udpInterval milliseconds apart. The first send
// failure aborts the rest; ctx cancellation stops it between packets.
func (l *Listener) sendBurst(ctx context.Context, client session.ClientIdentity, req *packet.Packet) (int32, error) {
	interval := time.Duration(req.UDPInterval) * time.Millisecond

	var timer *time.Timer
	if interval > 0 {
		timer = time.NewTimer(interval)
		defer timer.Stop()
	}

	for i := int32(0); i < req.BurstCount; i++ {
		p := &packet.Packet{
			Type:        packet.TypeData,
			BurstCount:  req.BurstCount,
			PacketNum:   i,
			Timestamp:   packet.NowMillis(),
			PacketSize:  req.PacketSize,
			Seq:         req.Seq,
			UDPInterval: req.UDPInterval,
		}
		if err := l.send(client, p); err != nil {
			return i, err
		}

		if i == req.BurstCount-1 {
			break
		}
		if interval == 0 {
			if ctx.Err() != nil {
				return i + 1, ctx.Err()
			}
			continue
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return i + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return req.BurstCount, nil
}
