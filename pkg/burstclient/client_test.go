package burstclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/udpburst/internal/burst/packet"
	"github.com/zsiec/udpburst/internal/burst/receiver"
	"github.com/zsiec/udpburst/internal/config"
	"github.com/zsiec/udpburst/internal/logger"
)

const sessionTimeout = 100 * time.Millisecond

func startServer(t *testing.T) string {
	t.Helper()
	l := receiver.NewListener(&config.BurstConfig{
		ListenAddr:     "127.0.0.1",
		SessionTimeout: sessionTimeout,
		GlobalTimeout:  10 * time.Second,
		ReadTimeout:    20 * time.Millisecond,
	}, nil, logger.NewNullLogger())
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, Params{BurstCount: 10, PacketSize: 100, Interval: 1}.Validate())
	assert.ErrorIs(t, Params{BurstCount: 0, PacketSize: 100}.Validate(), packet.ErrValidation)
	assert.ErrorIs(t, Params{BurstCount: 10, PacketSize: 35}.Validate(), packet.ErrValidation)
	assert.ErrorIs(t, Params{BurstCount: 10, PacketSize: 100, Interval: 5}.Validate(), packet.ErrValidation)
}

func TestClient_Downlink(t *testing.T) {
	c := dial(t, startServer(t))

	res, err := c.Downlink(context.Background(), Params{Seq: 3, BurstCount: 20, PacketSize: 128, Interval: 1})
	require.NoError(t, err)

	assert.Equal(t, "downlink", res.Direction)
	assert.Equal(t, int32(20), res.Expected)
	assert.Equal(t, int32(20), res.Received)
	assert.Equal(t, int32(0), res.OutOfOrder, "loopback keeps order")
	assert.Equal(t, int64(0), res.Inversions)
	assert.Zero(t, res.LossRatio())
}

func TestClient_Uplink(t *testing.T) {
	c := dial(t, startServer(t))

	res, err := c.Uplink(context.Background(), Params{Seq: 8, BurstCount: 10, PacketSize: 64}, sessionTimeout)
	require.NoError(t, err)

	assert.Equal(t, "uplink", res.Direction)
	assert.Equal(t, int32(8), res.Seq)
	assert.Equal(t, int32(10), res.Expected)
	assert.Equal(t, int32(10), res.Received)
	assert.Equal(t, int32(0), res.OutOfOrder)
}

func TestClient_RepeatedBursts(t *testing.T) {
	c := dial(t, startServer(t))

	for seq := int32(1); seq <= 3; seq++ {
		res, err := c.Uplink(context.Background(), Params{Seq: seq, BurstCount: 5, PacketSize: 36}, sessionTimeout)
		require.NoError(t, err)
		assert.Equal(t, seq, res.Seq)
	}
}

func TestClient_DownlinkIdleWithoutServer(t *testing.T) {
	// A bound socket that never answers.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	c := dial(t, silent.LocalAddr().String())
	res, err := c.Downlink(context.Background(), Params{Seq: 1, BurstCount: 5, PacketSize: 36})
	require.NoError(t, err)
	assert.Equal(t, int32(0), res.Received)
	assert.Equal(t, 1.0, res.LossRatio())

	_, err = c.Uplink(context.Background(), Params{Seq: 1, BurstCount: 1, PacketSize: 36}, 0)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestClient_UplinkRejected(t *testing.T) {
	// Answers every datagram with an ERROR, as the server does on a
	// sequence mismatch.
	fake, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer fake.Close()

	go func() {
		buf := make([]byte, packet.BufferSize)
		for {
			n, addr, err := fake.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if p, err := packet.Decode(buf[:n]); err == nil {
				_, _ = fake.WriteToUDP(packet.NewError(p).Marshal(), addr)
			}
		}
	}()

	c := dial(t, fake.LocalAddr().String())
	_, err = c.Uplink(context.Background(), Params{Seq: 2, BurstCount: 1, PacketSize: 36}, sessionTimeout)
	assert.ErrorIs(t, err, ErrRejected)

	_, err = c.Downlink(context.Background(), Params{Seq: 2, BurstCount: 1, PacketSize: 36})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClient_DownlinkCancelled(t *testing.T) {
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	c, err := Dial(silent.LocalAddr().String(), 5*time.Second)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Downlink(ctx, Params{Seq: 1, BurstCount: 5, PacketSize: 36})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResultLossRatio(t *testing.T) {
	assert.InDelta(t, 0.25, (&Result{Expected: 4, Received: 3}).LossRatio(), 1e-9)
	assert.Zero(t, (&Result{Expected: 0}).LossRatio())
	assert.Zero(t, (&Result{Expected: 2, Received: 5}).LossRatio())
}
