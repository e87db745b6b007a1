package session

import (
	"sync"
	"time"

	"github.com/zsiec/udpburst/internal/burst/packet"
)

// Record accumulates the arrivals of one uplink burst. All methods are safe
// for concurrent use; the receive loop writes while the timeout monitor and
// the HTTP API read.
type Record struct {
	mu sync.RWMutex

	client      ClientIdentity
	seq         int32
	burstCount  int32
	packetSize  int32
	udpInterval int32
	createdAt   time.Time

	packetsReceived  int32
	maxPacketNumSeen int32
	outOfOrderCount  int32
	delayOffsets     []int64
	packetNums       []int32
	lastReceive      time.Time
}

// NewRecord starts a record from the first DATA packet of a burst. The
// arrival itself is not counted; call RecordArrival for it.
func NewRecord(client ClientIdentity, first *packet.Packet, now time.Time) *Record {
	return &Record{
		client:           client,
		seq:              first.Seq,
		burstCount:       first.BurstCount,
		packetSize:       first.PacketSize,
		udpInterval:      first.UDPInterval,
		createdAt:        now,
		lastReceive:      now,
		maxPacketNumSeen: -1,
		delayOffsets:     make([]int64, 0, first.BurstCount),
		packetNums:       make([]int32, 0, first.BurstCount),
	}
}

// RecordArrival counts one DATA packet received at now. It returns true once
// the burst is complete. Arrivals past completion are ignored.
func (r *Record) RecordArrival(p *packet.Packet, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.packetsReceived >= r.burstCount {
		return true
	}

	r.packetsReceived++
	r.lastReceive = now
	r.delayOffsets = append(r.delayOffsets, now.UnixMilli()-p.Timestamp)
	r.packetNums = append(r.packetNums, p.PacketNum)

	if p.PacketNum > r.maxPacketNumSeen {
		r.maxPacketNumSeen = p.PacketNum
	} else {
		r.outOfOrderCount++
	}

	return r.packetsReceived >= r.burstCount
}

// Client returns the owning client identity.
func (r *Record) Client() ClientIdentity {
	return r.client
}

// Seq returns the sequence number fixed at creation.
func (r *Record) Seq() int32 {
	return r.seq
}

// BurstCount returns the expected number of packets.
func (r *Record) BurstCount() int32 {
	return r.burstCount
}

// LastReceive returns the time of the latest counted arrival.
func (r *Record) LastReceive() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReceive
}

// PacketsReceived returns the number of counted arrivals.
func (r *Record) PacketsReceived() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.packetsReceived
}

// OutOfOrderCount returns the running-max reorder counter.
func (r *Record) OutOfOrderCount() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outOfOrderCount
}

// Jitter returns the delay-offset standard deviation in milliseconds.
func (r *Record) Jitter() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Jitter(r.delayOffsets)
}

// InversionCount returns the exact reorder count over the arrival order.
func (r *Record) InversionCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return InversionCount(r.packetNums)
}

// Response builds the RESPONSE packet reporting this record.
func (r *Record) Response() *packet.Packet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return packet.NewResponse(r.seq, r.burstCount, r.packetsReceived, r.outOfOrderCount,
		Jitter(r.delayOffsets), r.packetSize, r.udpInterval)
}

// Stats is a point-in-time copy of a record.
type Stats struct {
	Client          string    `json:"client"`
	Seq             int32     `json:"seq"`
	BurstCount      int32     `json:"burst_count"`
	PacketSize      int32     `json:"packet_size"`
	UDPInterval     int32     `json:"udp_interval"`
	PacketsReceived int32     `json:"packets_received"`
	MaxPacketNum    int32     `json:"max_packet_num"`
	OutOfOrder      int32     `json:"out_of_order"`
	Inversions      int64     `json:"inversions"`
	Jitter          int64     `json:"jitter_ms"`
	CreatedAt       time.Time `json:"created_at"`
	LastReceive     time.Time `json:"last_receive"`
}

// Snapshot copies the record under its read lock.
func (r *Record) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Client:          r.client.String(),
		Seq:             r.seq,
		BurstCount:      r.burstCount,
		PacketSize:      r.packetSize,
		UDPInterval:     r.udpInterval,
		PacketsReceived: r.packetsReceived,
		MaxPacketNum:    r.maxPacketNumSeen,
		OutOfOrder:      r.outOfOrderCount,
		Inversions:      InversionCount(r.packetNums),
		Jitter:          Jitter(r.delayOffsets),
		CreatedAt:       r.createdAt,
		LastReceive:     r.lastReceive,
	}
}
