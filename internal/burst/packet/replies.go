package packet

import "fmt"

// Reply builders for the control packets the server emits.

// NewError builds an ERROR reply echoing the offending packet's burst fields.
func NewError(cause *Packet) *Packet {
	p := &Packet{Type: TypeError, Timestamp: NowMillis(), PacketSize: MinPacketSize}
	if cause != nil {
		p.BurstCount = cause.BurstCount
		p.PacketNum = cause.PacketNum
		p.Seq = cause.Seq
		p.UDPInterval = cause.UDPInterval
	}
	return p
}

// NewResponse builds the RESPONSE that closes an uplink burst. The jitter
// value travels in the Timestamp field.
func NewResponse(seq, burstCount, packetsReceived, outOfOrder int32, jitter int64, packetSize, udpInterval int32) *Packet {
	return &Packet{
		Type:          TypeResponse,
		BurstCount:    burstCount,
		PacketNum:     packetsReceived,
		OutOfOrderNum: outOfOrder,
		Timestamp:     jitter,
		PacketSize:    packetSize,
		Seq:           seq,
		UDPInterval:   udpInterval,
	}
}

// Jitter extracts the jitter value from a RESPONSE packet.
func (p *Packet) Jitter() int64 {
	return p.Timestamp
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s{seq=%d burst=%d num=%d ooo=%d ts=%d size=%d interval=%d}",
		p.Type, p.Seq, p.BurstCount, p.PacketNum, p.OutOfOrderNum, p.Timestamp, p.PacketSize, p.UDPInterval)
}
