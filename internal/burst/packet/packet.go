package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Wire constants.
const (
	HeaderSize = 36

	MinPacketSize = HeaderSize
	MaxPacketSize = 512

	// BufferSize is the receive buffer for one datagram.
	BufferSize = 1500

	MaxBurstCount = 100
	// MaxInterval is the largest accepted gap between burst packets, in ms.
	MaxInterval = 1
)

// Type is the packet type code carried in the first header word.
type Type int32

const (
	TypeError    Type = 1
	TypeResponse Type = 2
	TypeData     Type = 3
	TypeRequest  Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "ERROR"
	case TypeResponse:
		return "RESPONSE"
	case TypeData:
		return "DATA"
	case TypeRequest:
		return "REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// Valid reports whether t is one of the four protocol types.
func (t Type) Valid() bool {
	return t >= TypeError && t <= TypeRequest
}

// ErrMalformedPacket is returned when a datagram cannot hold a header.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one decoded measurement header.
type Packet struct {
	Type          Type
	BurstCount    int32
	PacketNum     int32
	OutOfOrderNum int32
	Timestamp     int64
	PacketSize    int32
	Seq           int32
	UDPInterval   int32
}

// Decode parses the header at the start of data. Trailing bytes are ignored.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: need %d header bytes, got %d", ErrMalformedPacket, HeaderSize, len(data))
	}

	p.Type = Type(int32(binary.BigEndian.Uint32(data[0:4])))
	p.BurstCount = int32(binary.BigEndian.Uint32(data[4:8]))
	p.PacketNum = int32(binary.BigEndian.Uint32(data[8:12]))
	p.OutOfOrderNum = int32(binary.BigEndian.Uint32(data[12:16]))
	p.Timestamp = int64(binary.BigEndian.Uint64(data[16:24]))
	p.PacketSize = int32(binary.BigEndian.Uint32(data[24:28]))
	p.Seq = int32(binary.BigEndian.Uint32(data[28:32]))
	p.UDPInterval = int32(binary.BigEndian.Uint32(data[32:36]))
	return nil
}

// PutHeader writes the 36-byte header into dst, which must be at least
// HeaderSize long.
func (p *Packet) PutHeader(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.BigEndian.PutUint32(dst[0:4], uint32(p.Type))
	binary.BigEndian.PutUint32(dst[4:8], uint32(p.BurstCount))
	binary.BigEndian.PutUint32(dst[8:12], uint32(p.PacketNum))
	binary.BigEndian.PutUint32(dst[12:16], uint32(p.OutOfOrderNum))
	binary.BigEndian.PutUint64(dst[16:24], uint64(p.Timestamp))
	binary.BigEndian.PutUint32(dst[24:28], uint32(p.PacketSize))
	binary.BigEndian.PutUint32(dst[28:32], uint32(p.Seq))
	binary.BigEndian.PutUint32(dst[32:36], uint32(p.UDPInterval))
}

// MarshalBinary returns the header only.
func (p *Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	p.PutHeader(buf)
	return buf, nil
}

// Marshal returns the header padded with zero bytes to PacketSize. Sizes
// outside [MinPacketSize, MaxPacketSize] are clamped to that range.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, ClampSize(p.PacketSize))
	p.PutHeader(buf)
	return buf
}

// ClampSize bounds a requested datagram length to the legal packet sizes.
func ClampSize(size int32) int {
	switch {
	case size < MinPacketSize:
		return MinPacketSize
	case size > MaxPacketSize:
		return MaxPacketSize
	default:
		return int(size)
	}
}

// NowMillis returns the current wall clock in ms since the epoch, the unit
// carried in Timestamp.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
