package packet

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("burst parameters out of range")

// ValidationError describes the first burst field found out of bounds.
type ValidationError struct {
	Field string
	Value int32
	Min   int32
	Max   int32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%d outside [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidateRequest checks the burst parameters of a downlink REQUEST.
func (p *Packet) ValidateRequest() error {
	if err := checkRange("burstCount", p.BurstCount, 1, MaxBurstCount); err != nil {
		return err
	}
	if err := checkRange("packetSize", p.PacketSize, MinPacketSize, MaxPacketSize); err != nil {
		return err
	}
	return checkRange("udpInterval", p.UDPInterval, 0, MaxInterval)
}

// ValidateUplink checks the fields a DATA packet must carry to open a new
// uplink session.
func (p *Packet) ValidateUplink() error {
	return checkRange("burstCount", p.BurstCount, 1, MaxBurstCount)
}

func checkRange(field string, v, lo, hi int32) error {
	if v < lo || v > hi {
		return &ValidationError{Field: field, Value: v, Min: lo, Max: hi}
	}
	return nil
}
