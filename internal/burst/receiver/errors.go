package receiver

import (
	"errors"
	"fmt"

	"github.com/zsiec/udpburst/internal/burst/packet"
)

// Sentinel kinds for errors.Is. Validation failures use packet.ErrValidation
// and undecodable datagrams packet.ErrMalformedPacket.
var (
	ErrSequenceMismatch = errors.New("sequence mismatch")
	ErrUnrecognizedType = errors.New("unrecognized packet type")
	ErrSend             = errors.New("send failed")
	ErrRateLimited      = errors.New("request rate limit exceeded")
	ErrSessionLimit     = errors.New("session limit reached")
)

// SequenceMismatchError reports a DATA packet whose seq differs from the
// session it belongs to. The session is discarded.
type SequenceMismatchError struct {
	Client   string
	Expected int32
	Got      int32
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("sequence mismatch from %s: session seq %d, packet seq %d", e.Client, e.Expected, e.Got)
}

func (e *SequenceMismatchError) Is(target error) bool {
	return target == ErrSequenceMismatch
}

// UnrecognizedTypeError reports a packet type the server does not accept.
type UnrecognizedTypeError struct {
	Client string
	Type   packet.Type
}

func (e *UnrecognizedTypeError) Error() string {
	return fmt.Sprintf("unrecognized packet type %s from %s", e.Type, e.Client)
}

func (e *UnrecognizedTypeError) Is(target error) bool {
	return target == ErrUnrecognizedType
}

// SendError wraps a failed datagram write.
type SendError struct {
	Client string
	Type   packet.Type
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Type, e.Client, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) Is(target error) bool {
	return target == ErrSend
}

// errorKind maps an error to the label used in metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, packet.ErrMalformedPacket):
		return "malformed"
	case errors.Is(err, packet.ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionLimit):
		return "session_limit"
	case errors.Is(err, ErrSequenceMismatch):
		return "sequence_mismatch"
	case errors.Is(err, ErrUnrecognizedType):
		return "unrecognized_type"
	case errors.Is(err, ErrSend):
		return "send"
	default:
		return "internal"
	}
}
