// Package results stores finalized uplink burst measurements so they can be
// listed over the HTTP API or exported to Redis.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/udpburst/internal/burst/session"
)

// ErrNotFound is returned when a result ID is unknown or expired.
var ErrNotFound = errors.New("result not found")

// Result is one finalized uplink burst.
type Result struct {
	ID              string    `json:"id"`
	Client          string    `json:"client"`
	Reason          string    `json:"reason"`
	Seq             int32     `json:"seq"`
	BurstCount      int32     `json:"burst_count"`
	PacketSize      int32     `json:"packet_size"`
	UDPInterval     int32     `json:"udp_interval"`
	PacketsReceived int32     `json:"packets_received"`
	OutOfOrder      int32     `json:"out_of_order"`
	Inversions      int64     `json:"inversions"`
	Jitter          int64     `json:"jitter_ms"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// FromStats builds a result with a fresh ID from a record snapshot.
func FromStats(s session.Stats, reason string, finishedAt time.Time) *Result {
	return &Result{
		ID:              uuid.NewString(),
		Client:          s.Client,
		Reason:          reason,
		Seq:             s.Seq,
		BurstCount:      s.BurstCount,
		PacketSize:      s.PacketSize,
		UDPInterval:     s.UDPInterval,
		PacketsReceived: s.PacketsReceived,
		OutOfOrder:      s.OutOfOrder,
		Inversions:      s.Inversions,
		Jitter:          s.Jitter,
		StartedAt:       s.CreatedAt,
		FinishedAt:      finishedAt,
	}
}

// LossRatio is the fraction of expected packets that never arrived.
func (r *Result) LossRatio() float64 {
	if r.BurstCount <= 0 {
		return 0
	}
	lost := r.BurstCount - r.PacketsReceived
	if lost < 0 {
		lost = 0
	}
	return float64(lost) / float64(r.BurstCount)
}

// Store persists results.
type Store interface {
	// Save stores a result, evicting the oldest ones past capacity.
	Save(ctx context.Context, r *Result) error

	// Get returns a result by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Result, error)

	// List returns up to limit results, newest first. limit <= 0 means
	// the store's capacity.
	List(ctx context.Context, limit int) ([]*Result, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}
