// Package dispute tracks booking disputes and gates escrow release.
//
// A dispute filed against a booking freezes its escrow; while any dispute is
// in a live status the auto-release sweep will not touch the escrow.
// Resolution either adjusts the payout (arbitration) or puts the escrow back
// on the release path.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrAlreadyResolved = errors.New("dispute already resolved")
)

// Status represents the state of a dispute.
type Status string

const (
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusResolved         Status = "resolved"
	StatusDismissed        Status = "dismissed"
)

// LiveStatuses are the dispute states that block escrow release.
var LiveStatuses = []Status{StatusOpen, StatusUnderReview, StatusAwaitingResponse}

// IsLive reports whether the status blocks escrow release.
func (s Status) IsLive() bool {
	switch s {
	case StatusOpen, StatusUnderReview, StatusAwaitingResponse:
		return true
	}
	return false
}

// Dispute is one filed dispute against a booking's escrow.
type Dispute struct {
	ID         string     `json:"id"`
	EscrowID   string     `json:"escrowId"`
	BookingID  string     `json:"bookingId,omitempty"`
	FiledBy    string     `json:"filedBy"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Dispute, error)
	// CountLive returns the number of disputes for an escrow whose status
	// is one of LiveStatuses.
	CountLive(ctx context.Context, escrowID string) (int, error)
}

// Gate answers the "does a live dispute block release" question. It is the
// read-only view the escrow core consumes.
type Gate struct {
	store Store
}

// NewGate creates a dispute gate over a store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// HasLiveDispute reports whether any live dispute exists for the escrow.
func (g *Gate) HasLiveDispute(ctx context.Context, escrowID string) (bool, error) {
	n, err := g.store.CountLive(ctx, escrowID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
