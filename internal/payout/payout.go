// Package payout records the payouts produced when escrows release.
//
// These are the records a payment processor would pick up; escrowd writes
// them and leaves them pending. Processor integration lives elsewhere.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/enablr/escrowd/internal/idgen"
)

var ErrPayoutNotFound = errors.New("payout not found")

// StatusPending is the status every payout is created with.
const StatusPending = "pending"

// Payout is one enabler payout produced by an escrow release.
type Payout struct {
	ID          string    `json:"id"`
	EscrowID    string    `json:"escrowId"`
	BookingID   string    `json:"bookingId"`
	Currency    string    `json:"currency"`
	AmountCents int64     `json:"amountCents"` // gross booking amount
	FeeCents    int64     `json:"feeCents"`    // platform commission
	NetCents    int64     `json:"netCents"`    // what the enabler receives
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists payouts.
type Store interface {
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Payout, error)
}

// Service implements escrow's PayoutCreator over a store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a payout service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreatePayout records a pending payout for a released escrow.
func (s *Service) CreatePayout(ctx context.Context, escrowID, bookingID, currency string, grossCents, feeCents, netCents int64) (string, error) {
	p := &Payout{
		ID:          idgen.WithPrefix("pay_"),
		EscrowID:    escrowID,
		BookingID:   bookingID,
		Currency:    currency,
		AmountCents: grossCents,
		FeeCents:    feeCents,
		NetCents:    netCents,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// ListByEscrow returns payouts for an escrow.
func (s *Service) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByEscrow(ctx, escrowID, limit)
}
