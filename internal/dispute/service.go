package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/enablr/escrowd/internal/escrow"
	"github.com/enablr/escrowd/internal/idgen"
)

// EscrowControl is the slice of the escrow manager the dispute flow drives.
type EscrowControl interface {
	Get(ctx context.Context, escrowID string) (*escrow.Account, error)
	Freeze(ctx context.Context, escrowID, disputeID, reason, triggeredBy string) (*escrow.Account, error)
	Adjust(ctx context.Context, escrowID string, payoutCents int64, notes, resolvedBy string) (*escrow.Account, error)
	Unfreeze(ctx context.Context, escrowID, resolvedBy, reason string) (*escrow.Account, error)
}

// FileRequest contains the parameters for filing a dispute.
type FileRequest struct {
	EscrowID  string `json:"escrowId" binding:"required"`
	BookingID string `json:"bookingId"`
	FiledBy   string `json:"filedBy" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for resolving a dispute.
// Resolution "adjust" rewrites the enabler payout to PayoutCents;
// "release" resumes the normal release path; "dismiss" does the same but
// records the dispute as dismissed.
type ResolveRequest struct {
	Resolution  string `json:"resolution" binding:"required"`
	PayoutCents int64  `json:"payoutCents"`
	Notes       string `json:"notes"`
	ResolvedBy  string `json:"resolvedBy" binding:"required"`
}

// Service implements dispute business logic.
type Service struct {
	store  Store
	escrow EscrowControl
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a dispute service.
func NewService(store Store, escrow EscrowControl, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		escrow: escrow,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// File opens a dispute and freezes the escrow. The dispute record is
// written first so the gate blocks release even if the freeze itself races
// with a sweep.
func (s *Service) File(ctx context.Context, req FileRequest) (*Dispute, error) {
	// Both stores must agree: the memory store has no foreign keys, so the
	// escrow is verified up front rather than left to the postgres FK.
	if _, err := s.escrow.Get(ctx, req.EscrowID); err != nil {
		return nil, fmt.Errorf("escrow lookup: %w", err)
	}

	now := s.now()
	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		EscrowID:  req.EscrowID,
		BookingID: req.BookingID,
		FiledBy:   req.FiledBy,
		Reason:    req.Reason,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	if _, err := s.escrow.Freeze(ctx, req.EscrowID, d.ID, req.Reason, req.FiledBy); err != nil {
		// The dispute stands either way; the gate still blocks release.
		s.logger.Warn("dispute filed but escrow freeze failed",
			"disputeId", d.ID, "escrowId", req.EscrowID, "error", err)
	}

	s.logger.Info("dispute filed", "disputeId", d.ID, "escrowId", req.EscrowID, "filedBy", req.FiledBy)
	return d, nil
}

// Resolve closes a dispute and routes the escrow per the resolution.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.IsLive() {
		return nil, ErrAlreadyResolved
	}

	switch req.Resolution {
	case "adjust":
		if _, err := s.escrow.Adjust(ctx, d.EscrowID, req.PayoutCents, req.Notes, req.ResolvedBy); err != nil {
			return nil, fmt.Errorf("failed to adjust escrow: %w", err)
		}
		d.Status = StatusResolved
	case "release":
		if _, err := s.escrow.Unfreeze(ctx, d.EscrowID, req.ResolvedBy, "dispute resolved, release resumed"); err != nil {
			return nil, fmt.Errorf("failed to unfreeze escrow: %w", err)
		}
		d.Status = StatusResolved
	case "dismiss":
		if _, err := s.escrow.Unfreeze(ctx, d.EscrowID, req.ResolvedBy, "dispute dismissed"); err != nil {
			return nil, fmt.Errorf("failed to unfreeze escrow: %w", err)
		}
		d.Status = StatusDismissed
	default:
		return nil, fmt.Errorf("unknown resolution %q", req.Resolution)
	}

	now := s.now()
	d.Resolution = req.Notes
	d.ResolvedBy = req.ResolvedBy
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	s.logger.Info("dispute resolved",
		"disputeId", d.ID, "escrowId", d.EscrowID, "resolution", req.Resolution)
	return d, nil
}

// Get returns a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListByEscrow returns disputes for an escrow.
func (s *Service) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByEscrow(ctx, escrowID, limit)
}
