// Package escrow implements the escrow lifecycle for event bookings.
//
// Flow:
//  1. Booking confirmed → full amount held, ledger HOLD entry written
//  2. Event begins → escrow enters the protected window
//  3. Host validates completion → release initiated
//  4. Auto-release deadline passes with no live dispute → enabler paid out
//  5. Seven days after the event → escrow closed and archived for audit
//
// A dispute filed at any point before closure freezes the escrow; arbitration
// either adjusts the payout or puts the escrow back on the release path.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEscrowNotFound   = errors.New("escrow not found")
	ErrInvalidState     = errors.New("invalid escrow state for this operation")
	ErrDuplicateBooking = errors.New("escrow already exists for booking")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvariant        = errors.New("escrow invariant violated")
)

// Status represents the state of an escrow account.
type Status string

const (
	StatusHold             Status = "hold"              // Funds held, event not started
	StatusProtected        Status = "protected"         // Event in progress
	StatusReleaseInitiated Status = "release_initiated" // Host validated completion
	StatusReleaseAuto      Status = "release_auto"      // Deadline passed, payout in flight
	StatusFrozen           Status = "frozen"            // Live dispute blocks release
	StatusAdjusted         Status = "adjusted"          // Arbitration rewrote the payout
	StatusReleased         Status = "released"          // Enabler paid out
	StatusClosed           Status = "closed"            // Settled and archived
)

// Timeline defaults, measured from the event start.
const (
	DefaultAutoReleaseAfter = 72 * time.Hour
	DefaultSettlementAfter  = 7 * 24 * time.Hour
)

// ReconciliationReconciled is the only reconciliation status escrowd sets;
// closure reconciles in place.
const ReconciliationReconciled = "reconciled"

// Transition is one immutable entry in an account's state history.
// FromState is empty for the creation entry.
type Transition struct {
	FromState   Status    `json:"fromState,omitempty"`
	ToState     Status    `json:"toState"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy string    `json:"triggeredBy"`
	Reason      string    `json:"reason,omitempty"`
}

// ReleaseRules is the rule snapshot frozen onto the account at creation.
// Deadlines are computed from it once and never recomputed.
type ReleaseRules struct {
	SLAHours              int  `json:"slaHours"`
	SettlementDays        int  `json:"settlementDays"`
	RequireHostValidation bool `json:"requireHostValidation"`
	AutoReleaseOnHostIdle bool `json:"autoReleaseOnHostIdle"`
}

// Account is one escrow account per confirmed booking.
type Account struct {
	ID         string `json:"id"`
	BookingID  string `json:"bookingId"`
	ContractID string `json:"contractId,omitempty"`

	Status Status `json:"status"`

	AmountCents        int64   `json:"amountCents"`
	Currency           string  `json:"currency"`
	CommissionRate     float64 `json:"commissionRate"`
	CommissionCents    int64   `json:"commissionCents"`
	EnablerPayoutCents int64   `json:"enablerPayoutCents"`
	// RefundCents is nonzero only after an arbitration adjustment lowered the
	// payout; commission is preserved, the remainder goes back to the host.
	RefundCents int64 `json:"refundCents,omitempty"`

	EventStart          time.Time `json:"eventStart"`
	AutoReleaseDeadline time.Time `json:"autoReleaseDeadline"`
	DisputeWindowEnds   time.Time `json:"disputeWindowEnds"`
	FinalSettlementDate time.Time `json:"finalSettlementDate"`
	AutoReleaseEnabled  bool      `json:"autoReleaseEnabled"`

	ReleaseRules ReleaseRules `json:"releaseRules"`
	StateHistory []Transition `json:"stateHistory"`

	// Populated only when a dispute freezes the escrow.
	DisputeID          string     `json:"disputeId,omitempty"`
	DisputedAt         *time.Time `json:"disputedAt,omitempty"`
	FrozenAt           *time.Time `json:"frozenAt,omitempty"`
	ArbitrationNotes   string     `json:"arbitrationNotes,omitempty"`
	ManualActionBy     string     `json:"manualActionBy,omitempty"`
	ManualActionReason string     `json:"manualActionReason,omitempty"`

	ReleasedAt *time.Time `json:"releasedAt,omitempty"`

	// Populated only at closure.
	ArchivedForAudit     bool       `json:"archivedForAudit"`
	ReconciliationStatus string     `json:"reconciliationStatus,omitempty"`
	ReconciledAt         *time.Time `json:"reconciledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the account has reached its final state.
func (a *Account) IsTerminal() bool {
	return a.Status == StatusClosed
}

// Clone returns a deep copy. StateHistory shares its backing array after a
// shallow copy, so an append on the copy could mutate the stored account.
func (a *Account) Clone() *Account {
	cp := *a
	if a.StateHistory != nil {
		cp.StateHistory = make([]Transition, len(a.StateHistory))
		copy(cp.StateHistory, a.StateHistory)
	}
	return &cp
}

// Store persists escrow accounts.
type Store interface {
	Create(ctx context.Context, acct *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByBooking(ctx context.Context, bookingID string) (*Account, error)
	Update(ctx context.Context, acct *Account) error
	// ListAwaitingRelease returns accounts in release_initiated with
	// auto-release enabled. Deadline filtering is the sweep's job.
	ListAwaitingRelease(ctx context.Context, limit int) ([]*Account, error)
	// ListSettleable returns released, unarchived accounts whose final
	// settlement date is at or before the given time.
	ListSettleable(ctx context.Context, before time.Time, limit int) ([]*Account, error)
}

// DisputeGate answers whether a live dispute blocks release of an escrow.
type DisputeGate interface {
	HasLiveDispute(ctx context.Context, escrowID string) (bool, error)
}

// PayoutCreator records the external payout produced by a release.
type PayoutCreator interface {
	CreatePayout(ctx context.Context, escrowID, bookingID, currency string, grossCents, feeCents, netCents int64) (string, error)
}

// TransitionBroadcaster publishes state transitions to live subscribers.
type TransitionBroadcaster interface {
	BroadcastTransition(escrowID string, from, to string, at time.Time)
}
