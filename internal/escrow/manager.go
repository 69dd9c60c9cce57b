package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/enablr/escrowd/internal/idgen"
	"github.com/enablr/escrowd/internal/metrics"
	"github.com/enablr/escrowd/internal/syncutil"
	"github.com/enablr/escrowd/internal/traces"
)

// DefaultCommissionRate is the platform's cut when the caller doesn't
// supply one.
const DefaultCommissionRate = 0.15

// Manager is the escrow state machine. Every status change goes through
// transition(), which appends to the account's state history; no other code
// path writes Status. All operations on one escrow are serialized by a
// per-key lock, and preconditions are re-checked after the lock is held.
type Manager struct {
	store    Store
	ledger   LedgerStore
	disputes DisputeGate
	payouts  PayoutCreator
	events   TransitionBroadcaster

	commissionRate   float64
	autoReleaseAfter time.Duration
	settlementAfter  time.Duration

	locks  syncutil.ShardedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an escrow manager with default timeline rules.
func NewManager(store Store, ledger LedgerStore, disputes DisputeGate, logger *slog.Logger) *Manager {
	return &Manager{
		store:            store,
		ledger:           ledger,
		disputes:         disputes,
		commissionRate:   DefaultCommissionRate,
		autoReleaseAfter: DefaultAutoReleaseAfter,
		settlementAfter:  DefaultSettlementAfter,
		logger:           logger,
		now:              time.Now,
	}
}

// WithPayouts adds a payout recorder invoked on release.
func (m *Manager) WithPayouts(p PayoutCreator) *Manager {
	m.payouts = p
	return m
}

// WithBroadcaster adds a live transition feed.
func (m *Manager) WithBroadcaster(b TransitionBroadcaster) *Manager {
	m.events = b
	return m
}

// WithCommissionRate overrides the default platform commission.
func (m *Manager) WithCommissionRate(rate float64) *Manager {
	if rate > 0 && rate < 1 {
		m.commissionRate = rate
	}
	return m
}

// WithTimeline overrides the auto-release and settlement offsets.
func (m *Manager) WithTimeline(autoRelease, settlement time.Duration) *Manager {
	if autoRelease > 0 {
		m.autoReleaseAfter = autoRelease
	}
	if settlement > 0 {
		m.settlementAfter = settlement
	}
	return m
}

// WithClock overrides the time source (for tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateRequest contains the parameters for creating an escrow on booking
// confirmation.
type CreateRequest struct {
	BookingID      string    `json:"bookingId" binding:"required"`
	ContractID     string    `json:"contractId"`
	AmountCents    int64     `json:"amountCents" binding:"required"`
	Currency       string    `json:"currency" binding:"required"`
	CommissionRate float64   `json:"commissionRate"` // 0 → platform default
	EventStart     time.Time `json:"eventStart" binding:"required"`
	TriggeredBy    string    `json:"triggeredBy"`
}

// Create opens an escrow for a confirmed booking: computes the commission
// split and timeline deadlines, records the creation transition, and writes
// the initial HOLD ledger entry for the full amount.
//
// One escrow per booking: a second call for the same booking fails with
// ErrDuplicateBooking.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.BookingID(req.BookingID))
	defer span.End()

	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	rate := req.CommissionRate
	if rate == 0 {
		rate = m.commissionRate
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("%w: commission rate %v out of range", ErrInvalidAmount, rate)
	}

	commission := int64(math.Round(float64(req.AmountCents) * rate))
	payout := req.AmountCents - commission
	if commission < 0 || payout < 0 || commission+payout != req.AmountCents {
		return nil, fmt.Errorf("%w: split %d + %d != %d", ErrInvariant, commission, payout, req.AmountCents)
	}

	now := m.now()
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "system"
	}

	acct := &Account{
		ID:                 idgen.WithPrefix("esc_"),
		BookingID:          req.BookingID,
		ContractID:         req.ContractID,
		AmountCents:        req.AmountCents,
		Currency:           req.Currency,
		CommissionRate:     rate,
		CommissionCents:    commission,
		EnablerPayoutCents: payout,

		EventStart:          req.EventStart,
		AutoReleaseDeadline: req.EventStart.Add(m.autoReleaseAfter),
		DisputeWindowEnds:   req.EventStart.Add(m.settlementAfter),
		FinalSettlementDate: req.EventStart.Add(m.settlementAfter),
		AutoReleaseEnabled:  true,

		ReleaseRules: ReleaseRules{
			SLAHours:              int(m.autoReleaseAfter / time.Hour),
			SettlementDays:        int(m.settlementAfter / (24 * time.Hour)),
			RequireHostValidation: true,
			AutoReleaseOnHostIdle: true,
		},

		CreatedAt: now,
		UpdatedAt: now,
	}

	// Creation is the first history entry; FromState stays empty.
	acct.Status = StatusHold
	acct.StateHistory = append(acct.StateHistory, Transition{
		ToState:     StatusHold,
		Timestamp:   now,
		TriggeredBy: triggeredBy,
		Reason:      "booking confirmed",
	})

	unlock := m.locks.Lock(acct.ID)
	defer unlock()

	if err := m.store.Create(ctx, acct); err != nil {
		return nil, err
	}

	if err := m.createLedgerEntry(ctx, acct, EntryHold, acct.AmountCents,
		fmt.Sprintf("hold for booking %s", acct.BookingID), triggeredBy); err != nil {
		return nil, fmt.Errorf("failed to write hold entry: %w", err)
	}

	metrics.EscrowsCreatedTotal.Inc()
	m.publish(acct.ID, "", StatusHold, now)
	m.logger.Info("escrow created",
		"escrowId", acct.ID,
		"bookingId", acct.BookingID,
		"amountCents", acct.AmountCents,
		"commissionCents", acct.CommissionCents,
		"payoutCents", acct.EnablerPayoutCents,
	)
	return acct, nil
}

// MarkProtected transitions the escrow into the protected window when the
// event begins. System-triggered, informational.
func (m *Manager) MarkProtected(ctx context.Context, id, triggeredBy string) (*Account, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status != StatusHold {
		return nil, fmt.Errorf("%w: %s cannot enter protected from %s", ErrInvalidState, id, acct.Status)
	}
	if err := m.transition(ctx, acct, StatusProtected, triggeredBy, "event started"); err != nil {
		return nil, err
	}
	return acct, nil
}

// InitiateRelease records the host's completion validation. Fails with
// ErrInvalidState when the escrow is frozen; the periodic sweep picks the
// escrow up once the auto-release deadline passes.
func (m *Manager) InitiateRelease(ctx context.Context, id, hostID string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.InitiateRelease", traces.EscrowID(id))
	defer span.End()

	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status == StatusFrozen {
		return nil, fmt.Errorf("%w: escrow %s is frozen", ErrInvalidState, id)
	}
	if acct.Status != StatusHold && acct.Status != StatusProtected {
		return nil, fmt.Errorf("%w: cannot initiate release from %s", ErrInvalidState, acct.Status)
	}
	if err := m.transition(ctx, acct, StatusReleaseInitiated, hostID, "host validated completion"); err != nil {
		return nil, err
	}
	return acct, nil
}

// CheckAutoRelease releases the escrow if and only if it is still in
// release_initiated, no live dispute exists, and the auto-release deadline
// has passed. Anything else is a safe no-op; the next sweep retries.
func (m *Manager) CheckAutoRelease(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status != StatusReleaseInitiated {
		return nil
	}
	live, err := m.disputes.HasLiveDispute(ctx, id)
	if err != nil {
		return fmt.Errorf("dispute check failed: %w", err)
	}
	if live {
		m.logger.Debug("auto-release blocked by live dispute", "escrowId", id)
		return nil
	}
	if m.now().Before(acct.AutoReleaseDeadline) {
		return nil
	}
	return m.executeAutoRelease(ctx, acct)
}

// ExecuteAutoRelease flips a release_initiated escrow to release_auto and
// pays it out. The sweep has already verified the deadline and dispute gate;
// the status precondition is re-checked here under the lock.
func (m *Manager) ExecuteAutoRelease(ctx context.Context, id string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.ExecuteAutoRelease", traces.EscrowID(id))
	defer span.End()

	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status != StatusReleaseInitiated {
		return fmt.Errorf("%w: auto-release requires release_initiated, got %s", ErrInvalidState, acct.Status)
	}
	return m.executeAutoRelease(ctx, acct)
}

// executeAutoRelease requires the caller to hold the escrow's lock and to
// have verified status == release_initiated.
func (m *Manager) executeAutoRelease(ctx context.Context, acct *Account) error {
	if err := m.transition(ctx, acct, StatusReleaseAuto, "system", "auto-release deadline passed"); err != nil {
		return err
	}
	metrics.EscrowsAutoReleasedTotal.Inc()
	return m.executePayout(ctx, acct, "system")
}

// Freeze blocks release from any non-terminal state while a dispute is live.
func (m *Manager) Freeze(ctx context.Context, id, disputeID, reason, triggeredBy string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Freeze", traces.EscrowID(id))
	defer span.End()

	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow %s is closed", ErrInvalidState, id)
	}
	if acct.Status == StatusFrozen {
		return nil, fmt.Errorf("%w: escrow %s is already frozen", ErrInvalidState, id)
	}

	now := m.now()
	acct.DisputeID = disputeID
	acct.DisputedAt = &now
	acct.FrozenAt = &now
	if err := m.transition(ctx, acct, StatusFrozen, triggeredBy, reason); err != nil {
		return nil, err
	}
	metrics.EscrowsFrozenTotal.Inc()
	m.logger.Info("escrow frozen", "escrowId", id, "disputeId", disputeID)
	return acct, nil
}

// Adjust resolves a frozen escrow with an arbitrated payout and executes it.
// Commission is preserved; the difference between the original and adjusted
// payout becomes a refund to the host, written as a REFUND ledger entry at
// payout time so the ledger still reconciles.
func (m *Manager) Adjust(ctx context.Context, id string, payoutCents int64, notes, resolvedBy string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Adjust", traces.EscrowID(id))
	defer span.End()

	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status != StatusFrozen {
		return nil, fmt.Errorf("%w: adjust requires frozen, got %s", ErrInvalidState, acct.Status)
	}
	maxPayout := acct.AmountCents - acct.CommissionCents
	if payoutCents < 0 || payoutCents > maxPayout {
		return nil, fmt.Errorf("%w: adjusted payout %d outside [0, %d]", ErrInvalidAmount, payoutCents, maxPayout)
	}

	acct.RefundCents = maxPayout - payoutCents
	acct.EnablerPayoutCents = payoutCents
	acct.ArbitrationNotes = notes
	acct.ManualActionBy = resolvedBy
	acct.ManualActionReason = notes
	if err := m.transition(ctx, acct, StatusAdjusted, resolvedBy, "arbitration resolved"); err != nil {
		return nil, err
	}
	if err := m.executePayout(ctx, acct, resolvedBy); err != nil {
		return nil, err
	}
	return acct, nil
}

// Unfreeze puts a frozen escrow back on the release path after a dispute is
// resolved without changing the payout.
func (m *Manager) Unfreeze(ctx context.Context, id, resolvedBy, reason string) (*Account, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status != StatusFrozen {
		return nil, fmt.Errorf("%w: unfreeze requires frozen, got %s", ErrInvalidState, acct.Status)
	}
	acct.ManualActionBy = resolvedBy
	acct.ManualActionReason = reason
	if err := m.transition(ctx, acct, StatusReleaseInitiated, resolvedBy, reason); err != nil {
		return nil, err
	}
	return acct, nil
}

// ExecutePayout pays out an escrow in release_auto or adjusted state.
func (m *Manager) ExecutePayout(ctx context.Context, id, triggeredBy string) (*Account, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.executePayout(ctx, acct, triggeredBy); err != nil {
		return nil, err
	}
	return acct, nil
}

// executePayout requires the caller to hold the escrow's lock.
func (m *Manager) executePayout(ctx context.Context, acct *Account, triggeredBy string) error {
	if acct.Status != StatusReleaseAuto && acct.Status != StatusAdjusted {
		return fmt.Errorf("%w: payout requires release_auto or adjusted, got %s", ErrInvalidState, acct.Status)
	}
	if acct.CommissionCents+acct.EnablerPayoutCents+acct.RefundCents != acct.AmountCents {
		return fmt.Errorf("%w: %d + %d + %d != %d", ErrInvariant,
			acct.CommissionCents, acct.EnablerPayoutCents, acct.RefundCents, acct.AmountCents)
	}

	if m.payouts != nil {
		payoutID, err := m.payouts.CreatePayout(ctx, acct.ID, acct.BookingID, acct.Currency,
			acct.AmountCents, acct.CommissionCents, acct.EnablerPayoutCents)
		if err != nil {
			return fmt.Errorf("failed to create payout: %w", err)
		}
		m.logger.Info("payout recorded", "escrowId", acct.ID, "payoutId", payoutID,
			"netCents", acct.EnablerPayoutCents)
	}

	now := m.now()
	acct.ReleasedAt = &now
	if err := m.transition(ctx, acct, StatusReleased, triggeredBy, "payout executed"); err != nil {
		return err
	}

	if acct.EnablerPayoutCents > 0 {
		if err := m.createLedgerEntry(ctx, acct, EntryRelease, acct.EnablerPayoutCents,
			fmt.Sprintf("payout to enabler for booking %s", acct.BookingID), triggeredBy); err != nil {
			return err
		}
	}
	if acct.RefundCents > 0 {
		if err := m.createLedgerEntry(ctx, acct, EntryRefund, acct.RefundCents,
			"arbitration refund to host", triggeredBy); err != nil {
			return err
		}
	}

	metrics.EscrowsReleasedTotal.Inc()
	return nil
}

// Close settles a released escrow after its final settlement date: archives
// it for audit and marks it reconciled. Closed is terminal.
func (m *Manager) Close(ctx context.Context, id, triggeredBy string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Close", traces.EscrowID(id))
	defer span.End()

	unlock := m.locks.Lock(id)
	defer unlock()

	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status != StatusReleased {
		return nil, fmt.Errorf("%w: close requires released, got %s", ErrInvalidState, acct.Status)
	}
	if m.now().Before(acct.FinalSettlementDate) {
		return nil, fmt.Errorf("%w: settlement date not reached", ErrInvalidState)
	}

	now := m.now()
	acct.ArchivedForAudit = true
	acct.ReconciliationStatus = ReconciliationReconciled
	acct.ReconciledAt = &now
	if err := m.transition(ctx, acct, StatusClosed, triggeredBy, "final settlement"); err != nil {
		return nil, err
	}
	metrics.EscrowsClosedTotal.Inc()
	return acct, nil
}

// Get returns an escrow account by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Account, error) {
	return m.store.Get(ctx, id)
}

// GetByBooking returns the escrow account for a booking.
func (m *Manager) GetByBooking(ctx context.Context, bookingID string) (*Account, error) {
	return m.store.GetByBooking(ctx, bookingID)
}

// Ledger returns the escrow's ledger entries in creation order.
func (m *Manager) Ledger(ctx context.Context, id string, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.ledger.List(ctx, id, limit)
}

// Audit replays the escrow's ledger and verifies every running balance.
// For released and closed escrows it also verifies the ledger drained to
// exactly the commission, which catches a ledger write lost after the
// account state change persisted.
func (m *Manager) Audit(ctx context.Context, id string) error {
	acct, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	entries, err := m.ledger.List(ctx, id, 0)
	if err != nil {
		return err
	}
	if err := ReplayBalance(entries); err != nil {
		return err
	}
	if acct.Status == StatusReleased || acct.Status == StatusClosed {
		var balance int64
		if n := len(entries); n > 0 {
			balance = entries[n-1].BalanceAfterCents
		}
		if balance != acct.CommissionCents {
			return fmt.Errorf("%w: escrow %s is %s but ledger balance %d does not match commission %d",
				ErrInvariant, acct.ID, acct.Status, balance, acct.CommissionCents)
		}
	}
	return nil
}

// transition is the sole write path for Account.Status. It appends one
// immutable record to the state history and persists the account. Caller
// must hold the escrow's lock.
func (m *Manager) transition(ctx context.Context, acct *Account, to Status, triggeredBy, reason string) error {
	from := acct.Status
	now := m.now()
	acct.StateHistory = append(acct.StateHistory, Transition{
		FromState:   from,
		ToState:     to,
		Timestamp:   now,
		TriggeredBy: triggeredBy,
		Reason:      reason,
	})
	acct.Status = to
	acct.UpdatedAt = now

	if err := m.store.Update(ctx, acct); err != nil {
		return fmt.Errorf("failed to persist transition %s → %s: %w", from, to, err)
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.publish(acct.ID, from, to, now)
	return nil
}

// createLedgerEntry reads the last entry, applies the sign rule, and appends
// a new immutable entry. Caller must hold the escrow's lock: the read-last,
// compute, write sequence is the section most exposed to lost updates.
func (m *Manager) createLedgerEntry(ctx context.Context, acct *Account, typ EntryType, amountCents int64, description, createdBy string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}

	var lastBalance int64
	last, err := m.ledger.Last(ctx, acct.ID)
	if err != nil {
		return err
	}
	if last != nil {
		lastBalance = last.BalanceAfterCents
	}

	balance := typ.Apply(lastBalance, amountCents)
	if balance < 0 {
		return fmt.Errorf("%w: %s of %d would overdraw balance %d", ErrInvariant, typ, amountCents, lastBalance)
	}

	now := m.now()
	entry := &LedgerEntry{
		ID:                idgen.WithPrefix("led_"),
		EscrowID:          acct.ID,
		Type:              typ,
		AmountCents:       amountCents,
		Currency:          acct.Currency,
		BalanceAfterCents: balance,
		Description:       description,
		ProcessedAt:       now,
		CreatedBy:         createdBy,
		CreatedAt:         now,
	}
	if err := m.ledger.Append(ctx, entry); err != nil {
		return err
	}
	metrics.LedgerEntriesTotal.WithLabelValues(string(typ)).Inc()
	return nil
}

func (m *Manager) publish(escrowID string, from, to Status, at time.Time) {
	if m.events != nil {
		m.events.BroadcastTransition(escrowID, string(from), string(to), at)
	}
}
