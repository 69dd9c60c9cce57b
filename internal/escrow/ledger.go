package escrow

import (
	"context"
	"fmt"
	"time"
)

// EntryType classifies a ledger entry. HOLD and FEE credit the running
// balance; every other type debits it. The sign convention is fixed: the
// balance column must always be reproducible by replaying entries in order.
type EntryType string

const (
	EntryHold    EntryType = "HOLD"
	EntryFee     EntryType = "FEE"
	EntryRelease EntryType = "RELEASE"
	EntryAdjust  EntryType = "ADJUST"
	EntryRefund  EntryType = "REFUND"
)

// Credit reports whether the entry type increases the running balance.
func (t EntryType) Credit() bool {
	return t == EntryHold || t == EntryFee
}

// Apply returns the balance after applying an entry of this type.
func (t EntryType) Apply(balance, amountCents int64) int64 {
	if t.Credit() {
		return balance + amountCents
	}
	return balance - amountCents
}

// LedgerEntry is one immutable money movement against an escrow's balance.
// Entries are created once and never updated or deleted.
type LedgerEntry struct {
	ID                string    `json:"id"`
	EscrowID          string    `json:"escrowId"`
	Type              EntryType `json:"type"`
	AmountCents       int64     `json:"amountCents"`
	Currency          string    `json:"currency"`
	BalanceAfterCents int64     `json:"balanceAfterCents"`
	Description       string    `json:"description,omitempty"`
	ProcessedAt       time.Time `json:"processedAt"`
	CreatedBy         string    `json:"createdBy,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// LedgerStore persists the append-only ledger.
type LedgerStore interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	// Last returns the most recent entry for an escrow, or nil if none.
	Last(ctx context.Context, escrowID string) (*LedgerEntry, error)
	// List returns all entries for an escrow in creation order.
	List(ctx context.Context, escrowID string, limit int) ([]*LedgerEntry, error)
}

// ReplayBalance replays entries in order and verifies every stored running
// balance against the sign rule. Entries must be in creation order.
func ReplayBalance(entries []*LedgerEntry) error {
	var balance int64
	for i, e := range entries {
		if e.AmountCents <= 0 {
			return fmt.Errorf("%w: entry %d (%s) has non-positive amount %d", ErrInvariant, i, e.ID, e.AmountCents)
		}
		balance = e.Type.Apply(balance, e.AmountCents)
		if balance != e.BalanceAfterCents {
			return fmt.Errorf("%w: entry %d (%s) stored balance %d, replay gives %d",
				ErrInvariant, i, e.ID, e.BalanceAfterCents, balance)
		}
		if balance < 0 {
			return fmt.Errorf("%w: entry %d (%s) drives balance negative", ErrInvariant, i, e.ID)
		}
	}
	return nil
}
