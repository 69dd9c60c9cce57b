package escrow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func entry(id string, typ EntryType, amount, balance int64) *LedgerEntry {
	return &LedgerEntry{
		ID:                id,
		EscrowID:          "esc_test",
		Type:              typ,
		AmountCents:       amount,
		Currency:          "USD",
		BalanceAfterCents: balance,
		ProcessedAt:       time.Now(),
		CreatedAt:         time.Now(),
	}
}

func TestEntryType_SignRule(t *testing.T) {
	credits := []EntryType{EntryHold, EntryFee}
	debits := []EntryType{EntryRelease, EntryAdjust, EntryRefund}

	for _, typ := range credits {
		if !typ.Credit() {
			t.Errorf("Expected %s to credit", typ)
		}
		if got := typ.Apply(100, 50); got != 150 {
			t.Errorf("%s.Apply(100, 50) = %d, want 150", typ, got)
		}
	}
	for _, typ := range debits {
		if typ.Credit() {
			t.Errorf("Expected %s to debit", typ)
		}
		if got := typ.Apply(100, 50); got != 50 {
			t.Errorf("%s.Apply(100, 50) = %d, want 50", typ, got)
		}
	}
}

func TestReplayBalance_Valid(t *testing.T) {
	entries := []*LedgerEntry{
		entry("led_1", EntryHold, 10000, 10000),
		entry("led_2", EntryRelease, 8500, 1500),
	}
	if err := ReplayBalance(entries); err != nil {
		t.Errorf("ReplayBalance failed on valid ledger: %v", err)
	}
}

func TestReplayBalance_AdjustedWithRefund(t *testing.T) {
	entries := []*LedgerEntry{
		entry("led_1", EntryHold, 10000, 10000),
		entry("led_2", EntryRelease, 5000, 5000),
		entry("led_3", EntryRefund, 3500, 1500),
	}
	if err := ReplayBalance(entries); err != nil {
		t.Errorf("ReplayBalance failed on adjusted ledger: %v", err)
	}
}

func TestReplayBalance_Empty(t *testing.T) {
	if err := ReplayBalance(nil); err != nil {
		t.Errorf("ReplayBalance failed on empty ledger: %v", err)
	}
}

func TestReplayBalance_WrongStoredBalance(t *testing.T) {
	entries := []*LedgerEntry{
		entry("led_1", EntryHold, 10000, 10000),
		entry("led_2", EntryRelease, 8500, 2000), // should be 1500
	}
	if err := ReplayBalance(entries); !errors.Is(err, ErrInvariant) {
		t.Errorf("Expected ErrInvariant, got %v", err)
	}
}

func TestReplayBalance_Overdraw(t *testing.T) {
	entries := []*LedgerEntry{
		entry("led_1", EntryHold, 1000, 1000),
		entry("led_2", EntryRelease, 2000, -1000),
	}
	if err := ReplayBalance(entries); !errors.Is(err, ErrInvariant) {
		t.Errorf("Expected ErrInvariant, got %v", err)
	}
}

func TestReplayBalance_NonPositiveAmount(t *testing.T) {
	entries := []*LedgerEntry{
		entry("led_1", EntryHold, 0, 0),
	}
	if err := ReplayBalance(entries); !errors.Is(err, ErrInvariant) {
		t.Errorf("Expected ErrInvariant, got %v", err)
	}
}

func TestCreateLedgerEntry_Overdraw(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	ctx := context.Background()

	acct := createTestEscrow(t, mgr, time.Now().Add(time.Hour))

	full, err := mgr.Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// A debit larger than the held balance must be rejected.
	err = mgr.createLedgerEntry(ctx, full, EntryRelease, 20000, "too big", "test")
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("Expected ErrInvariant, got %v", err)
	}
}

func TestMemoryLedger_LastAndOrder(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	last, err := ledger.Last(ctx, "esc_none")
	if err != nil || last != nil {
		t.Errorf("Expected nil, nil for empty ledger, got %v, %v", last, err)
	}

	if err := ledger.Append(ctx, entry("led_1", EntryHold, 10000, 10000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := ledger.Append(ctx, entry("led_2", EntryRelease, 8500, 1500)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	last, err = ledger.Last(ctx, "esc_test")
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if last.ID != "led_2" {
		t.Errorf("Expected led_2 as last, got %s", last.ID)
	}

	entries, err := ledger.List(ctx, "esc_test", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "led_1" {
		t.Errorf("Expected creation order, got %+v", entries)
	}
}
