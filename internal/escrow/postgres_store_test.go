package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enablr/escrowd/internal/testutil"
)

func pgAccount(bookingID string) *Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	eventStart := now.Add(24 * time.Hour)
	return &Account{
		ID:                  "esc_pg_" + bookingID,
		BookingID:           bookingID,
		Status:              StatusHold,
		AmountCents:         10000,
		Currency:            "USD",
		CommissionRate:      0.15,
		CommissionCents:     1500,
		EnablerPayoutCents:  8500,
		EventStart:          eventStart,
		AutoReleaseDeadline: eventStart.Add(72 * time.Hour),
		DisputeWindowEnds:   eventStart.Add(7 * 24 * time.Hour),
		FinalSettlementDate: eventStart.Add(7 * 24 * time.Hour),
		AutoReleaseEnabled:  true,
		ReleaseRules: ReleaseRules{
			SLAHours:              72,
			SettlementDays:        7,
			RequireHostValidation: true,
			AutoReleaseOnHostIdle: true,
		},
		StateHistory: []Transition{{
			ToState:     StatusHold,
			Timestamp:   now,
			TriggeredBy: "system",
			Reason:      "booking confirmed",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStore_CRUD(t *testing.T) {
	db := testutil.PGTest(t)

	store := NewPostgresStore(db)
	ctx := context.Background()

	acct := pgAccount("bk_pg_crud")
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BookingID != acct.BookingID || got.Status != StatusHold {
		t.Errorf("Roundtrip mismatch: %+v", got)
	}
	if len(got.StateHistory) != 1 || got.StateHistory[0].Reason != "booking confirmed" {
		t.Errorf("State history did not survive JSONB roundtrip: %+v", got.StateHistory)
	}
	if got.ReleaseRules.SLAHours != 72 {
		t.Errorf("Release rules did not survive roundtrip: %+v", got.ReleaseRules)
	}

	byBooking, err := store.GetByBooking(ctx, acct.BookingID)
	if err != nil {
		t.Fatalf("GetByBooking failed: %v", err)
	}
	if byBooking.ID != acct.ID {
		t.Errorf("Expected %s, got %s", acct.ID, byBooking.ID)
	}

	got.Status = StatusProtected
	got.StateHistory = append(got.StateHistory, Transition{
		FromState: StatusHold, ToState: StatusProtected,
		Timestamp: time.Now().UTC(), TriggeredBy: "system",
	})
	got.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	again, _ := store.Get(ctx, acct.ID)
	if again.Status != StatusProtected || len(again.StateHistory) != 2 {
		t.Errorf("Update not persisted: status=%s history=%d", again.Status, len(again.StateHistory))
	}
}

func TestPostgresStore_DuplicateBooking(t *testing.T) {
	db := testutil.PGTest(t)

	store := NewPostgresStore(db)
	ctx := context.Background()

	first := pgAccount("bk_pg_dup")
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := pgAccount("bk_pg_dup")
	second.ID = "esc_pg_other"
	if err := store.Create(ctx, second); !errors.Is(err, ErrDuplicateBooking) {
		t.Errorf("Expected ErrDuplicateBooking, got %v", err)
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	db := testutil.PGTest(t)

	store := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, "esc_missing"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("Get: expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := store.GetByBooking(ctx, "bk_missing"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("GetByBooking: expected ErrEscrowNotFound, got %v", err)
	}
	missing := pgAccount("bk_pg_missing")
	if err := store.Update(ctx, missing); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("Update: expected ErrEscrowNotFound, got %v", err)
	}
}

func TestPostgresStore_SweepQueries(t *testing.T) {
	db := testutil.PGTest(t)

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	awaiting := pgAccount("bk_pg_awaiting")
	awaiting.Status = StatusReleaseInitiated
	if err := store.Create(ctx, awaiting); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	disabled := pgAccount("bk_pg_disabled")
	disabled.ID = "esc_pg_disabled"
	disabled.Status = StatusReleaseInitiated
	disabled.AutoReleaseEnabled = false
	if err := store.Create(ctx, disabled); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	settleable := pgAccount("bk_pg_settleable")
	settleable.ID = "esc_pg_settleable"
	settleable.Status = StatusReleased
	settleable.FinalSettlementDate = now.Add(-time.Hour)
	if err := store.Create(ctx, settleable); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pending, err := store.ListAwaitingRelease(ctx, 10)
	if err != nil {
		t.Fatalf("ListAwaitingRelease failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != awaiting.ID {
		t.Errorf("Expected only the enabled release_initiated escrow, got %d", len(pending))
	}

	due, err := store.ListSettleable(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListSettleable failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != settleable.ID {
		t.Errorf("Expected only the past-due released escrow, got %d", len(due))
	}
}

func TestPostgresLedger_AppendAndReplay(t *testing.T) {
	db := testutil.PGTest(t)

	store := NewPostgresStore(db)
	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	acct := pgAccount("bk_pg_ledger")
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	hold := &LedgerEntry{
		ID: "led_pg_1", EscrowID: acct.ID, Type: EntryHold,
		AmountCents: 10000, Currency: "USD", BalanceAfterCents: 10000,
		Description: "hold", ProcessedAt: now, CreatedBy: "system", CreatedAt: now,
	}
	release := &LedgerEntry{
		ID: "led_pg_2", EscrowID: acct.ID, Type: EntryRelease,
		AmountCents: 8500, Currency: "USD", BalanceAfterCents: 1500,
		Description: "payout", ProcessedAt: now, CreatedBy: "system", CreatedAt: now,
	}
	if err := ledger.Append(ctx, hold); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := ledger.Append(ctx, release); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Identical timestamps: insertion order must still win.
	last, err := ledger.Last(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if last.ID != "led_pg_2" {
		t.Errorf("Expected led_pg_2 as last, got %s", last.ID)
	}

	entries, err := ledger.List(ctx, acct.ID, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "led_pg_1" {
		t.Fatalf("Expected creation order, got %+v", entries)
	}
	if err := ReplayBalance(entries); err != nil {
		t.Errorf("Replay failed: %v", err)
	}
}
