package payout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreatePayout(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	id, err := svc.CreatePayout(ctx, "esc_1", "bk_1", "USD", 10000, 1500, 8500)
	if err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}
	if !strings.HasPrefix(id, "pay_") {
		t.Errorf("Expected pay_ prefix, got %s", id)
	}

	p, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("Expected pending, got %s", p.Status)
	}
	if p.AmountCents != 10000 || p.FeeCents != 1500 || p.NetCents != 8500 {
		t.Errorf("Unexpected amounts: %+v", p)
	}
	if p.FeeCents+p.NetCents != p.AmountCents {
		t.Error("Fee plus net must equal gross")
	}
}

func TestCreatePayout_FixedClock(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store).WithClock(func() time.Time { return fixed })
	ctx := context.Background()

	id, err := svc.CreatePayout(ctx, "esc_2", "bk_2", "USD", 5000, 750, 4250)
	if err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}
	p, _ := store.Get(ctx, id)
	if !p.CreatedAt.Equal(fixed) {
		t.Errorf("Expected fixed timestamp, got %v", p.CreatedAt)
	}
}

func TestListByEscrow(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreatePayout(ctx, "esc_list", "bk_list", "USD", 1000, 150, 850); err != nil {
			t.Fatalf("CreatePayout failed: %v", err)
		}
	}
	if _, err := svc.CreatePayout(ctx, "esc_other", "bk_other", "USD", 1000, 150, 850); err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}

	got, err := svc.ListByEscrow(ctx, "esc_list", 0)
	if err != nil {
		t.Fatalf("ListByEscrow failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 payouts, got %d", len(got))
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "pay_missing"); !errors.Is(err, ErrPayoutNotFound) {
		t.Errorf("Expected ErrPayoutNotFound, got %v", err)
	}
}
