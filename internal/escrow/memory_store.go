package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	accounts  map[string]*Account
	byBooking map[string]string
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*Account),
		byBooking: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byBooking[acct.BookingID]; ok {
		return ErrDuplicateBooking
	}
	m.accounts[acct.ID] = acct.Clone()
	m.byBooking[acct.BookingID] = acct.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return acct.Clone(), nil
}

func (m *MemoryStore) GetByBooking(ctx context.Context, bookingID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return m.accounts[id].Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrEscrowNotFound
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

func (m *MemoryStore) ListAwaitingRelease(ctx context.Context, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Account
	for _, a := range m.accounts {
		if a.Status == StatusReleaseInitiated && a.AutoReleaseEnabled {
			result = append(result, a.Clone())
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListSettleable(ctx context.Context, before time.Time, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Account
	for _, a := range m.accounts {
		if a.Status == StatusReleased && !a.ArchivedForAudit && !a.FinalSettlementDate.After(before) {
			result = append(result, a.Clone())
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// MemoryLedger is an in-memory append-only ledger store.
type MemoryLedger struct {
	entries map[string][]*LedgerEntry // escrowID → entries in creation order
	mu      sync.RWMutex
}

// NewMemoryLedger creates a new in-memory ledger store.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string][]*LedgerEntry)}
}

func (m *MemoryLedger) Append(ctx context.Context, entry *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.EscrowID] = append(m.entries[entry.EscrowID], &cp)
	return nil
}

func (m *MemoryLedger) Last(ctx context.Context, escrowID string) (*LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[escrowID]
	if len(entries) == 0 {
		return nil, nil
	}
	cp := *entries[len(entries)-1]
	return &cp, nil
}

func (m *MemoryLedger) List(ctx context.Context, escrowID string, limit int) ([]*LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[escrowID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	result := make([]*LedgerEntry, 0, limit)
	for _, e := range entries[:limit] {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time assertions.
var (
	_ Store       = (*MemoryStore)(nil)
	_ LedgerStore = (*MemoryLedger)(nil)
)
