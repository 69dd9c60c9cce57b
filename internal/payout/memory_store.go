package payout

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory payout store for demo/development mode.
type MemoryStore struct {
	payouts map[string]*Payout
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payouts: make(map[string]*Payout)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payout
	for _, p := range m.payouts {
		if p.EscrowID == escrowID {
			cp := *p
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
