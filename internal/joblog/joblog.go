// Package joblog persists one record per background sweep execution.
package joblog

import (
	"context"
	"sync"

	"github.com/enablr/escrowd/internal/escrow"
)

// Store persists and queries job run records.
type Store interface {
	Record(ctx context.Context, run *escrow.JobRun) error
	List(ctx context.Context, jobName string, limit int) ([]*escrow.JobRun, error)
}

// MemoryStore is an in-memory job log for demo/development mode. Runs are
// kept newest-first, capped so a long-lived dev server doesn't grow without
// bound.
type MemoryStore struct {
	runs []*escrow.JobRun
	mu   sync.RWMutex
}

const memoryCap = 1000

// NewMemoryStore creates a new in-memory job log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(ctx context.Context, run *escrow.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *run
	m.runs = append([]*escrow.JobRun{&cp}, m.runs...)
	if len(m.runs) > memoryCap {
		m.runs = m.runs[:memoryCap]
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, jobName string, limit int) ([]*escrow.JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*escrow.JobRun
	for _, r := range m.runs {
		if jobName != "" && r.JobName != jobName {
			continue
		}
		cp := *r
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Compile-time assertions.
var (
	_ Store         = (*MemoryStore)(nil)
	_ escrow.JobLog = (*MemoryStore)(nil)
)
