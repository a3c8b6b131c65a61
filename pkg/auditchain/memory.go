package auditchain

import (
	"context"
	"fmt"
	"sync"

	"aegis/pkg/models"
)

// MemoryStore keeps chains in process memory. Used by tests and by
// redis-less development setups.
type MemoryStore struct {
	mu         sync.RWMutex
	scopes     map[string][]models.AuditEntry
	nextInsert error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: map[string][]models.AuditEntry{}}
}

func (m *MemoryStore) Head(ctx context.Context, scope string) (int64, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.scopes[scope]
	if len(entries) == 0 {
		return 0, "", nil
	}
	last := entries[len(entries)-1]
	return last.SequenceNo, last.Hash, nil
}

func (m *MemoryStore) Insert(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextInsert != nil {
		err := m.nextInsert
		m.nextInsert = nil
		return err
	}
	entries := m.scopes[entry.Scope]
	if len(entries) > 0 && entries[len(entries)-1].SequenceNo >= entry.SequenceNo {
		return fmt.Errorf("duplicate sequence %d in scope %q", entry.SequenceNo, entry.Scope)
	}
	m.scopes[entry.Scope] = append(entries, entry)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, scope string, f Filter) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEntry
	for _, e := range m.scopes[scope] {
		if f.FromSequence > 0 && e.SequenceNo < f.FromSequence {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// FailNextInsert makes the next Insert return err. Test helper for
// exercising compensation paths.
func (m *MemoryStore) FailNextInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextInsert = err
}

// Tamper overwrites a stored entry in place. Test helper for integrity
// verification; a real store has no such operation.
func (m *MemoryStore) Tamper(scope string, seq int64, mutate func(*models.AuditEntry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.scopes[scope]
	for i := range entries {
		if entries[i].SequenceNo == seq {
			mutate(&entries[i])
			return true
		}
	}
	return false
}
