package arbitration

import (
	"context"
	"fmt"
	"sync"

	"aegis/pkg/models"
)

// MemoryConflictStore keeps conflicts in process memory.
type MemoryConflictStore struct {
	mu        sync.RWMutex
	conflicts map[string]map[string]models.Conflict
	order     map[string][]string
}

func NewMemoryConflictStore() *MemoryConflictStore {
	return &MemoryConflictStore{
		conflicts: map[string]map[string]models.Conflict{},
		order:     map[string][]string{},
	}
}

func (m *MemoryConflictStore) Insert(ctx context.Context, c models.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped, ok := m.conflicts[c.Scope]
	if !ok {
		scoped = map[string]models.Conflict{}
		m.conflicts[c.Scope] = scoped
	}
	if _, exists := scoped[c.ID]; exists {
		return fmt.Errorf("conflict %s already exists", c.ID)
	}
	scoped[c.ID] = c
	m.order[c.Scope] = append(m.order[c.Scope], c.ID)
	return nil
}

func (m *MemoryConflictStore) Get(ctx context.Context, scope, id string) (models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.conflicts[scope][id]; ok {
		return c, nil
	}
	return models.Conflict{}, fmt.Errorf("conflict %q: %w", id, models.ErrNotFound)
}

func (m *MemoryConflictStore) Update(ctx context.Context, c models.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conflicts[c.Scope][c.ID]; !ok {
		return fmt.Errorf("conflict %q: %w", c.ID, models.ErrNotFound)
	}
	m.conflicts[c.Scope][c.ID] = c
	return nil
}

func (m *MemoryConflictStore) Delete(ctx context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conflicts[scope], id)
	ids := m.order[scope]
	for i, existing := range ids {
		if existing == id {
			m.order[scope] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryConflictStore) List(ctx context.Context, scope, status string, limit int) ([]models.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Conflict
	for _, id := range m.order[scope] {
		c := m.conflicts[scope][id]
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryConflictStore) Counts(ctx context.Context, scope string) (ConflictCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts ConflictCounts
	for _, c := range m.conflicts[scope] {
		counts.Total++
		switch c.Status {
		case StatusResolved:
			counts.Resolved++
		case StatusBlocked:
			counts.Blocked++
		case StatusRolledBack:
			counts.RolledBack++
		}
	}
	return counts, nil
}
