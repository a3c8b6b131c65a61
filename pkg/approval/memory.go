package approval

import (
	"context"
	"fmt"
	"sync"

	"aegis/pkg/models"
)

// MemoryStore keeps approval requests in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]map[string]models.ApprovalRequest
	order    map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: map[string]map[string]models.ApprovalRequest{},
		order:    map[string][]string{},
	}
}

func (m *MemoryStore) Insert(ctx context.Context, req models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped, ok := m.requests[req.Scope]
	if !ok {
		scoped = map[string]models.ApprovalRequest{}
		m.requests[req.Scope] = scoped
	}
	if _, exists := scoped[req.ID]; exists {
		return fmt.Errorf("approval request %s already exists", req.ID)
	}
	scoped[req.ID] = req
	m.order[req.Scope] = append(m.order[req.Scope], req.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, scope, id string) (models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if req, ok := m.requests[scope][id]; ok {
		return req, nil
	}
	return models.ApprovalRequest{}, fmt.Errorf("approval request %q: %w", id, models.ErrNotFound)
}

func (m *MemoryStore) Update(ctx context.Context, req models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.Scope][req.ID]; !ok {
		return fmt.Errorf("approval request %q: %w", req.ID, models.ErrNotFound)
	}
	m.requests[req.Scope][req.ID] = req
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests[scope], id)
	ids := m.order[scope]
	for i, existing := range ids {
		if existing == id {
			m.order[scope] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, scope, status string, limit int) ([]models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ApprovalRequest
	for _, id := range m.order[scope] {
		req := m.requests[scope][id]
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
