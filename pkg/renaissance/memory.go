package renaissance

import (
	"context"
	"fmt"
	"sync"

	"aegis/pkg/models"
)

// MemoryStore keeps health state in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	states     map[string]models.SystemHealthState
	modules    map[string]map[string]models.ModuleHealth
	moduleSeq  map[string][]string
	errors     map[string]map[string]models.ErrorRecord
	errorSeq   map[string][]string
	cycles     map[string][]models.RenaissanceCycle
	failModule string
	failErr    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    map[string]models.SystemHealthState{},
		modules:   map[string]map[string]models.ModuleHealth{},
		moduleSeq: map[string][]string{},
		errors:    map[string]map[string]models.ErrorRecord{},
		errorSeq:  map[string][]string{},
		cycles:    map[string][]models.RenaissanceCycle{},
	}
}

func (m *MemoryStore) State(ctx context.Context, scope string) (models.SystemHealthState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[scope]; ok {
		return state, nil
	}
	return models.SystemHealthState{Status: StateHealthy}, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, scope string, state models.SystemHealthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[scope] = state
	return nil
}

func (m *MemoryStore) Module(ctx context.Context, scope, name string) (models.ModuleHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if module, ok := m.modules[scope][name]; ok {
		return module, nil
	}
	return models.ModuleHealth{ModuleName: name, Status: ModuleOperational}, nil
}

func (m *MemoryStore) SaveModule(ctx context.Context, scope string, module models.ModuleHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failModule == module.ModuleName && m.failErr != nil {
		return m.failErr
	}
	scoped, ok := m.modules[scope]
	if !ok {
		scoped = map[string]models.ModuleHealth{}
		m.modules[scope] = scoped
	}
	if _, exists := scoped[module.ModuleName]; !exists {
		m.moduleSeq[scope] = append(m.moduleSeq[scope], module.ModuleName)
	}
	scoped[module.ModuleName] = module
	return nil
}

func (m *MemoryStore) Modules(ctx context.Context, scope string) ([]models.ModuleHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ModuleHealth
	for _, name := range m.moduleSeq[scope] {
		out = append(out, m.modules[scope][name])
	}
	return out, nil
}

func (m *MemoryStore) InsertError(ctx context.Context, rec models.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped, ok := m.errors[rec.Scope]
	if !ok {
		scoped = map[string]models.ErrorRecord{}
		m.errors[rec.Scope] = scoped
	}
	scoped[rec.ID] = rec
	m.errorSeq[rec.Scope] = append(m.errorSeq[rec.Scope], rec.ID)
	return nil
}

func (m *MemoryStore) GetError(ctx context.Context, scope, id string) (models.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.errors[scope][id]; ok {
		return rec, nil
	}
	return models.ErrorRecord{}, fmt.Errorf("error record %q: %w", id, models.ErrNotFound)
}

func (m *MemoryStore) UpdateError(ctx context.Context, rec models.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.errors[rec.Scope][rec.ID]; !ok {
		return fmt.Errorf("error record %q: %w", rec.ID, models.ErrNotFound)
	}
	m.errors[rec.Scope][rec.ID] = rec
	return nil
}

func (m *MemoryStore) DeleteError(ctx context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.errors[scope][id]; !ok {
		return fmt.Errorf("error record %q: %w", id, models.ErrNotFound)
	}
	delete(m.errors[scope], id)
	seq := m.errorSeq[scope]
	for i, existing := range seq {
		if existing == id {
			m.errorSeq[scope] = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Errors(ctx context.Context, scope string, unresolvedOnly bool, limit int) ([]models.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ErrorRecord
	for _, id := range m.errorSeq[scope] {
		rec := m.errors[scope][id]
		if unresolvedOnly && rec.Resolved {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertCycle(ctx context.Context, c models.RenaissanceCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first, matching the SQL store's ordering.
	m.cycles[c.Scope] = append([]models.RenaissanceCycle{c}, m.cycles[c.Scope]...)
	return nil
}

func (m *MemoryStore) UpdateCycle(ctx context.Context, c models.RenaissanceCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.cycles[c.Scope] {
		if existing.ID == c.ID {
			m.cycles[c.Scope][i] = c
			return nil
		}
	}
	return fmt.Errorf("cycle %q: %w", c.ID, models.ErrNotFound)
}

func (m *MemoryStore) DeleteCycle(ctx context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.cycles[scope] {
		if existing.ID == id {
			m.cycles[scope] = append(m.cycles[scope][:i], m.cycles[scope][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cycle %q: %w", id, models.ErrNotFound)
}

func (m *MemoryStore) Cycles(ctx context.Context, scope string, limit int) ([]models.RenaissanceCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cycles := m.cycles[scope]
	if limit > 0 && len(cycles) > limit {
		cycles = cycles[:limit]
	}
	out := make([]models.RenaissanceCycle, len(cycles))
	copy(out, cycles)
	return out, nil
}

// FailModuleSaves makes SaveModule for one module return err. Test
// helper for exercising the failed-cycle downgrade.
func (m *MemoryStore) FailModuleSaves(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failModule = name
	m.failErr = err
}
