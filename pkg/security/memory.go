package security

import (
	"context"
	"sync"

	"aegis/pkg/models"
)

// MemoryMetricsStore keeps security metrics in process memory.
type MemoryMetricsStore struct {
	mu     sync.RWMutex
	scopes map[string]models.SecurityMetrics
}

func NewMemoryMetricsStore() *MemoryMetricsStore {
	return &MemoryMetricsStore{scopes: map[string]models.SecurityMetrics{}}
}

func (m *MemoryMetricsStore) Metrics(ctx context.Context, scope string) (models.SecurityMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if metrics, ok := m.scopes[scope]; ok {
		return metrics, nil
	}
	return defaultMetrics(), nil
}

func (m *MemoryMetricsStore) Save(ctx context.Context, scope string, metrics models.SecurityMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[scope] = metrics
	return nil
}

func defaultMetrics() models.SecurityMetrics {
	return models.SecurityMetrics{
		LockdownThreshold: DefaultLockdownThreshold,
		EncryptionEnabled: true,
		FilterEnabled:     true,
	}
}
