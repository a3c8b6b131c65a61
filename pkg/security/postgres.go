package security

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type securityDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresMetricsStore persists the singleton-per-scope metrics row.
type PostgresMetricsStore struct {
	DB securityDB
}

func NewPostgresMetricsStore(db securityDB) *PostgresMetricsStore {
	return &PostgresMetricsStore{DB: db}
}

func (s *PostgresMetricsStore) Metrics(ctx context.Context, scope string) (models.SecurityMetrics, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT violation_count, lockdown_threshold, is_locked, encryption_enabled, filter_enabled
		FROM security_metrics WHERE scope=$1
	`, scope)
	var m models.SecurityMetrics
	if err := row.Scan(&m.ViolationCount, &m.LockdownThreshold, &m.IsLocked, &m.EncryptionEnabled, &m.FilterEnabled); err != nil {
		if err == pgx.ErrNoRows {
			return defaultMetrics(), nil
		}
		return models.SecurityMetrics{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return m, nil
}

func (s *PostgresMetricsStore) Save(ctx context.Context, scope string, m models.SecurityMetrics) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO security_metrics (scope, violation_count, lockdown_threshold, is_locked, encryption_enabled, filter_enabled)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (scope) DO UPDATE
		SET violation_count=$2, lockdown_threshold=$3, is_locked=$4, encryption_enabled=$5, filter_enabled=$6
	`, scope, m.ViolationCount, m.LockdownThreshold, m.IsLocked, m.EncryptionEnabled, m.FilterEnabled)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}
