package renaissance

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type healthDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists health state. The system-health row is a
// singleton per scope, upserted on every save.
type PostgresStore struct {
	DB healthDB
}

func NewPostgresStore(db healthDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) State(ctx context.Context, scope string) (models.SystemHealthState, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT status, consecutive_failures, renaissance_cycle_count, system_locked
		FROM system_health WHERE scope=$1
	`, scope)
	var state models.SystemHealthState
	if err := row.Scan(&state.Status, &state.ConsecutiveFailures, &state.RenaissanceCycleCount, &state.SystemLocked); err != nil {
		if err == pgx.ErrNoRows {
			return models.SystemHealthState{Status: StateHealthy}, nil
		}
		return models.SystemHealthState{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return state, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, scope string, state models.SystemHealthState) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO system_health (scope, status, consecutive_failures, renaissance_cycle_count, system_locked)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (scope) DO UPDATE
		SET status=$2, consecutive_failures=$3, renaissance_cycle_count=$4, system_locked=$5
	`, scope, state.Status, state.ConsecutiveFailures, state.RenaissanceCycleCount, state.SystemLocked)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) Module(ctx context.Context, scope, name string) (models.ModuleHealth, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT module_name, status, error_count, last_error_at
		FROM module_health WHERE scope=$1 AND module_name=$2
	`, scope, name)
	var m models.ModuleHealth
	if err := row.Scan(&m.ModuleName, &m.Status, &m.ErrorCount, &m.LastErrorAt); err != nil {
		if err == pgx.ErrNoRows {
			return models.ModuleHealth{ModuleName: name, Status: ModuleOperational}, nil
		}
		return models.ModuleHealth{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return m, nil
}

func (s *PostgresStore) SaveModule(ctx context.Context, scope string, m models.ModuleHealth) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO module_health (scope, module_name, status, error_count, last_error_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (scope, module_name) DO UPDATE
		SET status=$3, error_count=$4, last_error_at=$5
	`, scope, m.ModuleName, m.Status, m.ErrorCount, m.LastErrorAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) Modules(ctx context.Context, scope string) ([]models.ModuleHealth, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT module_name, status, error_count, last_error_at
		FROM module_health WHERE scope=$1 ORDER BY module_name
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.ModuleHealth
	for rows.Next() {
		var m models.ModuleHealth
		if err := rows.Scan(&m.ModuleName, &m.Status, &m.ErrorCount, &m.LastErrorAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}

func (s *PostgresStore) InsertError(ctx context.Context, rec models.ErrorRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO error_records (id, scope, module_name, message, severity, resolved, reported_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.Scope, rec.ModuleName, rec.Message, rec.Severity, rec.Resolved, rec.ReportedAt, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) GetError(ctx context.Context, scope, id string) (models.ErrorRecord, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, scope, module_name, message, severity, resolved, reported_at, resolved_at
		FROM error_records WHERE scope=$1 AND id=$2
	`, scope, id)
	var rec models.ErrorRecord
	if err := row.Scan(&rec.ID, &rec.Scope, &rec.ModuleName, &rec.Message, &rec.Severity, &rec.Resolved, &rec.ReportedAt, &rec.ResolvedAt); err != nil {
		if err == pgx.ErrNoRows {
			return models.ErrorRecord{}, fmt.Errorf("error record %q: %w", id, models.ErrNotFound)
		}
		return models.ErrorRecord{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateError(ctx context.Context, rec models.ErrorRecord) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE error_records SET resolved=$3, resolved_at=$4 WHERE scope=$1 AND id=$2
	`, rec.Scope, rec.ID, rec.Resolved, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("error record %q: %w", rec.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteError(ctx context.Context, scope, id string) error {
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM error_records WHERE scope=$1 AND id=$2
	`, scope, id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("error record %q: %w", id, models.ErrNotFound)
	}
	return nil
}

// Errors treats limit<=0 as "no limit", matching the memory store.
func (s *PostgresStore) Errors(ctx context.Context, scope string, unresolvedOnly bool, limit int) ([]models.ErrorRecord, error) {
	query := `
		SELECT id, scope, module_name, message, severity, resolved, reported_at, resolved_at
		FROM error_records WHERE scope=$1`
	args := []any{scope}
	if unresolvedOnly {
		query += " AND resolved = false"
	}
	query += " ORDER BY reported_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.ErrorRecord
	for rows.Next() {
		var rec models.ErrorRecord
		if err := rows.Scan(&rec.ID, &rec.Scope, &rec.ModuleName, &rec.Message, &rec.Severity, &rec.Resolved, &rec.ReportedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}

func (s *PostgresStore) InsertCycle(ctx context.Context, c models.RenaissanceCycle) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO renaissance_cycles
		(id, scope, reason, status, errors_cleared, modules_reset, admin_validated, triggered_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.Scope, c.Reason, c.Status, c.ErrorsCleared, c.ModulesReset, c.AdminValidated, c.TriggeredAt, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) UpdateCycle(ctx context.Context, c models.RenaissanceCycle) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE renaissance_cycles SET status=$3, admin_validated=$4, completed_at=$5 WHERE scope=$1 AND id=$2
	`, c.Scope, c.ID, c.Status, c.AdminValidated, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %q: %w", c.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteCycle(ctx context.Context, scope, id string) error {
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM renaissance_cycles WHERE scope=$1 AND id=$2
	`, scope, id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %q: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Cycles(ctx context.Context, scope string, limit int) ([]models.RenaissanceCycle, error) {
	query := `
		SELECT id, scope, reason, status, errors_cleared, modules_reset, admin_validated, triggered_at, completed_at
		FROM renaissance_cycles WHERE scope=$1 ORDER BY triggered_at DESC`
	args := []any{scope}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.RenaissanceCycle
	for rows.Next() {
		var c models.RenaissanceCycle
		if err := rows.Scan(&c.ID, &c.Scope, &c.Reason, &c.Status, &c.ErrorsCleared, &c.ModulesReset, &c.AdminValidated, &c.TriggeredAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}
