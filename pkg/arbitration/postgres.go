package arbitration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type conflictDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConflictStore persists conflicts.
type PostgresConflictStore struct {
	DB conflictDB
}

func NewPostgresConflictStore(db conflictDB) *PostgresConflictStore {
	return &PostgresConflictStore{DB: db}
}

func (s *PostgresConflictStore) Insert(ctx context.Context, c models.Conflict) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO conflicts
		(id, scope, action_description, triggered_axioms, risk_score, status, resolution_option_id, justification, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.Scope, c.ActionDescription, c.TriggeredAxioms, c.RiskScore, c.Status, c.ResolutionOptionID, c.Justification, c.CreatedAt, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresConflictStore) Get(ctx context.Context, scope, id string) (models.Conflict, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, scope, action_description, triggered_axioms, risk_score, status, resolution_option_id, justification, created_at, resolved_at
		FROM conflicts WHERE scope=$1 AND id=$2
	`, scope, id)
	var c models.Conflict
	if err := row.Scan(&c.ID, &c.Scope, &c.ActionDescription, &c.TriggeredAxioms, &c.RiskScore, &c.Status, &c.ResolutionOptionID, &c.Justification, &c.CreatedAt, &c.ResolvedAt); err != nil {
		if err == pgx.ErrNoRows {
			return models.Conflict{}, fmt.Errorf("conflict %q: %w", id, models.ErrNotFound)
		}
		return models.Conflict{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return c, nil
}

func (s *PostgresConflictStore) Update(ctx context.Context, c models.Conflict) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE conflicts
		SET status=$3, resolution_option_id=$4, justification=$5, resolved_at=$6
		WHERE scope=$1 AND id=$2
	`, c.Scope, c.ID, c.Status, c.ResolutionOptionID, c.Justification, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conflict %q: %w", c.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresConflictStore) Delete(ctx context.Context, scope, id string) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM conflicts WHERE scope=$1 AND id=$2`, scope, id); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

// List treats limit<=0 as "no limit", matching the memory store.
func (s *PostgresConflictStore) List(ctx context.Context, scope, status string, limit int) ([]models.Conflict, error) {
	query := `
		SELECT id, scope, action_description, triggered_axioms, risk_score, status, resolution_option_id, justification, created_at, resolved_at
		FROM conflicts WHERE scope=$1`
	args := []any{scope}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.Conflict
	for rows.Next() {
		var c models.Conflict
		if err := rows.Scan(&c.ID, &c.Scope, &c.ActionDescription, &c.TriggeredAxioms, &c.RiskScore, &c.Status, &c.ResolutionOptionID, &c.Justification, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}

func (s *PostgresConflictStore) Counts(ctx context.Context, scope string) (ConflictCounts, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status='resolved'),
		       count(*) FILTER (WHERE status='blocked'),
		       count(*) FILTER (WHERE status='rolled_back')
		FROM conflicts WHERE scope=$1
	`, scope)
	var counts ConflictCounts
	if err := row.Scan(&counts.Total, &counts.Resolved, &counts.Blocked, &counts.RolledBack); err != nil {
		return ConflictCounts{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return counts, nil
}
