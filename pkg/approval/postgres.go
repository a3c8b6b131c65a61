package approval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type approvalDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists approval requests.
type PostgresStore struct {
	DB approvalDB
}

func NewPostgresStore(db approvalDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Insert(ctx context.Context, req models.ApprovalRequest) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO approval_requests
		(id, scope, subject_id, requested_by, priority_tier, status, created_at, expires_at, decided_by, decided_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, req.ID, req.Scope, req.SubjectID, req.RequestedBy, string(req.Tier), req.Status, req.CreatedAt, req.ExpiresAt, req.DecidedBy, req.DecidedAt, req.Reason)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, scope, id string) (models.ApprovalRequest, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, scope, subject_id, requested_by, priority_tier, status, created_at, expires_at, decided_by, decided_at, reason
		FROM approval_requests WHERE scope=$1 AND id=$2
	`, scope, id)
	req, err := scanApproval(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.ApprovalRequest{}, fmt.Errorf("approval request %q: %w", id, models.ErrNotFound)
		}
		return models.ApprovalRequest{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, req models.ApprovalRequest) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE approval_requests
		SET status=$3, decided_by=$4, decided_at=$5, reason=$6
		WHERE scope=$1 AND id=$2
	`, req.Scope, req.ID, req.Status, req.DecidedBy, req.DecidedAt, req.Reason)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval request %q: %w", req.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, scope, id string) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM approval_requests WHERE scope=$1 AND id=$2`, scope, id); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

// List treats limit<=0 as "no limit", matching the memory store; the
// workflow's sweep relies on seeing every pending row.
func (s *PostgresStore) List(ctx context.Context, scope, status string, limit int) ([]models.ApprovalRequest, error) {
	query := `
		SELECT id, scope, subject_id, requested_by, priority_tier, status, created_at, expires_at, decided_by, decided_at, reason
		FROM approval_requests WHERE scope=$1`
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
	var out []models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}

func scanApproval(row pgx.Row) (models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var tier string
	if err := row.Scan(&req.ID, &req.Scope, &req.SubjectID, &req.RequestedBy, &tier, &req.Status, &req.CreatedAt, &req.ExpiresAt, &req.DecidedBy, &req.DecidedAt, &req.Reason); err != nil {
		return models.ApprovalRequest{}, err
	}
	req.Tier = models.Tier(tier)
	return req, nil
}
