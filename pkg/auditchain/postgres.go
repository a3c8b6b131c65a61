package auditchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type chainDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists audit entries. The (scope, sequence_no) unique
// constraint backstops the chain's in-process serialization.
type PostgresStore struct {
	DB chainDB
}

func NewPostgresStore(db chainDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Head(ctx context.Context, scope string) (int64, string, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT sequence_no, hash FROM audit_entries
		WHERE scope=$1 ORDER BY sequence_no DESC LIMIT 1
	`, scope)
	var seq int64
	var hash string
	if err := row.Scan(&seq, &hash); err != nil {
		if err == pgx.ErrNoRows {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return seq, hash, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e models.AuditEntry) error {
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage("null")
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_entries
		(id, scope, sequence_no, prev_hash, hash, actor_id, event_type, entity_type, entity_id, details, blocked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, e.ID, e.Scope, e.SequenceNo, e.PrevHash, e.Hash, e.ActorID, e.EventType, e.EntityType, e.EntityID, details, e.Blocked, e.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, scope string, f Filter) ([]models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, scope, sequence_no, prev_hash, hash, actor_id, event_type, entity_type, entity_id, details, blocked, created_at
		FROM audit_entries WHERE scope=$1`)
	args := []any{scope}
	if f.EventType != "" {
		args = append(args, f.EventType)
		fmt.Fprintf(&query, " AND event_type=$%d", len(args))
	}
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		fmt.Fprintf(&query, " AND entity_type=$%d", len(args))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		fmt.Fprintf(&query, " AND entity_id=$%d", len(args))
	}
	if f.FromSequence > 0 {
		args = append(args, f.FromSequence)
		fmt.Fprintf(&query, " AND sequence_no>=$%d", len(args))
	}
	query.WriteString(" ORDER BY sequence_no ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}
	rows, err := s.DB.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var details json.RawMessage
		if err := rows.Scan(&e.ID, &e.Scope, &e.SequenceNo, &e.PrevHash, &e.Hash, &e.ActorID, &e.EventType, &e.EntityType, &e.EntityID, &details, &e.Blocked, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		if string(details) != "null" {
			e.Details = details
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return out, nil
}
