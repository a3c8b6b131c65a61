package renaissance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type fakeHealthDB struct {
	queries  []string
	args     [][]any
	execTag  pgconn.CommandTag
	execErr  error
	queryErr error
}

func (f *fakeHealthDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, append([]any(nil), args...))
	if f.execTag.String() == "" {
		return pgconn.NewCommandTag("DELETE 1"), f.execErr
	}
	return f.execTag, f.execErr
}

func (f *fakeHealthDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, append([]any(nil), args...))
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return emptyRows{}, nil
}

func (f *fakeHealthDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, append([]any(nil), args...))
	return noRow{}
}

func (f *fakeHealthDB) last() (string, []any) {
	return f.queries[len(f.queries)-1], f.args[len(f.args)-1]
}

type noRow struct{}

func (noRow) Scan(dest ...any) error { return pgx.ErrNoRows }

type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

func TestPostgresErrorsLimitSemantics(t *testing.T) {
	db := &fakeHealthDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := s.Errors(ctx, "tenant-a", true, 0); err != nil {
		t.Fatalf("errors: %v", err)
	}
	query, args := db.last()
	if strings.Contains(query, "LIMIT") {
		t.Fatalf("limit 0 must read every row, got %q", query)
	}
	if !strings.Contains(query, "resolved = false") {
		t.Fatalf("unresolved filter missing: %q", query)
	}
	if len(args) != 1 || args[0] != "tenant-a" {
		t.Fatalf("unexpected args: %v", args)
	}

	if _, err := s.Errors(ctx, "tenant-a", false, 5); err != nil {
		t.Fatalf("errors limited: %v", err)
	}
	query, args = db.last()
	if !strings.Contains(query, "LIMIT $2") {
		t.Fatalf("positive limit must cap the read, got %q", query)
	}
	if len(args) != 2 || args[1] != 5 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestPostgresCyclesLimitSemantics(t *testing.T) {
	db := &fakeHealthDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := s.Cycles(ctx, "tenant-a", 0); err != nil {
		t.Fatalf("cycles: %v", err)
	}
	query, args := db.last()
	if strings.Contains(query, "LIMIT") {
		t.Fatalf("limit 0 must read every row, got %q", query)
	}
	if len(args) != 1 {
		t.Fatalf("unexpected args: %v", args)
	}

	if _, err := s.Cycles(ctx, "tenant-a", 3); err != nil {
		t.Fatalf("cycles limited: %v", err)
	}
	query, args = db.last()
	if !strings.Contains(query, "LIMIT $2") || len(args) != 2 {
		t.Fatalf("positive limit must cap the read, got %q args=%v", query, args)
	}
}

func TestPostgresDeletesReportMissingRows(t *testing.T) {
	db := &fakeHealthDB{execTag: pgconn.NewCommandTag("DELETE 0")}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if err := s.DeleteError(ctx, "tenant-a", "e-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.DeleteCycle(ctx, "tenant-a", "c-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	db.execTag = pgconn.NewCommandTag("DELETE 1")
	if err := s.DeleteError(ctx, "tenant-a", "e-1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	_, args := db.last()
	if len(args) != 2 || args[0] != "tenant-a" || args[1] != "e-1" {
		t.Fatalf("unexpected delete args: %v", args)
	}
}
