package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExecResult_RowsAffected(t *testing.T) {
	res := execResult{pgconn.NewCommandTag("UPDATE 7")}
	if got := res.RowsAffected(); got != 7 {
		t.Fatalf("RowsAffected = %d, want 7", got)
	}
}

type stubPgxRow struct {
	scan func(dest ...any) error
}

func (s stubPgxRow) Scan(dest ...any) error {
	if s.scan == nil {
		return errors.New("scan not configured")
	}
	return s.scan(dest...)
}

type stubPgxRows struct {
	rows [][]any
	idx  int
	err  error
}

func (s *stubPgxRows) Close()                        {}
func (s *stubPgxRows) Err() error                    { return s.err }
func (s *stubPgxRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (s *stubPgxRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}
func (s *stubPgxRows) Next() bool {
	if s.idx >= len(s.rows) {
		return false
	}
	s.idx++
	return true
}
func (s *stubPgxRows) Scan(dest ...any) error {
	if s.idx == 0 || s.idx > len(s.rows) {
		return errors.New("scan without active row")
	}
	return assignRow(dest, s.rows[s.idx-1])
}
func (s *stubPgxRows) Values() ([]any, error) { return nil, errors.New("not implemented") }
func (s *stubPgxRows) RawValues() [][]byte    { return nil }
func (s *stubPgxRows) Conn() *pgx.Conn        { return nil }

type stubPgxTx struct {
	exec     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	query    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRow func(ctx context.Context, sql string, args ...any) pgx.Row
	commit   func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

func (s *stubPgxTx) Begin(ctx context.Context) (pgx.Tx, error) { return s, nil }
func (s *stubPgxTx) Commit(ctx context.Context) error {
	if s.commit != nil {
		return s.commit(ctx)
	}
	return nil
}
func (s *stubPgxTx) Rollback(ctx context.Context) error {
	if s.rollback != nil {
		return s.rollback(ctx)
	}
	return nil
}
func (s *stubPgxTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (s *stubPgxTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}
func (s *stubPgxTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (s *stubPgxTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (s *stubPgxTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if s.exec != nil {
		return s.exec(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}
func (s *stubPgxTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if s.query != nil {
		return s.query(ctx, sql, args...)
	}
	return &stubPgxRows{}, nil
}
func (s *stubPgxTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if s.queryRow != nil {
		return s.queryRow(ctx, sql, args...)
	}
	return stubPgxRow{}
}
func (s *stubPgxTx) Conn() *pgx.Conn { return nil }

type stubPgxPool struct {
	exec     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	query    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRow func(ctx context.Context, sql string, args ...any) pgx.Row
	begin    func(ctx context.Context) (pgx.Tx, error)
}

func (s *stubPgxPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.exec(ctx, sql, args...)
}
func (s *stubPgxPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.query(ctx, sql, args...)
}
func (s *stubPgxPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.queryRow(ctx, sql, args...)
}
func (s *stubPgxPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.begin(ctx)
}

func TestPoolAdapter_DelegatesToPool(t *testing.T) {
	ctx := context.Background()

	pool := &stubPgxPool{
		exec: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 12"), nil
		},
		query: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &stubPgxRows{rows: [][]any{{"ok"}}}, nil
		},
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return stubPgxRow{scan: func(dest ...any) error {
				return assignRow(dest, []any{"row"})
			}}
		},
	}
	adapter := &PoolAdapter{pool: pool}

	tag, err := adapter.Exec(ctx, "UPDATE x")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if tag.RowsAffected() != 12 {
		t.Fatalf("RowsAffected = %d, want 12", tag.RowsAffected())
	}

	rows, err := adapter.Query(ctx, "SELECT x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !rows.Next() {
		t.Fatal("expected a row")
	}
	var got string
	if err := rows.Scan(&got); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got != "ok" {
		t.Fatalf("scanned %q, want ok", got)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}

	var single string
	if err := adapter.QueryRow(ctx, "SELECT y").Scan(&single); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if single != "row" {
		t.Fatalf("scanned %q, want row", single)
	}
}

func TestPoolAdapter_WrapsTransactions(t *testing.T) {
	ctx := context.Background()
	committed := false
	rolledBack := false

	pool := &stubPgxPool{
		begin: func(ctx context.Context) (pgx.Tx, error) {
			return &stubPgxTx{
				exec: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					return pgconn.NewCommandTag("DELETE 2"), nil
				},
				query: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
					return &stubPgxRows{rows: [][]any{{"tx"}}}, nil
				},
				queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return stubPgxRow{scan: func(dest ...any) error {
						return assignRow(dest, []any{"txrow"})
					}}
				},
				commit:   func(ctx context.Context) error { committed = true; return nil },
				rollback: func(ctx context.Context) error { rolledBack = true; return nil },
			}, nil
		},
	}
	adapter := &PoolAdapter{pool: pool}

	tx, err := adapter.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	tag, err := tx.Exec(ctx, "DELETE x")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if tag.RowsAffected() != 2 {
		t.Fatalf("RowsAffected = %d, want 2", tag.RowsAffected())
	}

	rows, err := tx.Query(ctx, "SELECT z")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !rows.Next() {
		t.Fatal("expected a row")
	}
	var got string
	if err := rows.Scan(&got); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got != "tx" {
		t.Fatalf("scanned %q, want tx", got)
	}
	rows.Close()

	var single string
	if err := tx.QueryRow(ctx, "SELECT a").Scan(&single); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if single != "txrow" {
		t.Fatalf("scanned %q, want txrow", single)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !committed || !rolledBack {
		t.Fatal("expected commit and rollback to reach the underlying tx")
	}
}

func TestNewPoolAdapter_AllowsNilPool(t *testing.T) {
	if NewPoolAdapter(nil) == nil {
		t.Fatal("expected adapter")
	}
}
