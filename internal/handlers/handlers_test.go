package handlers

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/services"
)

// stubDB backs real services in handler tests, routing SQL to canned rows.
type stubDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (services.CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (services.Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) services.Row
	BeginFunc    func(ctx context.Context) (services.Tx, error)
}

func (s *stubDB) Exec(ctx context.Context, sql string, args ...any) (services.CommandTag, error) {
	if s.ExecFunc != nil {
		return s.ExecFunc(ctx, sql, args...)
	}
	return stubTag{}, nil
}

func (s *stubDB) Query(ctx context.Context, sql string, args ...any) (services.Rows, error) {
	if s.QueryFunc != nil {
		return s.QueryFunc(ctx, sql, args...)
	}
	return &stubRows{}, nil
}

func (s *stubDB) QueryRow(ctx context.Context, sql string, args ...any) services.Row {
	if s.QueryRowFunc != nil {
		return s.QueryRowFunc(ctx, sql, args...)
	}
	return stubRow{scan: func(dest ...any) error {
		return fmt.Errorf("QueryRowFunc not set")
	}}
}

func (s *stubDB) Begin(ctx context.Context) (services.Tx, error) {
	if s.BeginFunc != nil {
		return s.BeginFunc(ctx)
	}
	return nil, fmt.Errorf("BeginFunc not set")
}

type stubTag struct {
	rowsAffected int64
}

func (s stubTag) RowsAffected() int64 {
	return s.rowsAffected
}

type stubRow struct {
	scan func(dest ...any) error
}

func (s stubRow) Scan(dest ...any) error {
	return s.scan(dest...)
}

type stubRows struct {
	rows [][]any
	idx  int
}

func (s *stubRows) Close()     {}
func (s *stubRows) Err() error { return nil }

func (s *stubRows) Next() bool {
	if s.idx >= len(s.rows) {
		return false
	}
	s.idx++
	return true
}

func (s *stubRows) Scan(dest ...any) error {
	return assignStubRow(dest, s.rows[s.idx-1])
}

func rowOf(values ...any) services.Row {
	return stubRow{scan: func(dest ...any) error {
		return assignStubRow(dest, values)
	}}
}

func assignStubRow(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan dest mismatch: got %d want %d", len(dest), len(values))
	}
	for i, value := range values {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Ptr || dv.IsNil() {
			return fmt.Errorf("dest %d not pointer", i)
		}
		if value == nil {
			dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
			continue
		}
		vv := reflect.ValueOf(value)
		if vv.Type().AssignableTo(dv.Elem().Type()) {
			dv.Elem().Set(vv)
			continue
		}
		if vv.Type().ConvertibleTo(dv.Elem().Type()) {
			dv.Elem().Set(vv.Convert(dv.Elem().Type()))
			continue
		}
		return fmt.Errorf("cannot assign %T to %s", value, dv.Elem().Type())
	}
	return nil
}

func testUser() *models.User {
	return &models.User{
		ID:       uuid.New(),
		Email:    "user@example.com",
		Username: "user",
	}
}

// asUser attaches an authenticated user to the request, the way the session
// middleware would.
func asUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(SetUserInContext(r.Context(), user))
}
