package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func TestLockUserPairForUpdate_OrdersByID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	var locked []uuid.UUID
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if !strings.Contains(sql, "FROM users") || !strings.Contains(sql, "FOR UPDATE") {
				t.Fatalf("unexpected sql: %q", sql)
			}
			locked = append(locked, args[0].(uuid.UUID))
			return rowFromValues(args[0])
		},
	}

	// Passed high-first; locks must still happen low-first.
	if err := lockUserPairForUpdate(context.Background(), db, high, low); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locked) != 2 || locked[0] != low || locked[1] != high {
		t.Fatalf("unexpected lock order: %+v", locked)
	}
}

func TestLockUserPairForUpdate_SameUserLocksOnce(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	var calls int
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			calls++
			return rowFromValues(args[0])
		},
	}

	if err := lockUserPairForUpdate(context.Background(), db, id, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("lock calls = %d, want 1", calls)
	}
}

func TestLockUserPairForUpdate_MissingFirstUser(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	var calls int
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			calls++
			return fakeRow{scanFunc: func(dest ...any) error {
				return pgx.ErrNoRows
			}}
		},
	}

	if err := lockUserPairForUpdate(context.Background(), db, id, uuid.New()); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("lock calls = %d, want 1", calls)
	}
}

func TestLockUserPairForUpdate_MissingSecondUser(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	var calls int
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			calls++
			if args[0].(uuid.UUID) == high {
				return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
			}
			return rowFromValues(args[0])
		},
	}

	if err := lockUserPairForUpdate(context.Background(), db, low, high); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("lock calls = %d, want 2", calls)
	}
}

func TestLockUserForUpdate_WrapsQueryErrors(t *testing.T) {
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return errors.New("boom") }}
		},
	}

	err := lockUserForUpdate(context.Background(), db, uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "locking user") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
