package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/tastemate/internal/models"
)

func TestUserCreate_EmailTaken(t *testing.T) {
	service := NewUserService(&fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return rowFromValues(true)
		},
	})

	_, err := service.Create(context.Background(), models.CreateUserParams{
		Email:    "user@example.com",
		Username: "user",
	})
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestUserCreate_UsernameTaken(t *testing.T) {
	service := NewUserService(&fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if strings.Contains(sql, "LOWER(username)") {
				return rowFromValues(true)
			}
			return rowFromValues(false)
		},
	})

	_, err := service.Create(context.Background(), models.CreateUserParams{
		Email:    "user@example.com",
		Username: "user",
	})
	if !errors.Is(err, ErrUsernameAlreadyExists) {
		t.Fatalf("expected ErrUsernameAlreadyExists, got %v", err)
	}
}

func TestUserCreate_Success(t *testing.T) {
	userID := uuid.New()
	now := time.Now()
	service := NewUserService(&fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if strings.Contains(sql, "INSERT INTO users") {
				return rowFromValues(userID, "user@example.com", "hash", "user", true, now, now)
			}
			return rowFromValues(false)
		},
	})

	user, err := service.Create(context.Background(), models.CreateUserParams{
		Email:        "user@example.com",
		PasswordHash: "hash",
		Username:     "user",
		Searchable:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != userID || user.Username != "user" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	service := NewUserService(&fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	})

	_, err := service.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserSearch_ExcludesViewerAndClampsLimit(t *testing.T) {
	viewerID := uuid.New()
	service := NewUserService(&fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			if !strings.Contains(sql, "searchable = true") {
				t.Fatalf("search must respect the searchable flag: %q", sql)
			}
			if args[0] != viewerID {
				t.Fatalf("expected viewer exclusion, got %v", args[0])
			}
			if args[2] != 20 {
				t.Fatalf("expected clamped limit 20, got %v", args[2])
			}
			return &fakeRows{rows: [][]any{
				{uuid.New(), "pat"},
			}}, nil
		},
	})

	results, err := service.Search(context.Background(), viewerID, "pa", 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Username != "pat" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestUserUpdateSearchable_NotFound(t *testing.T) {
	service := NewUserService(&fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			return fakeCommandTag{}, nil
		},
	})

	err := service.UpdateSearchable(context.Background(), uuid.New(), false)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
