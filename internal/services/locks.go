package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// lockUserPairForUpdate takes row locks on both users, always in byte
// order of their IDs, so concurrent friendship or sharing mutations on
// the same pair cannot deadlock. Returns pgx.ErrNoRows unwrapped when
// either user no longer exists.
func lockUserPairForUpdate(ctx context.Context, q DBConn, userA, userB uuid.UUID) error {
	first, second := orderUserPair(userA, userB)
	if err := lockUserForUpdate(ctx, q, first); err != nil {
		return err
	}
	if first == second {
		return nil
	}
	return lockUserForUpdate(ctx, q, second)
}

func orderUserPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

func lockUserForUpdate(ctx context.Context, q DBConn, userID uuid.UUID) error {
	var lockedID uuid.UUID
	err := q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&lockedID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return err
	case err != nil:
		return fmt.Errorf("locking user %s: %w", userID, err)
	}
	return nil
}
