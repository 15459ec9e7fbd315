package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/tastemate/internal/logging"
	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/realtime"
)

var (
	ErrCannotFriendSelf      = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends        = errors.New("users are already friends")
	ErrFriendRequestExists   = errors.New("friend request already exists")
	ErrFriendRequestNotFound = errors.New("friend request not found")
	ErrNotFriend             = errors.New("users are not friends")
)

// FriendService owns the friend-request lifecycle: none → pending →
// accepted, or pending → gone (decline/cancel), or accepted → gone
// (remove). Every mutation that touches a user pair runs in a transaction
// with a fixed-order pair lock, so concurrent requests between the same two
// users serialize instead of deadlocking or double-writing.
type FriendService struct {
	db                  DB
	notificationService NotificationServiceInterface
	events              EventPublisher
}

func NewFriendService(db DB) *FriendService {
	return &FriendService{db: db}
}

func (s *FriendService) SetNotificationService(notificationService NotificationServiceInterface) {
	s.notificationService = notificationService
}

func (s *FriendService) SetEventPublisher(events EventPublisher) {
	s.events = events
}

// SendRequest records a pending edge from actor to target and pushes a
// newFriendRequest event to the target's live connection, if any.
func (s *FriendService) SendRequest(ctx context.Context, actorID, targetID uuid.UUID) (*models.Friendship, error) {
	if actorID == targetID {
		return nil, ErrCannotFriendSelf
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin send request transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := lockUserPairForUpdate(ctx, tx, actorID, targetID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var existingStatus models.FriendshipStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM friendships
		 WHERE (requester_id = $1 AND addressee_id = $2)
		    OR (requester_id = $2 AND addressee_id = $1)`,
		actorID, targetID,
	).Scan(&existingStatus)
	if err == nil {
		if existingStatus == models.FriendshipStatusAccepted {
			return nil, ErrAlreadyFriends
		}
		return nil, ErrFriendRequestExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checking existing friendship: %w", err)
	}

	friendship := &models.Friendship{}
	err = tx.QueryRow(ctx,
		`INSERT INTO friendships (requester_id, addressee_id, status)
		 VALUES ($1, $2, 'pending')
		 RETURNING id, requester_id, addressee_id, status, created_at, updated_at`,
		actorID, targetID,
	).Scan(&friendship.ID, &friendship.RequesterID, &friendship.AddresseeID, &friendship.Status, &friendship.CreatedAt, &friendship.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert friendship: %w", err)
	}

	actorUsername, err := usernameOf(ctx, tx, actorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit send request: %w", err)
	}
	committed = true

	s.publish(targetID, realtime.Event{
		Type: realtime.EventNewFriendRequest,
		Payload: realtime.NewFriendRequestPayload{
			SenderID:       actorID,
			SenderUsername: actorUsername,
		},
	})

	return friendship, nil
}

// AcceptRequest flips the pending edge from requester to actor into an
// accepted one, creates the accepted notification for the requester, and
// pushes events to both sides.
func (s *FriendService) AcceptRequest(ctx context.Context, actorID, requesterID uuid.UUID) (*models.Friendship, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept request transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := lockUserPairForUpdate(ctx, tx, actorID, requesterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	friendship := &models.Friendship{}
	err = tx.QueryRow(ctx,
		`UPDATE friendships
		 SET status = 'accepted', updated_at = NOW()
		 WHERE requester_id = $1 AND addressee_id = $2 AND status = 'pending'
		 RETURNING id, requester_id, addressee_id, status, created_at, updated_at`,
		requesterID, actorID,
	).Scan(&friendship.ID, &friendship.RequesterID, &friendship.AddresseeID, &friendship.Status, &friendship.CreatedAt, &friendship.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFriendRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accepting friend request: %w", err)
	}

	actorUsername, err := usernameOf(ctx, tx, actorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept request: %w", err)
	}
	committed = true

	var notificationID uuid.UUID
	if s.notificationService != nil {
		notification, err := s.notificationService.NotifyFriendRequestAccepted(ctx, requesterID, actorID)
		if err != nil {
			logging.Error("Failed to create accepted-request notification", map[string]interface{}{
				"error":        err.Error(),
				"requester_id": requesterID.String(),
				"acceptor_id":  actorID.String(),
			})
		} else {
			notificationID = notification.ID
		}
	}

	s.publish(requesterID, realtime.Event{
		Type: realtime.EventFriendRequestAccepted,
		Payload: realtime.FriendRequestAcceptedPayload{
			AcceptorID:       actorID,
			AcceptorUsername: actorUsername,
			NotificationID:   notificationID,
		},
	})
	// The acceptor's own other devices only need to refresh their list.
	s.publish(actorID, realtime.Event{Type: realtime.EventFriendListChanged})

	return friendship, nil
}

// DeclineRequest drops the pending edge without creating a friendship or a
// notification. The requester's connection gets a silent event; nothing is
// persisted about the decline, so the same request can be sent again.
func (s *FriendService) DeclineRequest(ctx context.Context, actorID, requesterID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM friendships
		 WHERE requester_id = $1 AND addressee_id = $2 AND status = 'pending'`,
		requesterID, actorID,
	)
	if err != nil {
		return fmt.Errorf("declining friend request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFriendRequestNotFound
	}

	s.publish(requesterID, realtime.Event{
		Type:    realtime.EventFriendRequestDeclined,
		Payload: realtime.FriendRequestDeclinedPayload{DeclinedBy: actorID},
	})

	return nil
}

// CancelRequest withdraws the actor's own outgoing pending request.
func (s *FriendService) CancelRequest(ctx context.Context, actorID, targetID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM friendships
		 WHERE requester_id = $1 AND addressee_id = $2 AND status = 'pending'`,
		actorID, targetID,
	)
	if err != nil {
		return fmt.Errorf("cancelling friend request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFriendRequestNotFound
	}
	return nil
}

// RemoveFriend deletes the friendship in both directions. Any stray pending
// edge between the pair is cleared too.
func (s *FriendService) RemoveFriend(ctx context.Context, actorID, friendID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove friend transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := lockUserPairForUpdate(ctx, tx, actorID, friendID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A deleted peer has no surviving edges.
			return ErrNotFriend
		}
		return err
	}

	var accepted bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE ((requester_id = $1 AND addressee_id = $2)
			    OR (requester_id = $2 AND addressee_id = $1))
			  AND status = 'accepted'
		)`,
		actorID, friendID,
	).Scan(&accepted)
	if err != nil {
		return fmt.Errorf("checking friendship: %w", err)
	}
	if !accepted {
		return ErrNotFriend
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM friendships
		 WHERE (requester_id = $1 AND addressee_id = $2)
		    OR (requester_id = $2 AND addressee_id = $1)`,
		actorID, friendID,
	)
	if err != nil {
		return fmt.Errorf("removing friendship: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove friend: %w", err)
	}
	committed = true

	s.publish(friendID, realtime.Event{
		Type:    realtime.EventFriendRemoved,
		Payload: realtime.FriendRemovedPayload{RemovedBy: &actorID},
	})
	s.publish(actorID, realtime.Event{
		Type:    realtime.EventFriendRemoved,
		Payload: realtime.FriendRemovedPayload{RemovedFriendID: &friendID},
	})

	return nil
}

// IsFriend reports whether an accepted friendship exists between the two
// users, in either direction.
func (s *FriendService) IsFriend(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	var isFriend bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE ((requester_id = $1 AND addressee_id = $2)
			    OR (requester_id = $2 AND addressee_id = $1))
			  AND status = 'accepted'
		)`,
		userID, otherID,
	).Scan(&isFriend)
	if err != nil {
		return false, fmt.Errorf("checking friendship: %w", err)
	}
	return isFriend, nil
}

func (s *FriendService) ListFriends(ctx context.Context, actorID uuid.UUID) ([]models.FriendWithUser, error) {
	rows, err := s.db.Query(ctx,
		`SELECT f.id, f.requester_id, f.addressee_id, f.status, f.created_at, f.updated_at,
		        u.id, u.username
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
		 WHERE (f.requester_id = $1 OR f.addressee_id = $1)
		   AND f.status = 'accepted'
		 ORDER BY u.username`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing friends: %w", err)
	}
	defer rows.Close()

	friends := make([]models.FriendWithUser, 0)
	for rows.Next() {
		var f models.FriendWithUser
		if err := rows.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.UpdatedAt, &f.FriendID, &f.FriendUsername); err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friends: %w", err)
	}
	return friends, nil
}

// ListIncomingRequests returns pending requests addressed to the actor.
func (s *FriendService) ListIncomingRequests(ctx context.Context, actorID uuid.UUID) ([]models.FriendRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT f.id, f.requester_id, f.addressee_id, f.status, f.created_at, f.updated_at, u.username
		 FROM friendships f
		 JOIN users u ON u.id = f.requester_id
		 WHERE f.addressee_id = $1 AND f.status = 'pending'
		 ORDER BY f.created_at DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing incoming requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.FriendRequest, 0)
	for rows.Next() {
		var r models.FriendRequest
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.AddresseeID, &r.Status, &r.CreatedAt, &r.UpdatedAt, &r.RequesterUsername); err != nil {
			return nil, fmt.Errorf("scanning incoming request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incoming requests: %w", err)
	}
	return requests, nil
}

// ListSentRequests returns the actor's own pending outgoing requests.
func (s *FriendService) ListSentRequests(ctx context.Context, actorID uuid.UUID) ([]models.SentRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT f.id, f.requester_id, f.addressee_id, f.status, f.created_at, f.updated_at, u.username
		 FROM friendships f
		 JOIN users u ON u.id = f.addressee_id
		 WHERE f.requester_id = $1 AND f.status = 'pending'
		 ORDER BY f.created_at DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sent requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.SentRequest, 0)
	for rows.Next() {
		var r models.SentRequest
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.AddresseeID, &r.Status, &r.CreatedAt, &r.UpdatedAt, &r.AddresseeUsername); err != nil {
			return nil, fmt.Errorf("scanning sent request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sent requests: %w", err)
	}
	return requests, nil
}

func (s *FriendService) publish(userID uuid.UUID, event realtime.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(userID, event)
}

func usernameOf(ctx context.Context, q DBConn, userID uuid.UUID) (string, error) {
	var username string
	err := q.QueryRow(ctx, "SELECT username FROM users WHERE id = $1", userID).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading username: %w", err)
	}
	return username, nil
}
