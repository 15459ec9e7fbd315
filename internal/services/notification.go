package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/logging"
	"github.com/HammerMeetNail/tastemate/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationServiceInterface lets callers hold notifications behind an
// interface so tests can stub the fan-out.
type NotificationServiceInterface interface {
	NotifyFriendRequestAccepted(ctx context.Context, recipientID, actorID uuid.UUID) (*models.Notification, error)
}

// NotificationService persists durable notifications. Only acceptance of a
// friend request is durable; everything else is push-only and vanishes if
// nobody is listening.
type NotificationService struct {
	db           DBConn
	emailService EmailServiceInterface
}

func NewNotificationService(db DBConn, emailService EmailServiceInterface) *NotificationService {
	return &NotificationService{db: db, emailService: emailService}
}

// NotifyFriendRequestAccepted records that actorID accepted recipientID's
// friend request. Email delivery is best effort and never fails the call.
func (s *NotificationService) NotifyFriendRequestAccepted(ctx context.Context, recipientID, actorID uuid.UUID) (*models.Notification, error) {
	notification := &models.Notification{}
	err := s.db.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, actor_user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, type, actor_user_id, read_at, created_at`,
		recipientID, models.NotificationTypeFriendRequestAccepted, actorID,
	).Scan(&notification.ID, &notification.UserID, &notification.Type, &notification.ActorUserID, &notification.ReadAt, &notification.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	actorUsername, err := usernameOf(ctx, s.db, actorID)
	if err != nil {
		return nil, err
	}
	notification.ActorUsername = actorUsername

	if s.emailService != nil {
		if err := s.emailService.SendFriendRequestAccepted(ctx, recipientID, actorUsername); err != nil {
			logging.Error("Failed to send acceptance email", map[string]interface{}{
				"error":        err.Error(),
				"recipient_id": recipientID.String(),
			})
		}
	}

	return notification, nil
}

// List returns the user's notifications newest first, with the acting
// user's username resolved.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT n.id, n.user_id, n.type, n.actor_user_id, u.username, n.read_at, n.created_at
		 FROM notifications n
		 JOIN users u ON u.id = n.actor_user_id
		 WHERE n.user_id = $1`
	if unreadOnly {
		query += ` AND n.read_at IS NULL`
	}
	query += ` ORDER BY n.created_at DESC LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.ActorUserID, &n.ActorUsername, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return notifications, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL",
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		"UPDATE notifications SET read_at = NOW() WHERE id = $1 AND user_id = $2 AND read_at IS NULL",
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)",
			notificationID, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking notification: %w", err)
		}
		if !exists {
			return ErrNotificationNotFound
		}
		// Already read. Marking twice is fine.
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := s.db.Exec(ctx,
		"UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL",
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		"DELETE FROM notifications WHERE id = $1 AND user_id = $2",
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := s.db.Exec(ctx, "DELETE FROM notifications WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// CleanupOld removes read notifications older than the retention window.
// Called from the background cleanup loop.
func (s *NotificationService) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.Exec(ctx,
		"DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1",
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up notifications: %w", err)
	}
	return result.RowsAffected(), nil
}
