package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	// NotificationTypeFriendRequestAccepted is the only persisted
	// notification type: created once when a friend request is accepted,
	// addressed to the original requester.
	NotificationTypeFriendRequestAccepted NotificationType = "friend_request_accepted"
)

type Notification struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"user_id"`
	Type          NotificationType `json:"type"`
	ActorUserID   uuid.UUID        `json:"actor_user_id"`
	ActorUsername string           `json:"actor_username,omitempty"`
	ReadAt        *time.Time       `json:"read_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
