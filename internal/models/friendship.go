package models

import (
	"time"

	"github.com/google/uuid"
)

type FriendshipStatus string

const (
	// FriendshipStatusPending is a one-way request: the requester has asked,
	// the addressee has not yet answered.
	FriendshipStatusPending FriendshipStatus = "pending"

	// FriendshipStatusAccepted is a mutual friendship. A single accepted row
	// represents both directions.
	FriendshipStatusAccepted FriendshipStatus = "accepted"
)

// Friendship is one edge of the friend graph. Exactly one row exists per
// user pair, regardless of status, so the symmetry of the graph holds by
// construction.
type Friendship struct {
	ID          uuid.UUID        `json:"id"`
	RequesterID uuid.UUID        `json:"requester_id"`
	AddresseeID uuid.UUID        `json:"addressee_id"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type FriendWithUser struct {
	Friendship
	FriendID       uuid.UUID `json:"friend_id"`
	FriendUsername string    `json:"friend_username"`
}

type FriendRequest struct {
	Friendship
	RequesterUsername string `json:"requester_username"`
}

type SentRequest struct {
	Friendship
	AddresseeUsername string `json:"addressee_username"`
}
