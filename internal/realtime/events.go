package realtime

import "github.com/google/uuid"

// Event is a single push message written to a client connection.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Server→client event types. Payload fields are what the client renders;
// none of them ever carries a recommendation description.
const (
	EventNewFriendRequest      = "newFriendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestDeclined = "friendRequestDeclined"
	EventFriendRemoved         = "friendRemoved"
	EventFriendListChanged     = "friendListChanged"
	EventNewRecommendation     = "newRecommendation"
)

type NewFriendRequestPayload struct {
	SenderID       uuid.UUID `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
}

type FriendRequestAcceptedPayload struct {
	AcceptorID       uuid.UUID `json:"acceptorId"`
	AcceptorUsername string    `json:"acceptorUsername"`
	NotificationID   uuid.UUID `json:"notificationId"`
}

type FriendRequestDeclinedPayload struct {
	DeclinedBy uuid.UUID `json:"declinedBy"`
}

type FriendRemovedPayload struct {
	// RemovedBy is set on the event delivered to the removed side.
	RemovedBy *uuid.UUID `json:"removedBy,omitempty"`
	// RemovedFriendID is set on the event delivered back to the initiator,
	// so their other devices can drop the entry too.
	RemovedFriendID *uuid.UUID `json:"removedFriendId,omitempty"`
}

type RecommendationPreview struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
}

type NewRecommendationPayload struct {
	SenderID       uuid.UUID             `json:"senderId"`
	SenderUsername string                `json:"senderUsername"`
	Recommendation RecommendationPreview `json:"recommendation"`
}
