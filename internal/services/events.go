package services

import (
	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/realtime"
)

// EventPublisher is the push side of the connection directory. Delivery is
// fire-and-forget: services never treat a false return as an error, because
// the persisted state is the source of truth and clients catch up on their
// next fetch.
type EventPublisher interface {
	Publish(userID uuid.UUID, event realtime.Event) bool
}
