package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type RecommendationStatus string

const (
	// RecommendationStatusApproved is a normal, visible record in its
	// owner's list.
	RecommendationStatusApproved RecommendationStatus = "approved"

	// RecommendationStatusPending is a record a sender has offered to a
	// friend. It is owned by the sender but only visible to the recipient,
	// and it ends its life on approve or reject.
	RecommendationStatusPending RecommendationStatus = "pending"

	// RecommendationStatusRejected is a declined offer. It stays out of
	// every list and does not block the same content being offered again.
	RecommendationStatusRejected RecommendationStatus = "rejected"
)

// Categories is the canonical category set. Earlier schema versions used a
// lowercase set; title case is now canonical and NormalizeCategory maps
// either casing onto it.
var Categories = []string{
	"Movies",
	"TV Shows",
	"Books",
	"Music",
	"Podcasts",
	"Restaurants",
	"Recipes",
	"Games",
	"Other",
}

// NormalizeCategory resolves a category string case-insensitively against
// the canonical set. Returns the canonical value and whether it matched.
func NormalizeCategory(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, c := range Categories {
		if strings.EqualFold(trimmed, c) {
			return c, true
		}
	}
	return "", false
}

const (
	RatingMin = 1
	RatingMax = 5
)

type Recommendation struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Rating      int       `json:"rating"`
	Description *string   `json:"description,omitempty"`

	Status RecommendationStatus `json:"status"`

	// RecommendedTo is only meaningful while Status is pending: the friend
	// the record was offered to.
	RecommendedTo *uuid.UUID `json:"recommended_to,omitempty"`

	// OriginalRecommendedBy tracks the first author of the content through
	// any number of approve/copy hops, for "Originally by X" display.
	OriginalRecommendedBy *uuid.UUID `json:"original_recommended_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingRecommendation is a pending record joined with its sender, the
// shape the recipient's inbox renders.
type PendingRecommendation struct {
	Recommendation
	SenderUsername string `json:"sender_username"`
}

// RecommendationFields carries the user-supplied attributes for create and
// send-to-friend.
type RecommendationFields struct {
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Rating      int     `json:"rating"`
	Description *string `json:"description,omitempty"`
}

// RecommendationPatch is a partial edit: nil fields keep the current value.
// Used for update and for the edits a recipient makes before approving or
// copying.
type RecommendationPatch struct {
	Title       *string `json:"title,omitempty"`
	Category    *string `json:"category,omitempty"`
	Rating      *int    `json:"rating,omitempty"`
	Description *string `json:"description,omitempty"`
}
