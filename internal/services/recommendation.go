package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/realtime"
)

var (
	ErrRecommendationNotFound  = errors.New("recommendation not found")
	ErrNotRecommendationOwner  = errors.New("not the recommendation owner")
	ErrDuplicateRecommendation = errors.New("recommendation already in list")
	ErrRecipientAlreadyHas     = errors.New("recipient already has this recommendation")
	ErrTitleRequired           = errors.New("title is required")
	ErrInvalidRating           = errors.New("rating must be between 1 and 5")
	ErrInvalidCategory         = errors.New("unknown category")
)

const recommendationColumns = `id, user_id, title, category, rating, description, status, recommended_to, original_recommended_by, created_at, updated_at`

// RecommendationService owns the sharing state machine. A record is born
// approved (create) or pending (send-to-friend); a pending record either
// becomes a brand-new approved record owned by the recipient (approve) or
// is archived in place (reject). Approval and copying never mutate the
// source record: ownership only ever moves by creating a new row.
type RecommendationService struct {
	db            DB
	friendService *FriendService
	events        EventPublisher
}

func NewRecommendationService(db DB, friendService *FriendService) *RecommendationService {
	return &RecommendationService{
		db:            db,
		friendService: friendService,
	}
}

func (s *RecommendationService) SetEventPublisher(events EventPublisher) {
	s.events = events
}

// Create adds an approved record to the actor's own list.
func (s *RecommendationService) Create(ctx context.Context, actorID uuid.UUID, fields models.RecommendationFields) (*models.Recommendation, error) {
	title, category, err := validateRecommendationFields(fields)
	if err != nil {
		return nil, err
	}

	rec := &models.Recommendation{}
	err = scanRecommendation(s.db.QueryRow(ctx,
		`INSERT INTO recommendations (user_id, title, category, rating, description, status)
		 VALUES ($1, $2, $3, $4, $5, 'approved')
		 RETURNING `+recommendationColumns,
		actorID, title, category, fields.Rating, fields.Description,
	), rec)
	if err != nil {
		return nil, fmt.Errorf("creating recommendation: %w", err)
	}
	return rec, nil
}

// SendToFriend creates a pending record owned by the actor and addressed to
// the recipient. When existingID is set the actor is re-sharing something
// already in their list, so the sender-side duplicate check is skipped and
// provenance is carried over from the existing record.
func (s *RecommendationService) SendToFriend(ctx context.Context, actorID, recipientID uuid.UUID, fields models.RecommendationFields, existingID *uuid.UUID) (*models.Recommendation, error) {
	title, category, err := validateRecommendationFields(fields)
	if err != nil {
		return nil, err
	}

	isFriend, err := s.friendService.IsFriend(ctx, actorID, recipientID)
	if err != nil {
		return nil, err
	}
	if !isFriend {
		return nil, ErrNotFriend
	}

	var provenance *uuid.UUID
	if existingID != nil {
		existing, err := s.loadOwned(ctx, actorID, *existingID)
		if err != nil {
			return nil, err
		}
		provenance = existing.OriginalRecommendedBy
	} else {
		dup, err := s.ownerHasDuplicate(ctx, actorID, title, category)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, ErrDuplicateRecommendation
		}
	}

	alreadyHas, err := s.recipientHasEquivalent(ctx, recipientID, title, category)
	if err != nil {
		return nil, err
	}
	if alreadyHas {
		return nil, ErrRecipientAlreadyHas
	}

	rec := &models.Recommendation{}
	err = scanRecommendation(s.db.QueryRow(ctx,
		`INSERT INTO recommendations (user_id, title, category, rating, description, status, recommended_to, original_recommended_by)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		 RETURNING `+recommendationColumns,
		actorID, title, category, fields.Rating, fields.Description, recipientID, provenance,
	), rec)
	if err != nil {
		return nil, fmt.Errorf("creating pending recommendation: %w", err)
	}

	if s.events != nil {
		senderUsername, err := usernameOf(ctx, s.db, actorID)
		if err == nil {
			// Minimal preview only: the description stays private until
			// the recipient accepts.
			s.events.Publish(recipientID, realtime.Event{
				Type: realtime.EventNewRecommendation,
				Payload: realtime.NewRecommendationPayload{
					SenderID:       actorID,
					SenderUsername: senderUsername,
					Recommendation: realtime.RecommendationPreview{
						ID:       rec.ID,
						Title:    rec.Title,
						Category: rec.Category,
					},
				},
			})
		}
	}

	return rec, nil
}

// Approve turns a pending record addressed to the actor into a new approved
// record the actor owns, applying any edits the actor made first, and
// retires the pending row. The sender's original is never touched.
func (s *RecommendationService) Approve(ctx context.Context, actorID, pendingID uuid.UUID, patch models.RecommendationPatch) (*models.Recommendation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	pending := &models.Recommendation{}
	err = scanRecommendation(tx.QueryRow(ctx,
		`SELECT `+recommendationColumns+`
		 FROM recommendations
		 WHERE id = $1 AND recommended_to = $2 AND status = 'pending'
		 FOR UPDATE`,
		pendingID, actorID,
	), pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending recommendation: %w", err)
	}

	fields, err := applyPatch(pending, patch)
	if err != nil {
		return nil, err
	}

	// Provenance chains through: the first author survives any number of
	// share/approve hops.
	provenance := pending.UserID
	if pending.OriginalRecommendedBy != nil {
		provenance = *pending.OriginalRecommendedBy
	}

	approved := &models.Recommendation{}
	err = scanRecommendation(tx.QueryRow(ctx,
		`INSERT INTO recommendations (user_id, title, category, rating, description, status, original_recommended_by)
		 VALUES ($1, $2, $3, $4, $5, 'approved', $6)
		 RETURNING `+recommendationColumns,
		actorID, fields.Title, fields.Category, fields.Rating, fields.Description, provenance,
	), approved)
	if err != nil {
		return nil, fmt.Errorf("creating approved copy: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM recommendations WHERE id = $1", pending.ID); err != nil {
		return nil, fmt.Errorf("retiring pending recommendation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approve: %w", err)
	}
	committed = true

	return approved, nil
}

// Reject archives a pending record in place. No new record, no
// notification, no push: the sender only notices if they go looking.
// A rejected offer does not block the same content being sent again.
func (s *RecommendationService) Reject(ctx context.Context, actorID, pendingID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE recommendations
		 SET status = 'rejected', updated_at = NOW()
		 WHERE id = $1 AND recommended_to = $2 AND status = 'pending'`,
		pendingID, actorID,
	)
	if err != nil {
		return fmt.Errorf("rejecting recommendation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRecommendationNotFound
	}
	return nil
}

// CopyFromFriend clones an approved record from a friend's list into the
// actor's own, with optional edits, keeping provenance.
func (s *RecommendationService) CopyFromFriend(ctx context.Context, actorID, sourceID uuid.UUID, patch models.RecommendationPatch) (*models.Recommendation, error) {
	source := &models.Recommendation{}
	err := scanRecommendation(s.db.QueryRow(ctx,
		`SELECT `+recommendationColumns+`
		 FROM recommendations
		 WHERE id = $1 AND status = 'approved'`,
		sourceID,
	), source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading source recommendation: %w", err)
	}

	isFriend, err := s.friendService.IsFriend(ctx, actorID, source.UserID)
	if err != nil {
		return nil, err
	}
	if !isFriend {
		return nil, ErrNotFriend
	}

	fields, err := applyPatch(source, patch)
	if err != nil {
		return nil, err
	}

	dup, err := s.ownerHasDuplicate(ctx, actorID, fields.Title, fields.Category)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicateRecommendation
	}

	provenance := source.UserID
	if source.OriginalRecommendedBy != nil {
		provenance = *source.OriginalRecommendedBy
	}

	copied := &models.Recommendation{}
	err = scanRecommendation(s.db.QueryRow(ctx,
		`INSERT INTO recommendations (user_id, title, category, rating, description, status, original_recommended_by)
		 VALUES ($1, $2, $3, $4, $5, 'approved', $6)
		 RETURNING `+recommendationColumns,
		actorID, fields.Title, fields.Category, fields.Rating, fields.Description, provenance,
	), copied)
	if err != nil {
		return nil, fmt.Errorf("copying recommendation: %w", err)
	}

	return copied, nil
}

// Update edits a record. Allowed for the owner, and for the recipient of a
// still-pending record (so they can tweak before approving).
func (s *RecommendationService) Update(ctx context.Context, actorID, recID uuid.UUID, patch models.RecommendationPatch) (*models.Recommendation, error) {
	rec := &models.Recommendation{}
	err := scanRecommendation(s.db.QueryRow(ctx,
		`SELECT `+recommendationColumns+` FROM recommendations WHERE id = $1`,
		recID,
	), rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recommendation: %w", err)
	}

	pendingRecipient := rec.Status == models.RecommendationStatusPending &&
		rec.RecommendedTo != nil && *rec.RecommendedTo == actorID
	if rec.UserID != actorID && !pendingRecipient {
		return nil, ErrNotRecommendationOwner
	}

	fields, err := applyPatch(rec, patch)
	if err != nil {
		return nil, err
	}

	updated := &models.Recommendation{}
	err = scanRecommendation(s.db.QueryRow(ctx,
		`UPDATE recommendations
		 SET title = $1, category = $2, rating = $3, description = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING `+recommendationColumns,
		fields.Title, fields.Category, fields.Rating, fields.Description, recID,
	), updated)
	if err != nil {
		return nil, fmt.Errorf("updating recommendation: %w", err)
	}
	return updated, nil
}

// Delete removes a record. Owner only.
func (s *RecommendationService) Delete(ctx context.Context, actorID, recID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		"DELETE FROM recommendations WHERE id = $1 AND user_id = $2",
		recID, actorID,
	)
	if err != nil {
		return fmt.Errorf("deleting recommendation: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM recommendations WHERE id = $1)", recID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking recommendation: %w", err)
	}
	if exists {
		return ErrNotRecommendationOwner
	}
	return ErrRecommendationNotFound
}

// List returns the actor's visible list: approved records they own.
// Pending records they have sent never show up here.
func (s *RecommendationService) List(ctx context.Context, actorID uuid.UUID, category string) ([]models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + `
		 FROM recommendations
		 WHERE user_id = $1 AND status = 'approved'`
	args := []any{actorID}
	if category != "" {
		canonical, ok := models.NormalizeCategory(category)
		if !ok {
			return nil, ErrInvalidCategory
		}
		query += ` AND category = $2`
		args = append(args, canonical)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing recommendations: %w", err)
	}
	defer rows.Close()

	recs := make([]models.Recommendation, 0)
	for rows.Next() {
		var rec models.Recommendation
		if err := scanRecommendationRow(rows, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recommendations: %w", err)
	}
	return recs, nil
}

// ListPending returns the actor's inbox: pending records addressed to them,
// with the sender's username.
func (s *RecommendationService) ListPending(ctx context.Context, actorID uuid.UUID) ([]models.PendingRecommendation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.user_id, r.title, r.category, r.rating, r.description, r.status, r.recommended_to, r.original_recommended_by, r.created_at, r.updated_at, u.username
		 FROM recommendations r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.recommended_to = $1 AND r.status = 'pending'
		 ORDER BY r.created_at DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending recommendations: %w", err)
	}
	defer rows.Close()

	recs := make([]models.PendingRecommendation, 0)
	for rows.Next() {
		var rec models.PendingRecommendation
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Category, &rec.Rating, &rec.Description, &rec.Status, &rec.RecommendedTo, &rec.OriginalRecommendedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.SenderUsername); err != nil {
			return nil, fmt.Errorf("scanning pending recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending recommendations: %w", err)
	}
	return recs, nil
}

// ListForFriend returns a friend's approved list, for browsing before a copy.
func (s *RecommendationService) ListForFriend(ctx context.Context, actorID, friendID uuid.UUID) ([]models.Recommendation, error) {
	isFriend, err := s.friendService.IsFriend(ctx, actorID, friendID)
	if err != nil {
		return nil, err
	}
	if !isFriend {
		return nil, ErrNotFriend
	}
	return s.List(ctx, friendID, "")
}

// Get returns a single record the actor may see: their own, or a pending
// one addressed to them.
func (s *RecommendationService) Get(ctx context.Context, actorID, recID uuid.UUID) (*models.Recommendation, error) {
	rec := &models.Recommendation{}
	err := scanRecommendation(s.db.QueryRow(ctx,
		`SELECT `+recommendationColumns+`
		 FROM recommendations
		 WHERE id = $1
		   AND (user_id = $2 OR (recommended_to = $2 AND status = 'pending'))`,
		recID, actorID,
	), rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recommendation: %w", err)
	}
	return rec, nil
}

func (s *RecommendationService) loadOwned(ctx context.Context, ownerID, recID uuid.UUID) (*models.Recommendation, error) {
	rec := &models.Recommendation{}
	err := scanRecommendation(s.db.QueryRow(ctx,
		`SELECT `+recommendationColumns+`
		 FROM recommendations
		 WHERE id = $1 AND user_id = $2`,
		recID, ownerID,
	), rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading owned recommendation: %w", err)
	}
	return rec, nil
}

// ownerHasDuplicate: same owner, case-insensitive title, exact category,
// approved records only.
func (s *RecommendationService) ownerHasDuplicate(ctx context.Context, ownerID uuid.UUID, title, category string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM recommendations
			WHERE user_id = $1 AND status = 'approved'
			  AND LOWER(title) = LOWER($2) AND category = $3
		)`,
		ownerID, title, category,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking duplicate: %w", err)
	}
	return exists, nil
}

// recipientHasEquivalent: content the recipient already owns or already has
// a decision pending on. Rejected offers are excluded so the same content
// can be re-sent after a rejection.
func (s *RecommendationService) recipientHasEquivalent(ctx context.Context, recipientID uuid.UUID, title, category string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM recommendations
			WHERE LOWER(title) = LOWER($2) AND category = $3
			  AND ((user_id = $1 AND status = 'approved')
			    OR (recommended_to = $1 AND status = 'pending'))
		)`,
		recipientID, title, category,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recipient duplicate: %w", err)
	}
	return exists, nil
}

func validateRecommendationFields(fields models.RecommendationFields) (title, category string, err error) {
	title = strings.TrimSpace(fields.Title)
	if title == "" {
		return "", "", ErrTitleRequired
	}
	if fields.Rating < models.RatingMin || fields.Rating > models.RatingMax {
		return "", "", ErrInvalidRating
	}
	category, ok := models.NormalizeCategory(fields.Category)
	if !ok {
		return "", "", ErrInvalidCategory
	}
	return title, category, nil
}

// applyPatch resolves a partial edit against a base record and validates
// the result.
func applyPatch(base *models.Recommendation, patch models.RecommendationPatch) (models.RecommendationFields, error) {
	fields := models.RecommendationFields{
		Title:       base.Title,
		Category:    base.Category,
		Rating:      base.Rating,
		Description: base.Description,
	}
	if patch.Title != nil {
		fields.Title = *patch.Title
	}
	if patch.Category != nil {
		fields.Category = *patch.Category
	}
	if patch.Rating != nil {
		fields.Rating = *patch.Rating
	}
	if patch.Description != nil {
		fields.Description = patch.Description
	}

	title, category, err := validateRecommendationFields(fields)
	if err != nil {
		return models.RecommendationFields{}, err
	}
	fields.Title = title
	fields.Category = category
	return fields, nil
}

func scanRecommendation(row Row, rec *models.Recommendation) error {
	return row.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Category, &rec.Rating, &rec.Description, &rec.Status, &rec.RecommendedTo, &rec.OriginalRecommendedBy, &rec.CreatedAt, &rec.UpdatedAt)
}

func scanRecommendationRow(rows Rows, rec *models.Recommendation) error {
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Category, &rec.Rating, &rec.Description, &rec.Status, &rec.RecommendedTo, &rec.OriginalRecommendedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("scanning recommendation: %w", err)
	}
	return nil
}
