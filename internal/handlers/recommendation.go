package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/services"
)

type RecommendationHandler struct {
	recommendationService *services.RecommendationService
}

func NewRecommendationHandler(recommendationService *services.RecommendationService) *RecommendationHandler {
	return &RecommendationHandler{recommendationService: recommendationService}
}

type RecommendationResponse struct {
	Recommendation *models.Recommendation `json:"recommendation"`
}

type RecommendationListResponse struct {
	Recommendations []models.Recommendation `json:"recommendations"`
}

type PendingRecommendationListResponse struct {
	Recommendations []models.PendingRecommendation `json:"recommendations"`
}

type CategoryListResponse struct {
	Categories []string `json:"categories"`
}

type CreateRecommendationRequest struct {
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Rating      int     `json:"rating"`
	Description *string `json:"description"`
}

type SendRecommendationRequest struct {
	CreateRecommendationRequest
	RecommendationID *uuid.UUID `json:"recommendation_id"`
}

func (r CreateRecommendationRequest) fields() models.RecommendationFields {
	return models.RecommendationFields{
		Title:       r.Title,
		Category:    r.Category,
		Rating:      r.Rating,
		Description: r.Description,
	}
}

// writeValidationError maps field validation sentinels to 400 responses.
// Returns false when err was not a validation error.
func writeValidationError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, services.ErrTitleRequired):
		writeError(w, http.StatusBadRequest, "Title is required")
	case errors.Is(err, services.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "Rating must be between 1 and 5")
	case errors.Is(err, services.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "Unknown category")
	default:
		return false
	}
	return true
}

func (h *RecommendationHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CategoryListResponse{Categories: models.Categories})
}

func (h *RecommendationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.recommendationService.Create(r.Context(), user.ID, req.fields())
	if err != nil {
		if writeValidationError(w, err) {
			return
		}
		log.Printf("Error creating recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, RecommendationResponse{Recommendation: rec})
}

func (h *RecommendationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recs, err := h.recommendationService.List(r.Context(), user.ID, r.URL.Query().Get("category"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidCategory) {
			writeError(w, http.StatusBadRequest, "Unknown category")
			return
		}
		log.Printf("Error listing recommendations: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, RecommendationListResponse{Recommendations: recs})
}

func (h *RecommendationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recs, err := h.recommendationService.ListPending(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error listing pending recommendations: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, PendingRecommendationListResponse{Recommendations: recs})
}

func (h *RecommendationHandler) ListForFriend(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friendID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	recs, err := h.recommendationService.ListForFriend(r.Context(), user.ID, friendID)
	switch {
	case errors.Is(err, services.ErrNotFriend):
		writeError(w, http.StatusForbidden, "Not friends with this user")
	case err != nil:
		log.Printf("Error listing friend recommendations: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, RecommendationListResponse{Recommendations: recs})
	}
}

func (h *RecommendationHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	rec, err := h.recommendationService.Get(r.Context(), user.ID, recID)
	switch {
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Recommendation not found")
	case err != nil:
		log.Printf("Error loading recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, RecommendationResponse{Recommendation: rec})
	}
}

func (h *RecommendationHandler) SendToFriend(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recipientID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req SendRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.recommendationService.SendToFriend(r.Context(), user.ID, recipientID, req.fields(), req.RecommendationID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, RecommendationResponse{Recommendation: rec})
	case writeValidationError(w, err):
	case errors.Is(err, services.ErrNotFriend):
		writeError(w, http.StatusForbidden, "Not friends with this user")
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Recommendation not found")
	case errors.Is(err, services.ErrDuplicateRecommendation):
		writeError(w, http.StatusConflict, "This recommendation is already in your list")
	case errors.Is(err, services.ErrRecipientAlreadyHas):
		writeError(w, http.StatusConflict, "Your friend already has this recommendation")
	default:
		log.Printf("Error sending recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type PatchRecommendationRequest struct {
	Title       *string `json:"title"`
	Category    *string `json:"category"`
	Rating      *int    `json:"rating"`
	Description *string `json:"description"`
}

func (r PatchRecommendationRequest) patch() models.RecommendationPatch {
	return models.RecommendationPatch{
		Title:       r.Title,
		Category:    r.Category,
		Rating:      r.Rating,
		Description: r.Description,
	}
}

func (h *RecommendationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	pendingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	var req PatchRecommendationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	rec, err := h.recommendationService.Approve(r.Context(), user.ID, pendingID, req.patch())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RecommendationResponse{Recommendation: rec})
	case writeValidationError(w, err):
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Pending recommendation not found")
	default:
		log.Printf("Error approving recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *RecommendationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	pendingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	err = h.recommendationService.Reject(r.Context(), user.ID, pendingID)
	switch {
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Pending recommendation not found")
	case err != nil:
		log.Printf("Error rejecting recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Recommendation rejected"})
	}
}

func (h *RecommendationHandler) Copy(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sourceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	var req PatchRecommendationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	rec, err := h.recommendationService.CopyFromFriend(r.Context(), user.ID, sourceID, req.patch())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, RecommendationResponse{Recommendation: rec})
	case writeValidationError(w, err):
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Recommendation not found")
	case errors.Is(err, services.ErrNotFriend):
		writeError(w, http.StatusForbidden, "Not friends with this user")
	case errors.Is(err, services.ErrDuplicateRecommendation):
		writeError(w, http.StatusConflict, "This recommendation is already in your list")
	default:
		log.Printf("Error copying recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *RecommendationHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	var req PatchRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.recommendationService.Update(r.Context(), user.ID, recID, req.patch())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RecommendationResponse{Recommendation: rec})
	case writeValidationError(w, err):
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Recommendation not found")
	case errors.Is(err, services.ErrNotRecommendationOwner):
		writeError(w, http.StatusForbidden, "Not allowed to edit this recommendation")
	default:
		log.Printf("Error updating recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *RecommendationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	recID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recommendation ID")
		return
	}

	err = h.recommendationService.Delete(r.Context(), user.ID, recID)
	switch {
	case errors.Is(err, services.ErrRecommendationNotFound):
		writeError(w, http.StatusNotFound, "Recommendation not found")
	case errors.Is(err, services.ErrNotRecommendationOwner):
		writeError(w, http.StatusForbidden, "Not allowed to delete this recommendation")
	case err != nil:
		log.Printf("Error deleting recommendation: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Recommendation deleted"})
	}
}
