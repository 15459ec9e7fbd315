package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/services"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"
	oauthNextCookie  = "oauth_next"

	oauthCookieMaxAge = 10 * 60
	oauthPendingTTL   = 10 * time.Minute
)

// ProviderAuthHandler drives sign-in through external identity
// providers. A verified identity with a known subject or email logs
// straight in; an unknown identity is parked in redis until the user
// picks a username and finishes signup.
type ProviderAuthHandler struct {
	providerAuth *services.ProviderAuthService
	authService  *services.AuthService
	redis        services.RedisClient
	providers    map[string]services.OAuthProvider
	secure       bool
}

func NewProviderAuthHandler(providerAuth *services.ProviderAuthService, authService *services.AuthService, redis services.RedisClient, providers map[services.Provider]services.OAuthProvider, secure bool) *ProviderAuthHandler {
	byKey := make(map[string]services.OAuthProvider, len(providers))
	for name, provider := range providers {
		byKey[strings.ToLower(string(name))] = provider
	}

	return &ProviderAuthHandler{
		providerAuth: providerAuth,
		authService:  authService,
		redis:        redis,
		providers:    byKey,
		secure:       secure,
	}
}

// ProviderStart mints state and nonce, stores them in short-lived
// cookies and redirects to the provider's consent page.
func (h *ProviderAuthHandler) ProviderStart(w http.ResponseWriter, r *http.Request) {
	provider, _ := h.lookupProvider(r)
	if provider == nil {
		http.NotFound(w, r)
		return
	}

	state, err := randomURLToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start provider auth")
		return
	}
	nonce, err := randomURLToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start provider auth")
		return
	}

	h.setOAuthCookie(w, oauthStateCookie, state)
	h.setOAuthCookie(w, oauthNonceCookie, nonce)

	if next := sanitizeNextFragment(r.URL.Query().Get("next")); next != "" {
		h.setOAuthCookie(w, oauthNextCookie, next)
	} else {
		h.clearOAuthCookie(w, oauthNextCookie)
	}

	http.Redirect(w, r, provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// ProviderCallback handles the redirect back from the provider.
func (h *ProviderAuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider, providerKey := h.lookupProvider(r)
	if provider == nil {
		http.NotFound(w, r)
		return
	}

	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		h.loginErrorRedirect(w, r, providerErr)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.loginErrorRedirect(w, r, "oauth_missing")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || !constantTimeEqual(stateCookie.Value, state) {
		h.loginErrorRedirect(w, r, "oauth_invalid")
		return
	}
	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil || nonceCookie.Value == "" {
		h.loginErrorRedirect(w, r, "oauth_invalid")
		return
	}

	claims, err := provider.ExchangeAndVerify(r.Context(), code, nonceCookie.Value)
	if err != nil {
		log.Printf("Provider exchange failed: %v", err)
		h.loginErrorRedirect(w, r, "oauth_exchange")
		return
	}

	linkResult, err := h.providerAuth.LinkOrFindUserFromProvider(r.Context(), claims)
	if err != nil {
		if errors.Is(err, services.ErrProviderEmailUnverified) {
			h.loginErrorRedirect(w, r, "oauth_unverified")
			return
		}
		log.Printf("Provider link failed: %v", err)
		h.loginErrorRedirect(w, r, "oauth_link")
		return
	}

	h.clearOAuthCookie(w, oauthStateCookie)
	h.clearOAuthCookie(w, oauthNonceCookie)

	if linkResult.User != nil {
		h.finishProviderLogin(w, r, linkResult.User.ID)
		return
	}
	if linkResult.Pending == nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.stashPendingSignup(w, r, providerKey, linkResult.Pending)
}

func (h *ProviderAuthHandler) finishProviderLogin(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	token, err := h.authService.CreateSession(r.Context(), userID)
	if err != nil {
		log.Printf("Provider session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.setSessionCookie(w, token)
	next := h.nextFromCookie(r)
	h.clearOAuthCookie(w, oauthNextCookie)
	http.Redirect(w, r, fragmentRedirect(next, "#dashboard"), http.StatusFound)
}

func (h *ProviderAuthHandler) stashPendingSignup(w http.ResponseWriter, r *http.Request, providerKey string, pending *services.PendingProviderUser) {
	pendingToken, err := randomURLToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start provider auth")
		return
	}

	payload, err := json.Marshal(pendingSignup{
		Provider: string(pending.Provider),
		Subject:  pending.Subject,
		Email:    pending.Email,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start provider auth")
		return
	}

	if err := h.redis.Set(r.Context(), pendingSignupKey(pendingToken), string(payload), oauthPendingTTL); err != nil {
		log.Printf("Provider pending save failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.setOAuthCookie(w, pendingSignupCookie(providerKey), pendingToken)
	http.Redirect(w, r, fragmentRedirect("", fmt.Sprintf("#%s-complete", providerKey)), http.StatusFound)
}

// ProviderComplete finishes signup for an identity parked by the
// callback: the user supplies a username and visibility preference.
func (h *ProviderAuthHandler) ProviderComplete(w http.ResponseWriter, r *http.Request) {
	provider, providerKey := h.lookupProvider(r)
	if provider == nil {
		http.NotFound(w, r)
		return
	}

	if GetUserFromContext(r.Context()) != nil {
		writeError(w, http.StatusBadRequest, "Already authenticated")
		return
	}

	pendingCookie, err := r.Cookie(pendingSignupCookie(providerKey))
	if err != nil || pendingCookie.Value == "" {
		writeError(w, http.StatusBadRequest, "Signup session expired. Please restart OAuth login.")
		return
	}

	key := pendingSignupKey(pendingCookie.Value)
	pendingJSON, err := h.redis.Get(r.Context(), key)
	if err != nil || pendingJSON == "" {
		writeError(w, http.StatusBadRequest, "Signup session expired. Please restart OAuth login.")
		return
	}

	var pending pendingSignup
	if err := json.Unmarshal([]byte(pendingJSON), &pending); err != nil {
		writeError(w, http.StatusBadRequest, "Signup session expired. Please restart OAuth login.")
		return
	}
	if pending.Provider != string(provider.Provider()) {
		writeError(w, http.StatusBadRequest, "Invalid signup session. Please restart OAuth login.")
		return
	}

	var req struct {
		Username   string `json:"username"`
		Searchable bool   `json:"searchable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.providerAuth.CreateUserFromProviderPending(r.Context(), services.PendingProviderUser{
		Provider: provider.Provider(),
		Subject:  pending.Subject,
		Email:    pending.Email,
	}, req.Username, req.Searchable)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUsernameAlreadyExists):
			writeError(w, http.StatusConflict, "Username already taken")
		case errors.Is(err, services.ErrEmailAlreadyExists):
			writeError(w, http.StatusConflict, "Email already registered")
		case errors.Is(err, services.ErrInvalidUsername):
			writeError(w, http.StatusBadRequest, "Username must be between 2 and 100 characters")
		case errors.Is(err, services.ErrInvalidProviderPending):
			writeError(w, http.StatusBadRequest, "Signup session expired. Please restart OAuth login.")
		default:
			log.Printf("Provider complete failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	token, err := h.authService.CreateSession(r.Context(), user.ID)
	if err != nil {
		log.Printf("Provider session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.setSessionCookie(w, token)
	h.clearOAuthCookie(w, pendingSignupCookie(providerKey))
	h.clearOAuthCookie(w, oauthNextCookie)
	_ = h.redis.Del(r.Context(), key)

	writeJSON(w, http.StatusCreated, providerCompleteResponse{
		User: user,
		Next: h.nextFromCookie(r),
	})
}

type providerCompleteResponse struct {
	User *models.User `json:"user"`
	Next string       `json:"next,omitempty"`
}

type pendingSignup struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
}

func pendingSignupCookie(provider string) string {
	return provider + "_pending"
}

func pendingSignupKey(token string) string {
	return "oauth_pending:" + token
}

func (h *ProviderAuthHandler) lookupProvider(r *http.Request) (services.OAuthProvider, string) {
	providerKey := strings.ToLower(r.PathValue("provider"))
	if providerKey == "" {
		return nil, ""
	}
	provider, ok := h.providers[providerKey]
	if !ok {
		return nil, providerKey
	}
	return provider, providerKey
}

func (h *ProviderAuthHandler) setOAuthCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *ProviderAuthHandler) clearOAuthCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
	})
}

func (h *ProviderAuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(services.SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *ProviderAuthHandler) loginErrorRedirect(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/#login?error="+sanitizeErrorParam(code), http.StatusFound)
}

func (h *ProviderAuthHandler) nextFromCookie(r *http.Request) string {
	nextCookie, err := r.Cookie(oauthNextCookie)
	if err != nil {
		return ""
	}
	return sanitizeNextFragment(nextCookie.Value)
}

func fragmentRedirect(next, fallback string) string {
	if next != "" {
		return "/" + next
	}
	return "/" + fallback
}

func randomURLToken(size int) (string, error) {
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// sanitizeNextFragment only allows same-page fragment targets, so the
// oauth round trip can never redirect off-site.
func sanitizeNextFragment(value string) string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "#") {
		return ""
	}
	if strings.ContainsAny(value, "\n\r") {
		return ""
	}
	return value
}

func sanitizeErrorParam(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "oauth_error"
	}
	if len(value) > 60 {
		value = value[:60]
	}
	for _, r := range value {
		if !isErrorParamRune(r) {
			return "oauth_error"
		}
	}
	return value
}

func isErrorParamRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
