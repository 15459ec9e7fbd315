package middleware

import (
	"net/http"
	"strings"

	"github.com/HammerMeetNail/tastemate/internal/handlers"
	"github.com/HammerMeetNail/tastemate/internal/services"
)

const SessionCookieName = "tastemate_session"

// AuthMiddleware resolves the session token from the cookie or an
// Authorization bearer header and, when valid, attaches the user to the
// request context. Handlers decide whether an anonymous request is allowed.
type AuthMiddleware struct {
	authService *services.AuthService
	userService *services.UserService
}

func NewAuthMiddleware(authService *services.AuthService, userService *services.UserService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		userService: userService,
	}
}

func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.authService.ValidateSession(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.userService.GetByID(r.Context(), userID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(handlers.SetUserInContext(r.Context(), user)))
	})
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
