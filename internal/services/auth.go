package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/tastemate/internal/logging"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
)

const (
	SessionDuration  = 30 * 24 * time.Hour
	sessionCacheTTL  = 5 * time.Minute
	sessionKeyPrefix = "session:"
)

// AuthService issues and validates opaque session tokens. Tokens are stored
// hashed; Redis is a read-through cache in front of the sessions table.
type AuthService struct {
	db    DBConn
	redis RedisClient
}

func NewAuthService(db DBConn, redis RedisClient) *AuthService {
	return &AuthService{db: db, redis: redis}
}

// Login checks the password for the account registered under email and, on
// success, creates a session. The same ErrInvalidCredentials comes back for
// an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (uuid.UUID, string, error) {
	var userID uuid.UUID
	var passwordHash string
	err := s.db.QueryRow(ctx,
		"SELECT id, password_hash FROM users WHERE email = $1", email,
	).Scan(&userID, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("loading user for login: %w", err)
	}

	ok, err := VerifyPassword(password, passwordHash)
	if err != nil || !ok {
		return uuid.Nil, "", ErrInvalidCredentials
	}

	token, err := s.CreateSession(ctx, userID)
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, token, nil
}

// CreateSession issues a fresh opaque token for userID.
func (s *AuthService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(SessionDuration)
	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		userID, hashSessionToken(token), expiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	return token, nil
}

// ValidateSession resolves a token to the owning user id.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (uuid.UUID, error) {
	tokenHash := hashSessionToken(token)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, sessionKeyPrefix+tokenHash)
		if err == nil && cached != "" {
			if userID, parseErr := uuid.Parse(cached); parseErr == nil {
				return userID, nil
			}
		}
	}

	var userID uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token_hash = $1 AND expires_at > NOW()`,
		tokenHash,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrSessionNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("validating session: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, sessionKeyPrefix+tokenHash, userID.String(), sessionCacheTTL); err != nil {
			logging.Warn("Failed to cache session", map[string]interface{}{"error": err.Error()})
		}
	}

	return userID, nil
}

// DeleteSession revokes a single token (logout).
func (s *AuthService) DeleteSession(ctx context.Context, token string) error {
	tokenHash := hashSessionToken(token)

	if s.redis != nil {
		if err := s.redis.Del(ctx, sessionKeyPrefix+tokenHash); err != nil {
			logging.Warn("Failed to evict cached session", map[string]interface{}{"error": err.Error()})
		}
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllForUser revokes every session the user holds. Cached entries are
// left to expire; the five-minute TTL bounds the stale window.
func (s *AuthService) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// CleanupExpired removes expired session rows.
func (s *AuthService) CleanupExpired(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= NOW()"); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
