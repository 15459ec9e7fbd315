package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HammerMeetNail/tastemate/internal/models"
)

var (
	ErrInvalidProviderClaims   = errors.New("invalid provider claims")
	ErrProviderEmailUnverified = errors.New("provider email not verified")
	ErrProviderIdentityExists  = errors.New("provider identity already linked")
	ErrInvalidProviderPending  = errors.New("invalid provider pending record")
	ErrInvalidUsername         = errors.New("invalid username")
)

// PendingProviderUser carries verified provider claims for an email we have
// never seen. The caller asks the user to pick a username, then calls
// CreateUserFromProviderPending.
type PendingProviderUser struct {
	Provider Provider
	Subject  string
	Email    string
}

type ProviderLinkResult struct {
	User    *models.User
	Pending *PendingProviderUser
}

type ProviderAuthService struct {
	db DB
}

func NewProviderAuthService(db DB) *ProviderAuthService {
	return &ProviderAuthService{db: db}
}

// LinkOrFindUserFromProvider resolves OIDC claims to a local user: an
// already-linked identity wins, then a matching verified email gets the
// identity linked, and an unknown email comes back as Pending.
func (s *ProviderAuthService) LinkOrFindUserFromProvider(ctx context.Context, claims IdentityClaims) (*ProviderLinkResult, error) {
	provider := strings.TrimSpace(string(claims.Provider))
	subject := strings.TrimSpace(claims.Subject)
	if provider == "" || subject == "" {
		return nil, ErrInvalidProviderClaims
	}

	linkedUser, err := s.getUserByProviderSubject(ctx, claims.Provider, subject)
	if err == nil {
		return &ProviderLinkResult{User: linkedUser}, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	email := normalizeEmail(claims.Email)
	if email == "" || !claims.EmailVerified {
		return nil, ErrProviderEmailUnverified
	}

	user, err := s.getUserByEmail(ctx, email)
	if err == nil {
		if err := s.linkIdentity(ctx, user.ID, claims.Provider, subject); err != nil {
			if errors.Is(err, ErrProviderIdentityExists) {
				existing, lookupErr := s.getUserByProviderSubject(ctx, claims.Provider, subject)
				if lookupErr == nil {
					return &ProviderLinkResult{User: existing}, nil
				}
			}
			return nil, err
		}
		return &ProviderLinkResult{User: user}, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	return &ProviderLinkResult{
		Pending: &PendingProviderUser{
			Provider: claims.Provider,
			Subject:  subject,
			Email:    email,
		},
	}, nil
}

func (s *ProviderAuthService) CreateUserFromProviderPending(ctx context.Context, pending PendingProviderUser, username string, searchable bool) (*models.User, error) {
	if strings.TrimSpace(string(pending.Provider)) == "" || strings.TrimSpace(pending.Subject) == "" {
		return nil, ErrInvalidProviderPending
	}
	email := normalizeEmail(pending.Email)
	if email == "" {
		return nil, ErrInvalidProviderPending
	}

	username = strings.TrimSpace(username)
	if len(username) < 2 || len(username) > 100 {
		return nil, ErrInvalidUsername
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // Rollback is a no-op after commit

	if exists, err := s.userExistsByEmail(ctx, email, tx); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrEmailAlreadyExists
	}

	if exists, err := s.userExistsByUsername(ctx, username, tx); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUsernameAlreadyExists
	}

	user := &models.User{}
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, username, searchable)
		 VALUES ($1, '', $2, $3)
		 RETURNING id, email, password_hash, username, searchable, created_at, updated_at`,
		email, username, searchable,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Username, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s.resolveUserInsertConflict(ctx, email, username, tx)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO provider_identities (user_id, provider, subject)
		 VALUES ($1, $2, $3)`,
		user.ID, pending.Provider, pending.Subject,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrProviderIdentityExists
		}
		return nil, fmt.Errorf("linking provider identity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return user, nil
}

func (s *ProviderAuthService) linkIdentity(ctx context.Context, userID uuid.UUID, provider Provider, subject string) error {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO provider_identities (user_id, provider, subject)
		 VALUES ($1, $2, $3)`,
		userID, provider, subject,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrProviderIdentityExists
		}
		return fmt.Errorf("inserting provider identity: %w", err)
	}
	return nil
}

func (s *ProviderAuthService) getUserByProviderSubject(ctx context.Context, provider Provider, subject string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(ctx,
		`SELECT u.id, u.email, u.password_hash, u.username, u.searchable, u.created_at, u.updated_at
		 FROM provider_identities pi
		 JOIN users u ON u.id = pi.user_id
		 WHERE pi.provider = $1 AND pi.subject = $2`,
		provider, subject,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Username, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by provider subject: %w", err)
	}
	return user, nil
}

func (s *ProviderAuthService) getUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, username, searchable, created_at, updated_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Username, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return user, nil
}

func (s *ProviderAuthService) userExistsByEmail(ctx context.Context, email string, db DBConn) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)",
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

func (s *ProviderAuthService) userExistsByUsername(ctx context.Context, username string, db DBConn) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))",
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking username existence: %w", err)
	}
	return exists, nil
}

func (s *ProviderAuthService) resolveUserInsertConflict(ctx context.Context, email, username string, db DBConn) error {
	if exists, err := s.userExistsByEmail(ctx, email, db); err != nil {
		return err
	} else if exists {
		return ErrEmailAlreadyExists
	}
	if exists, err := s.userExistsByUsername(ctx, username, db); err != nil {
		return err
	} else if exists {
		return ErrUsernameAlreadyExists
	}
	return ErrInvalidProviderClaims
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
