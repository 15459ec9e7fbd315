package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AccountService struct {
	db DB
}

func NewAccountService(db DB) *AccountService {
	return &AccountService{db: db}
}

// BuildExportZip packages everything the service stores about a user into
// a zip of CSV files. Password and session token hashes are excluded.
func (s *AccountService) BuildExportZip(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	var user struct {
		ID         uuid.UUID
		Email      string
		Username   string
		Searchable bool
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	err := s.db.QueryRow(ctx,
		`SELECT id, email, username, searchable, created_at, updated_at
		 FROM users
		 WHERE id = $1`,
		userID,
	).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.Searchable,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user for export: %w", err)
	}

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	if err := writeReadme(zipWriter, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := writeCSVFile(zipWriter, "user.csv", []string{
		"id",
		"email",
		"username",
		"searchable",
		"created_at",
		"updated_at",
	}, func(w *csv.Writer) error {
		return w.Write([]string{
			user.ID.String(),
			sanitizeCSVValue(user.Email),
			sanitizeCSVValue(user.Username),
			boolString(user.Searchable),
			formatTimeValue(user.CreatedAt),
			formatTimeValue(user.UpdatedAt),
		})
	}); err != nil {
		return nil, err
	}

	if err := s.writeRecommendationsCSV(ctx, zipWriter, userID); err != nil {
		return nil, err
	}
	if err := s.writeFriendshipsCSV(ctx, zipWriter, userID); err != nil {
		return nil, err
	}
	if err := s.writeNotificationsCSV(ctx, zipWriter, userID); err != nil {
		return nil, err
	}
	if err := s.writeProviderIdentitiesCSV(ctx, zipWriter, userID); err != nil {
		return nil, err
	}
	if err := s.writeSessionsCSV(ctx, zipWriter, userID); err != nil {
		return nil, err
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("close export zip: %w", err)
	}

	return buf.Bytes(), nil
}

// Delete removes the account and everything attached to it in one
// transaction: sessions, notifications in either direction, friendship
// edges, recommendations the user owns or that are addressed to them.
// Provenance references from other users' records are nulled out rather
// than cascaded, so a departed friend does not take copied content with
// them.
func (s *AccountService) Delete(ctx context.Context, userID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin account delete: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}

	if _, err := tx.Exec(ctx, "DELETE FROM sessions WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM notifications WHERE user_id = $1 OR actor_user_id = $1", userID,
	); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM friendships WHERE requester_id = $1 OR addressee_id = $1", userID,
	); err != nil {
		return fmt.Errorf("delete friendships: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM recommendations WHERE user_id = $1 OR recommended_to = $1", userID,
	); err != nil {
		return fmt.Errorf("delete recommendations: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE recommendations SET original_recommended_by = NULL WHERE original_recommended_by = $1", userID,
	); err != nil {
		return fmt.Errorf("clear provenance references: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM provider_identities WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("delete provider identities: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit account delete: %w", err)
	}
	committed = true
	return nil
}

func writeReadme(zipWriter *zip.Writer, generatedAt time.Time) error {
	file, err := zipWriter.Create("README.txt")
	if err != nil {
		return fmt.Errorf("create README.txt: %w", err)
	}
	content := fmt.Sprintf(
		"Tastemate account export\nexport_version: 1\ngenerated_at: %s\nnotes: password and session token hashes are excluded from this export.\n",
		generatedAt.Format(time.RFC3339),
	)
	if _, err := io.WriteString(file, content); err != nil {
		return fmt.Errorf("write README.txt: %w", err)
	}
	return nil
}

func writeCSVFile(zipWriter *zip.Writer, name string, header []string, writeRows func(*csv.Writer) error) error {
	file, err := zipWriter.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if err := writeRows(writer); err != nil {
		return fmt.Errorf("write %s rows: %w", name, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return nil
}

func (s *AccountService) writeRecommendationsCSV(ctx context.Context, zipWriter *zip.Writer, userID uuid.UUID) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, title, category, rating, description, status,
		        recommended_to, original_recommended_by, created_at, updated_at
		 FROM recommendations
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	header := []string{
		"id",
		"user_id",
		"title",
		"category",
		"rating",
		"description",
		"status",
		"recommended_to",
		"original_recommended_by",
		"created_at",
		"updated_at",
	}

	return writeCSVFile(zipWriter, "recommendations.csv", header, func(w *csv.Writer) error {
		for rows.Next() {
			var (
				recID       uuid.UUID
				ownerID     uuid.UUID
				title       string
				category    string
				rating      int
				description *string
				status      string
				recipientID *uuid.UUID
				originalBy  *uuid.UUID
				createdAt   time.Time
				updatedAt   time.Time
			)
			if err := rows.Scan(
				&recID,
				&ownerID,
				&title,
				&category,
				&rating,
				&description,
				&status,
				&recipientID,
				&originalBy,
				&createdAt,
				&updatedAt,
			); err != nil {
				return fmt.Errorf("scan recommendations: %w", err)
			}
			if err := w.Write([]string{
				recID.String(),
				ownerID.String(),
				sanitizeCSVValue(title),
				category,
				fmt.Sprintf("%d", rating),
				nullableString(description),
				status,
				nullableUUID(recipientID),
				nullableUUID(originalBy),
				formatTimeValue(createdAt),
				formatTimeValue(updatedAt),
			}); err != nil {
				return fmt.Errorf("write recommendations row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate recommendations: %w", err)
		}
		return nil
	})
}

func (s *AccountService) writeFriendshipsCSV(ctx context.Context, zipWriter *zip.Writer, userID uuid.UUID) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, requester_id, addressee_id, status, created_at
		 FROM friendships
		 WHERE requester_id = $1 OR addressee_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	header := []string{
		"id",
		"requester_id",
		"addressee_id",
		"status",
		"created_at",
	}

	return writeCSVFile(zipWriter, "friendships.csv", header, func(w *csv.Writer) error {
		for rows.Next() {
			var (
				friendshipID uuid.UUID
				requesterID  uuid.UUID
				addresseeID  uuid.UUID
				status       string
				createdAt    time.Time
			)
			if err := rows.Scan(&friendshipID, &requesterID, &addresseeID, &status, &createdAt); err != nil {
				return fmt.Errorf("scan friendships: %w", err)
			}
			if err := w.Write([]string{
				friendshipID.String(),
				requesterID.String(),
				addresseeID.String(),
				status,
				formatTimeValue(createdAt),
			}); err != nil {
				return fmt.Errorf("write friendships row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate friendships: %w", err)
		}
		return nil
	})
}

func (s *AccountService) writeNotificationsCSV(ctx context.Context, zipWriter *zip.Writer, userID uuid.UUID) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, type, actor_user_id, read_at, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	header := []string{
		"id",
		"user_id",
		"type",
		"actor_user_id",
		"read_at",
		"created_at",
	}

	return writeCSVFile(zipWriter, "notifications.csv", header, func(w *csv.Writer) error {
		for rows.Next() {
			var (
				notificationID uuid.UUID
				rowUserID      uuid.UUID
				nType          string
				actorUserID    uuid.UUID
				readAt         *time.Time
				createdAt      time.Time
			)
			if err := rows.Scan(
				&notificationID,
				&rowUserID,
				&nType,
				&actorUserID,
				&readAt,
				&createdAt,
			); err != nil {
				return fmt.Errorf("scan notifications: %w", err)
			}
			if err := w.Write([]string{
				notificationID.String(),
				rowUserID.String(),
				nType,
				actorUserID.String(),
				formatTime(readAt),
				formatTimeValue(createdAt),
			}); err != nil {
				return fmt.Errorf("write notifications row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate notifications: %w", err)
		}
		return nil
	})
}

func (s *AccountService) writeProviderIdentitiesCSV(ctx context.Context, zipWriter *zip.Writer, userID uuid.UUID) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, provider, created_at
		 FROM provider_identities
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("query provider identities: %w", err)
	}
	defer rows.Close()

	header := []string{
		"id",
		"user_id",
		"provider",
		"created_at",
	}

	return writeCSVFile(zipWriter, "provider_identities.csv", header, func(w *csv.Writer) error {
		for rows.Next() {
			var (
				identityID uuid.UUID
				rowUserID  uuid.UUID
				provider   string
				createdAt  time.Time
			)
			if err := rows.Scan(&identityID, &rowUserID, &provider, &createdAt); err != nil {
				return fmt.Errorf("scan provider identities: %w", err)
			}
			if err := w.Write([]string{
				identityID.String(),
				rowUserID.String(),
				provider,
				formatTimeValue(createdAt),
			}); err != nil {
				return fmt.Errorf("write provider identities row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate provider identities: %w", err)
		}
		return nil
	})
}

func (s *AccountService) writeSessionsCSV(ctx context.Context, zipWriter *zip.Writer, userID uuid.UUID) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	header := []string{
		"id",
		"user_id",
		"expires_at",
		"created_at",
	}

	return writeCSVFile(zipWriter, "sessions.csv", header, func(w *csv.Writer) error {
		for rows.Next() {
			var (
				sessionID uuid.UUID
				rowUserID uuid.UUID
				expiresAt time.Time
				createdAt time.Time
			)
			if err := rows.Scan(&sessionID, &rowUserID, &expiresAt, &createdAt); err != nil {
				return fmt.Errorf("scan sessions: %w", err)
			}
			if err := w.Write([]string{
				sessionID.String(),
				rowUserID.String(),
				formatTimeValue(expiresAt),
				formatTimeValue(createdAt),
			}); err != nil {
				return fmt.Errorf("write sessions row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate sessions: %w", err)
		}
		return nil
	})
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func formatTimeValue(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func sanitizeCSVValue(value string) string {
	first := firstNonSpace(value)
	if first == 0 {
		return value
	}
	switch first {
	case '=', '+', '-', '@':
		return "'" + strings.ReplaceAll(value, "'", "''")
	default:
		return value
	}
}

func firstNonSpace(value string) rune {
	for _, r := range value {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return r
		}
	}
	return 0
}

func nullableString(value *string) string {
	if value == nil {
		return ""
	}
	return sanitizeCSVValue(*value)
}

func nullableUUID(value *uuid.UUID) string {
	if value == nil {
		return ""
	}
	return value.String()
}
