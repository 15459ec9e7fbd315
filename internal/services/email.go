package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"

	"github.com/HammerMeetNail/tastemate/internal/logging"
)

// EmailServiceInterface is the notification layer's view of email delivery.
type EmailServiceInterface interface {
	SendFriendRequestAccepted(ctx context.Context, recipientID uuid.UUID, actorUsername string) error
}

type emailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// EmailService resolves a recipient's address and hands the rendered
// message to a provider. The "console" provider just logs, which keeps
// local development free of API keys.
type EmailService struct {
	db      DBConn
	sender  emailSender
	baseURL string
}

func NewEmailService(db DBConn, provider, apiKey, from, baseURL string) *EmailService {
	var sender emailSender
	if provider == "resend" && apiKey != "" {
		sender = &resendSender{client: resend.NewClient(apiKey), from: from}
	} else {
		sender = consoleSender{}
	}
	return &EmailService{db: db, sender: sender, baseURL: baseURL}
}

func (s *EmailService) SendFriendRequestAccepted(ctx context.Context, recipientID uuid.UUID, actorUsername string) error {
	var email string
	if err := s.db.QueryRow(ctx, "SELECT email FROM users WHERE id = $1", recipientID).Scan(&email); err != nil {
		return fmt.Errorf("looking up recipient email: %w", err)
	}

	subject, htmlBody, textBody := buildFriendAcceptedEmail(actorUsername, s.baseURL)
	return s.sender.Send(ctx, email, subject, htmlBody, textBody)
}

func buildFriendAcceptedEmail(actorUsername, baseURL string) (string, string, string) {
	safeUsername := templateEscape(actorUsername)
	friendsURL := fmt.Sprintf("%s/#friends", baseURL)
	safeFriendsURL := templateEscape(friendsURL)

	subject := sanitizeSubject(fmt.Sprintf("%s accepted your friend request", actorUsername))

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 640px; margin: 0 auto; padding: 24px;">
  <h1 style="color: #333; font-size: 24px;">Tastemate</h1>
  <p style="font-size: 16px;"><strong>%s</strong> accepted your friend request. You can now share recommendations with each other.</p>
  <p>
    <a href="%s" style="display: inline-block; background: #5b4b8a; color: white; padding: 10px 18px; text-decoration: none; border-radius: 6px; margin: 12px 0;">See your friends</a>
  </p>
  <p style="color: #999; font-size: 12px;">Tastemate</p>
</body>
</html>`,
		safeUsername,
		safeFriendsURL,
	)

	textBody := fmt.Sprintf(`%s accepted your friend request. You can now share recommendations with each other.

See your friends: %s

--
Tastemate`,
		actorUsername,
		friendsURL,
	)

	return subject, htmlBody, textBody
}

func sanitizeSubject(subject string) string {
	cleaned := strings.ReplaceAll(subject, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 120 {
		cleaned = cleaned[:117] + "..."
	}
	return cleaned
}

func templateEscape(s string) string {
	return html.EscapeString(s)
}

type resendSender struct {
	client *resend.Client
	from   string
}

func (r *resendSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
		Text:    textBody,
	})
	if err != nil {
		return fmt.Errorf("sending email via resend: %w", err)
	}
	return nil
}

type consoleSender struct{}

func (consoleSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	logging.Info("Email (console provider)", map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    textBody,
	})
	return nil
}
