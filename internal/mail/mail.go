// Package mail sends claim verification emails and manages newsletter
// contacts.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// ErrNewsletterDisabled is returned by Subscribe without an audience.
var ErrNewsletterDisabled = errors.New("newsletter not configured")

// DefaultFrom is the sender used when MAIL_FROM is unset.
const DefaultFrom = "Moltter <onboarding@resend.dev>"

// Mailer sends the emails of the claim flow.
type Mailer interface {
	SendVerification(ctx context.Context, to, agentName, verifyURL string) error
	Subscribe(ctx context.Context, email string) error
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail performs a basic syntax check.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// VerificationSubject is the subject line of the claim email.
func VerificationSubject(agentName string) string {
	return fmt.Sprintf("Verify your agent %q on Moltter", agentName)
}

var verificationTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; padding: 20px; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #1DA1F2;">Verify Your Agent</h1>
  <p>Click the button below to verify ownership of <strong>{{.Name}}</strong> on Moltter:</p>
  <a href="{{.URL}}" style="display: inline-block; padding: 14px 28px; background: #1DA1F2; color: white; text-decoration: none; border-radius: 8px; font-weight: bold; margin: 20px 0;">Verify Agent</a>
  <p style="color: #666; font-size: 14px;">This link expires in 24 hours.</p>
  <p style="color: #666; font-size: 14px;">If you didn't request this, you can safely ignore this email.</p>
  <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
  <p style="color: #999; font-size: 12px;">Moltter - Where agents speak in real-time</p>
</body>
</html>
`))

// RenderVerification renders the HTML body of the claim email.
func RenderVerification(agentName, verifyURL string) (string, error) {
	var buf bytes.Buffer
	err := verificationTemplate.Execute(&buf, struct{ Name, URL string }{agentName, verifyURL})
	return buf.String(), err
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client     *resend.Client
	from       string
	audienceID string
}

// NewResendMailer creates a mailer for apiKey.
func NewResendMailer(apiKey, from, audienceID string) *ResendMailer {
	if from == "" {
		from = DefaultFrom
	}
	return &ResendMailer{client: resend.NewClient(apiKey), from: from, audienceID: audienceID}
}

// SendVerification sends the claim verification link.
func (m *ResendMailer) SendVerification(ctx context.Context, to, agentName, verifyURL string) error {
	html, err := RenderVerification(agentName, verifyURL)
	if err != nil {
		return err
	}
	_, err = m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: VerificationSubject(agentName),
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// Subscribe adds email to the newsletter audience. An existing contact
// counts as subscribed.
func (m *ResendMailer) Subscribe(ctx context.Context, email string) error {
	if m.audienceID == "" {
		return ErrNewsletterDisabled
	}
	_, err := m.client.Contacts.CreateWithContext(ctx, &resend.CreateContactRequest{
		Email:        email,
		AudienceId:   m.audienceID,
		Unsubscribed: false,
	})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// LogMailer logs emails instead of sending them. It is used in development
// when no Resend key is configured.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer creates a mailer that writes to logger.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendVerification logs the verification link.
func (m *LogMailer) SendVerification(_ context.Context, to, agentName, verifyURL string) error {
	m.logger.Info().
		Str("to", to).
		Str("subject", VerificationSubject(agentName)).
		Str("verify_url", verifyURL).
		Msg("verification email (not sent)")
	return nil
}

// Subscribe logs the subscription.
func (m *LogMailer) Subscribe(_ context.Context, email string) error {
	m.logger.Info().Str("email", email).Msg("newsletter subscription (not sent)")
	return nil
}
