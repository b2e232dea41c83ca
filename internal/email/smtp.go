package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/thisreply/thisreply/internal/domain"
)

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService implements EmailService using an SMTP server.
//
// Works with Mailhog for local development (no auth) and with
// authenticated SMTP relays in production.
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-backed email service.
//
// baseURL is the public URL of the application, used to build links in
// email bodies (e.g., "https://thisreply.app").
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if config.Port == 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").Parse(emailTemplates)
	if err != nil {
		return nil, fmt.Errorf("parsing email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: templates,
		logger:    logger,
	}, nil
}

// Interface compliance check
var _ EmailService = (*SMTPEmailService)(nil)

// =============================================================================
// Interface Implementation
// =============================================================================

// SendVerificationEmail sends an email verification link to a new user.
func (s *SMTPEmailService) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	const op = "SMTPEmailService.SendVerificationEmail"

	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)

	htmlBody, err := s.renderTemplate("verification", map[string]any{
		"Name":      name,
		"VerifyURL": verifyURL,
	})
	if err != nil {
		return &domain.Error{
			Code:    domain.EINTERNAL,
			Op:      op,
			Message: "Failed to render verification email.",
			Err:     err,
		}
	}

	textBody := fmt.Sprintf(
		"Hi %s,\n\nWelcome to ThisReply! Verify your email address by visiting:\n\n%s\n\nThis link expires in 24 hours.\n",
		name, verifyURL,
	)

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Verify your ThisReply email",
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// SendReferralRedeemedEmail tells a referrer their code was used.
func (s *SMTPEmailService) SendReferralRedeemedEmail(ctx context.Context, to, name string, credits int) error {
	const op = "SMTPEmailService.SendReferralRedeemedEmail"

	htmlBody, err := s.renderTemplate("referral", map[string]any{
		"Name":    name,
		"Credits": credits,
		"AppURL":  s.baseURL,
	})
	if err != nil {
		return &domain.Error{
			Code:    domain.EINTERNAL,
			Op:      op,
			Message: "Failed to render referral email.",
			Err:     err,
		}
	}

	textBody := fmt.Sprintf(
		"Hi %s,\n\nSomeone just signed up with your referral code. You earned %d bonus credits!\n\nOpen ThisReply: %s\n",
		name, credits, s.baseURL,
	)

	return s.send(ctx, Email{
		To:       to,
		Subject:  "You earned ThisReply bonus credits",
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// =============================================================================
// Sending
// =============================================================================

// send delivers an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	const op = "SMTPEmailService.send"

	if err := ctx.Err(); err != nil {
		return &domain.Error{Code: domain.EINTERNAL, Op: op, Err: err}
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	msg := s.buildMessage(email)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		s.logger.Error("failed to send email",
			slog.String("to", email.To),
			slog.String("subject", email.Subject),
			slog.String("error", err.Error()),
		)
		return &domain.Error{
			Code:    domain.EINTERNAL,
			Op:      op,
			Message: "Failed to send email.",
			Err:     err,
		}
	}

	s.logger.Info("email sent",
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
	)
	return nil
}

// buildMessage constructs a multipart/alternative MIME message with both
// plain text and HTML bodies.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	const boundary = "thisreply-boundary"

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", email.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", email.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

// renderTemplate executes a named email template.
func (s *SMTPEmailService) renderTemplate(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("executing template %q: %w", name, err)
	}
	return buf.String(), nil
}

// =============================================================================
// Templates
// =============================================================================

// emailTemplates holds the HTML bodies for all transactional emails.
const emailTemplates = `
{{define "verification"}}
<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 480px; margin: 0 auto; padding: 24px;">
  <h2>Welcome to ThisReply, {{.Name}}!</h2>
  <p>Confirm your email address to start getting reply suggestions.</p>
  <p>
    <a href="{{.VerifyURL}}" style="display: inline-block; padding: 12px 24px; background: #e11d48; color: #fff; text-decoration: none; border-radius: 8px;">
      Verify email
    </a>
  </p>
  <p style="color: #6b7280; font-size: 14px;">This link expires in 24 hours. If you didn't create an account, you can ignore this email.</p>
</body>
</html>
{{end}}

{{define "referral"}}
<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 480px; margin: 0 auto; padding: 24px;">
  <h2>Nice one, {{.Name}}!</h2>
  <p>Someone just signed up with your referral code. You earned <strong>{{.Credits}} bonus credits</strong>.</p>
  <p>
    <a href="{{.AppURL}}" style="display: inline-block; padding: 12px 24px; background: #e11d48; color: #fff; text-decoration: none; border-radius: 8px;">
      Open ThisReply
    </a>
  </p>
</body>
</html>
{{end}}
`

// =============================================================================
// No-op Email Service
// =============================================================================

// NoopEmailService discards all emails. Used in tests and when SMTP is not
// configured.
type NoopEmailService struct {
	logger *slog.Logger
}

// NewNoopEmailService creates an email service that logs instead of sending.
func NewNoopEmailService(logger *slog.Logger) *NoopEmailService {
	return &NoopEmailService{logger: logger}
}

var _ EmailService = (*NoopEmailService)(nil)

func (s *NoopEmailService) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	s.logger.Info("skipping verification email", slog.String("to", to))
	return nil
}

func (s *NoopEmailService) SendReferralRedeemedEmail(ctx context.Context, to, name string, credits int) error {
	s.logger.Info("skipping referral email", slog.String("to", to))
	return nil
}
