package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogMailer logs instead of sending. Used in development when no SMTP relay
// is configured.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, recipient, userName, link string) error {
	m.log.Info().
		Str("recipient", recipient).
		Str("user", userName).
		Msg("verification email (not sent: log mailer)")
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, recipient, userName, link string) error {
	m.log.Info().
		Str("recipient", recipient).
		Str("user", userName).
		Msg("password reset email (not sent: log mailer)")
	return nil
}

func (m *LogMailer) SendAccountApprovedEmail(ctx context.Context, recipient, userName, link string) error {
	m.log.Info().
		Str("recipient", recipient).
		Str("user", userName).
		Msg("account approved email (not sent: log mailer)")
	return nil
}
