package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer creates a mailer for the given relay. Username may be empty
// for relays that accept unauthenticated submission.
func NewSMTPMailer(host string, port int, from, username, password string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
		auth: auth,
	}
}

func (m *SMTPMailer) send(recipient, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	return nil
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, recipient, userName, link string) error {
	body := fmt.Sprintf(
		"A new account for %s is awaiting review.\r\n\r\n"+
			"Approve or reject it here: %s\r\n", userName, link)
	return m.send(recipient, "New account pending verification", body)
}

func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, recipient, userName, link string) error {
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nA password reset was requested for your account.\r\n"+
			"Set a new password here: %s\r\n\r\n"+
			"If you did not request this, you can ignore this email.\r\n", userName, link)
	return m.send(recipient, "Password reset", body)
}

func (m *SMTPMailer) SendAccountApprovedEmail(ctx context.Context, recipient, userName, link string) error {
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nYour account has been approved.\r\n"+
			"Choose your password here: %s\r\n", userName, link)
	return m.send(recipient, "Your account has been approved", body)
}
