// Package mailer sends the lifecycle notification emails. The Mailer
// interface is what the services depend on; callers pick the SMTP
// implementation or the log-only one used in development and tests.
package mailer

import "context"

// Mailer is the outbound email collaborator.
type Mailer interface {
	// SendVerificationEmail asks an administrator to review a pending
	// registration; the link embeds the verification token.
	SendVerificationEmail(ctx context.Context, recipient, userName, link string) error

	// SendPasswordResetEmail carries a password-reset link to the account owner.
	SendPasswordResetEmail(ctx context.Context, recipient, userName, link string) error

	// SendAccountApprovedEmail tells a user their account was approved; the
	// link lets them set their first password.
	SendAccountApprovedEmail(ctx context.Context, recipient, userName, link string) error
}
