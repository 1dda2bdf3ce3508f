// Package service implements the account lifecycle: registration gated by
// admin approval, the verification and password-reset token flows, credential
// authentication with forced first-login reset, and federated login.
package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation          = errors.New("invalid input")
	ErrConflict            = errors.New("already in use")
	ErrNotFound            = errors.New("not found")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountNotActivated = errors.New("account not activated")
	ErrExternalService     = errors.New("external service failure")
)

// Token lifetimes. Fixed by design, not configuration.
const (
	// verificationTokenTTL bounds how long an admin has to review a
	// registration.
	verificationTokenTTL = 48 * time.Hour

	// resetTokenTTL applies to user-requested and first-login resets.
	resetTokenTTL = 24 * time.Hour

	// approvalResetTokenTTL gives a freshly approved user a week to choose
	// their first password.
	approvalResetTokenTTL = 7 * 24 * time.Hour
)

const throwawayPasswordLength = 12

func verificationLink(baseURL, tokenValue string, accountID int) string {
	return fmt.Sprintf("%s/verify-user?token=%s&userId=%d", baseURL, tokenValue, accountID)
}

func resetLink(baseURL, tokenValue string, accountID int) string {
	return fmt.Sprintf("%s/reset-password?token=%s&userId=%d", baseURL, tokenValue, accountID)
}
