package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/mailer"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
	"github.com/lmatoussi/ey-expense-manager/pkg/token"
)

// VerificationService handles the admin approval gate and the password reset
// flow. Both revolve around single-use tokens: the repository consumes them
// with conditional mutations, so concurrent attempts cannot both succeed.
type VerificationService struct {
	repo    account.Repository
	hasher  *password.Hasher
	mailer  mailer.Mailer
	baseURL string
	log     zerolog.Logger
}

// NewVerificationService creates a new verification service.
func NewVerificationService(
	repo account.Repository,
	hasher *password.Hasher,
	m mailer.Mailer,
	baseURL string,
	log zerolog.Logger,
) *VerificationService {
	return &VerificationService{
		repo:    repo,
		hasher:  hasher,
		mailer:  m,
		baseURL: baseURL,
		log:     log,
	}
}

// Verify settles a pending registration. Approval marks the account verified,
// consumes the verification token and issues a 7-day password reset token so
// the owner can pick a real password; the account only becomes enabled once
// that reset completes. Rejection deletes the account. Either way the
// verification token is spent exactly once: the returned bool is false when
// the token was already used, expired or never matched.
func (s *VerificationService) Verify(ctx context.Context, id int, tokenValue string, approve bool) (bool, error) {
	now := time.Now()

	if !approve {
		ok, err := s.repo.RejectWithToken(ctx, id, tokenValue, now)
		if err != nil {
			return false, fmt.Errorf("failed to reject account: %w", err)
		}
		if ok {
			s.log.Info().Int("account_id", id).Msg("Account registration rejected")
		}
		return ok, nil
	}

	resetValue, err := token.New()
	if err != nil {
		return false, err
	}
	reset := account.Token{
		Value:     resetValue,
		ExpiresAt: now.Add(approvalResetTokenTTL),
	}

	ok, err := s.repo.Approve(ctx, id, tokenValue, now, reset)
	if err != nil {
		return false, fmt.Errorf("failed to approve account: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.log.Info().Int("account_id", id).Msg("Account registration approved")

	// The approval is already committed; a notification failure must not
	// undo or mask it.
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Int("account_id", id).Msg("Failed to load account for approval email")
		return true, nil
	}
	link := resetLink(s.baseURL, resetValue, id)
	if err := s.mailer.SendAccountApprovedEmail(ctx, a.Email, a.FullName(), link); err != nil {
		s.log.Error().Err(err).Int("account_id", id).Msg("Failed to send approval email")
	}
	return true, nil
}

// RequestReset starts a password reset for the account owning the email. It
// returns nil whether or not the account exists so callers cannot probe which
// emails are registered.
func (s *VerificationService) RequestReset(ctx context.Context, email string) error {
	email = account.NormalizeEmail(email)

	a, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}

	resetValue, err := token.New()
	if err != nil {
		return err
	}
	reset := account.Token{
		Value:     resetValue,
		ExpiresAt: time.Now().Add(resetTokenTTL),
	}
	if err := s.repo.SetPasswordResetToken(ctx, a.ID, reset); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	link := resetLink(s.baseURL, resetValue, a.ID)
	if err := s.mailer.SendPasswordResetEmail(ctx, a.Email, a.FullName(), link); err != nil {
		s.log.Error().Err(err).Int("account_id", a.ID).Msg("Failed to send password reset email")
	}
	return nil
}

// CompleteReset sets a new password in exchange for a live reset token. The
// token is consumed and the first-login flag cleared in the same conditional
// write; a stale or mismatched token changes nothing and returns false.
func (s *VerificationService) CompleteReset(ctx context.Context, id int, tokenValue, newPassword string) (bool, error) {
	if len(newPassword) < 6 {
		return false, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	ok, err := s.repo.CompletePasswordReset(ctx, id, tokenValue, time.Now(), hash)
	if err != nil {
		return false, fmt.Errorf("failed to reset password: %w", err)
	}
	if ok {
		s.log.Info().Int("account_id", id).Msg("Password reset completed")
	}
	return ok, nil
}
