package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/identity"
	"github.com/lmatoussi/ey-expense-manager/pkg/jwt"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
	"github.com/lmatoussi/ey-expense-manager/pkg/token"
)

// AuthService authenticates accounts with local credentials or a federated
// Google identity and issues signed session tokens.
type AuthService struct {
	repo      account.Repository
	hasher    *password.Hasher
	sessions  *jwt.Manager
	validator identity.Validator
	log       zerolog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	repo account.Repository,
	hasher *password.Hasher,
	sessions *jwt.Manager,
	validator identity.Validator,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		repo:      repo,
		hasher:    hasher,
		sessions:  sessions,
		validator: validator,
		log:       log,
	}
}

// AuthResult is the outcome of a successful credential check. When
// PasswordChangeRequired is set the caller gets a reset token instead of a
// session: the account cannot act until its owner picks a real password.
type AuthResult struct {
	Account                *account.Account
	SessionToken           string
	PasswordChangeRequired bool
	PasswordResetToken     string
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords fail identically so callers cannot tell which one it was.
func (s *AuthService) Authenticate(ctx context.Context, email, pass string) (*AuthResult, error) {
	email = account.NormalizeEmail(email)

	a, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	ok, err := s.hasher.Verify(pass, a.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !a.Enabled {
		return nil, ErrAccountNotActivated
	}

	if a.IsFirstLogin {
		// No session until the owner sets a real password. A fresh reset
		// token is issued here so the forced change works even when the
		// approval-time token has expired.
		resetValue, err := token.New()
		if err != nil {
			return nil, err
		}
		reset := account.Token{
			Value:     resetValue,
			ExpiresAt: time.Now().Add(resetTokenTTL),
		}
		if err := s.repo.SetPasswordResetToken(ctx, a.ID, reset); err != nil {
			return nil, fmt.Errorf("failed to store reset token: %w", err)
		}

		s.log.Info().Int("account_id", a.ID).Msg("First login, password change required")
		return &AuthResult{
			Account:                a,
			PasswordChangeRequired: true,
			PasswordResetToken:     resetValue,
		}, nil
	}

	session, err := s.sessions.Generate(a.ID, a.Email, a.Role.String())
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("account_id", a.ID).Msg("Account authenticated")
	return &AuthResult{Account: a, SessionToken: session}, nil
}

// AuthenticateWithGoogle exchanges a Google ID token for a session. A first
// federated login provisions the account on the spot: enabled, verified and
// past the forced password change, because the identity provider already
// vouched for the email.
func (s *AuthService) AuthenticateWithGoogle(ctx context.Context, idToken string) (*AuthResult, error) {
	payload, err := s.validator.Validate(ctx, idToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenRejected) ||
			errors.Is(err, identity.ErrWrongAudience) ||
			errors.Is(err, identity.ErrTokenExpired) ||
			errors.Is(err, identity.ErrEmailUnverified) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	email := account.NormalizeEmail(payload.Email)

	// Returning users resolve by their federated link; the email lookup
	// catches accounts that registered locally before their first Google
	// login.
	a, err := s.repo.GetByGoogleID(ctx, payload.Subject)
	if errors.Is(err, account.ErrNotFound) {
		a, err = s.repo.GetByEmail(ctx, email)
	}
	switch {
	case errors.Is(err, account.ErrNotFound):
		a, err = s.provision(ctx, payload, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up account: %w", err)
	default:
		// The provider vouched for the email, so the admin gate and the
		// enabled flag do not apply here; a pending local account still
		// logs in.
		if a.GoogleID == nil {
			subject := payload.Subject
			a.GoogleID = &subject
			if err := s.repo.Update(ctx, a); err != nil {
				return nil, fmt.Errorf("failed to link google identity: %w", err)
			}
		}
	}

	session, err := s.sessions.Generate(a.ID, a.Email, a.Role.String())
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("account_id", a.ID).Msg("Account authenticated via Google")
	return &AuthResult{Account: a, SessionToken: session}, nil
}

// provision creates an account for a first-time federated login. A duplicate
// error means a concurrent login already provisioned it; refetch and use that
// one.
func (s *AuthService) provision(ctx context.Context, payload *identity.Payload, email string) (*account.Account, error) {
	throwaway, err := token.RandomPassword(throwawayPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(throwaway)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	employeeID := payload.Subject
	if len(employeeID) > 50 {
		employeeID = employeeID[:50]
	}
	subject := payload.Subject

	a := &account.Account{
		EmployeeID:    employeeID,
		Name:          payload.GivenName,
		Surname:       payload.FamilyName,
		Email:         email,
		PasswordHash:  hash,
		Role:          account.RoleUser,
		Enabled:       true,
		EmailVerified: true,
		IsFirstLogin:  false,
		GoogleID:      &subject,
	}

	created, err := s.repo.Add(ctx, a)
	if errors.Is(err, account.ErrDuplicate) {
		existing, ferr := s.repo.GetByEmail(ctx, email)
		if ferr != nil {
			return nil, fmt.Errorf("failed to load concurrently provisioned account: %w", ferr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	s.log.Info().Int("account_id", created.ID).Msg("Account provisioned from Google identity")
	return created, nil
}
