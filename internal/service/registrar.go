package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/mailer"
	"github.com/lmatoussi/ey-expense-manager/internal/storage"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
	"github.com/lmatoussi/ey-expense-manager/pkg/token"
)

// AccountService creates and manages accounts. New registrations start
// disabled and unverified; an administrator has to approve them before the
// owner can set a password and log in.
type AccountService struct {
	repo    account.Repository
	hasher  *password.Hasher
	mailer  mailer.Mailer
	images  storage.ImageStore
	baseURL string
	log     zerolog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(
	repo account.Repository,
	hasher *password.Hasher,
	m mailer.Mailer,
	images storage.ImageStore,
	baseURL string,
	log zerolog.Logger,
) *AccountService {
	return &AccountService{
		repo:    repo,
		hasher:  hasher,
		mailer:  m,
		images:  images,
		baseURL: baseURL,
		log:     log,
	}
}

// ImageUpload carries an uploaded profile image.
type ImageUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// RegisterRequest is the draft for a new account.
type RegisterRequest struct {
	EmployeeID string
	Name       string
	Surname    string
	Email      string
	Role       string
	GPN        string

	// Image is an optional profile image stored alongside the account.
	Image *ImageUpload
}

func (r *RegisterRequest) validate() (account.Role, error) {
	if r.EmployeeID == "" || len(r.EmployeeID) > 50 {
		return "", fmt.Errorf("%w: employee id required, at most 50 characters", ErrValidation)
	}
	if r.Name == "" || r.Surname == "" {
		return "", fmt.Errorf("%w: name and surname required", ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return "", fmt.Errorf("%w: malformed email", ErrValidation)
	}
	role, err := account.ParseRole(r.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return role, nil
}

// Register creates a pending account and notifies every administrator. The
// account gets a throwaway password hash (the plaintext is discarded), stays
// disabled until approved, and carries a verification token for 48 hours.
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*account.Account, error) {
	req.Email = account.NormalizeEmail(req.Email)

	role, err := req.validate()
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("%w: email", ErrConflict)
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	if _, err := s.repo.GetByEmployeeID(ctx, req.EmployeeID); err == nil {
		return nil, fmt.Errorf("%w: employee id", ErrConflict)
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("failed to check employee id: %w", err)
	}

	// The account is unusable until the reset flow sets a real password;
	// hashing a random throwaway keeps the column non-empty without any
	// party knowing a working credential.
	throwaway, err := token.RandomPassword(throwawayPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(throwaway)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	verification, err := token.New()
	if err != nil {
		return nil, err
	}

	var imageKey, imageName, imageType *string
	if req.Image != nil {
		key, err := s.images.Save(ctx, req.Image.FileName, req.Image.ContentType, req.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
		}
		imageKey, imageName, imageType = &key, &req.Image.FileName, &req.Image.ContentType
	}

	a := &account.Account{
		EmployeeID:    req.EmployeeID,
		Name:          req.Name,
		Surname:       req.Surname,
		Email:         req.Email,
		PasswordHash:  hash,
		Role:          role,
		Enabled:       false,
		EmailVerified: false,
		IsFirstLogin:  true,
		GPN:           req.GPN,
		VerificationToken: &account.Token{
			Value:     verification,
			ExpiresAt: time.Now().Add(verificationTokenTTL),
		},
		ProfileImageKey:         imageKey,
		ProfileImageFileName:    imageName,
		ProfileImageContentType: imageType,
	}

	created, err := s.repo.Add(ctx, a)
	if err != nil {
		if imageKey != nil {
			if derr := s.images.Delete(ctx, *imageKey); derr != nil {
				s.log.Error().Err(derr).Msg("Failed to delete orphaned profile image")
			}
		}
		if errors.Is(err, account.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email or employee id", ErrConflict)
		}
		s.log.Error().Err(err).Msg("Failed to create account")
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.log.Info().
		Int("account_id", created.ID).
		Str("employee_id", created.EmployeeID).
		Msg("Account registered, pending verification")

	s.notifyAdmins(ctx, created)

	return created, nil
}

// notifyAdmins fans the verification request out to every admin. A failure
// for one recipient is logged and must not abort the others or the
// registration itself, which is already persisted.
func (s *AccountService) notifyAdmins(ctx context.Context, created *account.Account) {
	admins, err := s.repo.ListByRole(ctx, account.RoleAdmin)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list admins for verification fan-out")
		return
	}

	link := verificationLink(s.baseURL, created.VerificationToken.Value, created.ID)
	for _, admin := range admins {
		if err := s.mailer.SendVerificationEmail(ctx, admin.Email, created.FullName(), link); err != nil {
			s.log.Error().
				Err(err).
				Str("admin_email", admin.Email).
				Int("account_id", created.ID).
				Msg("Failed to send verification email")
		}
	}
}

// UpdateRequest carries optional field updates; nil leaves a field unchanged.
type UpdateRequest struct {
	ID         int
	EmployeeID *string
	Name       *string
	Surname    *string
	Email      *string
	Role       *string
	GPN        *string
	Password   *string
}

// Update edits an account, re-checking uniqueness when the email or employee
// id changes.
func (s *AccountService) Update(ctx context.Context, req *UpdateRequest) (*account.Account, error) {
	a, err := s.repo.GetByID(ctx, req.ID)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if req.EmployeeID != nil && *req.EmployeeID != a.EmployeeID {
		if *req.EmployeeID == "" || len(*req.EmployeeID) > 50 {
			return nil, fmt.Errorf("%w: employee id required, at most 50 characters", ErrValidation)
		}
		if _, err := s.repo.GetByEmployeeID(ctx, *req.EmployeeID); err == nil {
			return nil, fmt.Errorf("%w: employee id", ErrConflict)
		} else if !errors.Is(err, account.ErrNotFound) {
			return nil, fmt.Errorf("failed to check employee id: %w", err)
		}
		a.EmployeeID = *req.EmployeeID
	}

	if req.Email != nil {
		normalized := account.NormalizeEmail(*req.Email)
		if normalized != a.Email {
			if _, err := s.repo.GetByEmail(ctx, normalized); err == nil {
				return nil, fmt.Errorf("%w: email", ErrConflict)
			} else if !errors.Is(err, account.ErrNotFound) {
				return nil, fmt.Errorf("failed to check email: %w", err)
			}
			if _, err := mail.ParseAddress(normalized); err != nil {
				return nil, fmt.Errorf("%w: malformed email", ErrValidation)
			}
			a.Email = normalized
		}
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.Surname != nil {
		a.Surname = *req.Surname
	}
	if req.Role != nil {
		role, err := account.ParseRole(*req.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		a.Role = role
	}
	if req.GPN != nil {
		a.GPN = *req.GPN
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		a.PasswordHash = hash
	}

	if err := s.repo.Update(ctx, a); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email or employee id", ErrConflict)
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	return a, nil
}

// Delete removes an account and its stored profile image.
func (s *AccountService) Delete(ctx context.Context, id int) error {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	if a.ProfileImageKey != nil {
		if err := s.images.Delete(ctx, *a.ProfileImageKey); err != nil {
			s.log.Error().Err(err).Int("account_id", id).Msg("Failed to delete profile image")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// GetByID retrieves an account.
func (s *AccountService) GetByID(ctx context.Context, id int) (*account.Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

// GetByEmail retrieves an account by normalized email.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	a, err := s.repo.GetByEmail(ctx, account.NormalizeEmail(email))
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

// List retrieves all accounts.
func (s *AccountService) List(ctx context.Context) ([]*account.Account, error) {
	return s.repo.List(ctx)
}

// ListByRole retrieves accounts holding a role.
func (s *AccountService) ListByRole(ctx context.Context, role account.Role) ([]*account.Account, error) {
	return s.repo.ListByRole(ctx, role)
}

// ListPendingVerification retrieves the accounts awaiting admin review.
func (s *AccountService) ListPendingVerification(ctx context.Context) ([]*account.Account, error) {
	return s.repo.ListPendingVerification(ctx)
}

// SetProfileImage stores a new profile image and records its metadata,
// replacing any previous image.
func (s *AccountService) SetProfileImage(ctx context.Context, id int, fileName, contentType string, data []byte) error {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	if a.ProfileImageKey != nil {
		if err := s.images.Delete(ctx, *a.ProfileImageKey); err != nil {
			s.log.Error().Err(err).Int("account_id", id).Msg("Failed to delete previous profile image")
		}
	}

	key, err := s.images.Save(ctx, fileName, contentType, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	a.ProfileImageKey = &key
	a.ProfileImageFileName = &fileName
	a.ProfileImageContentType = &contentType

	if err := s.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// ProfileImage returns the stored image bytes and content type.
func (s *AccountService) ProfileImage(ctx context.Context, id int) ([]byte, string, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load account: %w", err)
	}
	if a.ProfileImageKey == nil {
		return nil, "", ErrNotFound
	}

	data, contentType, err := s.images.Load(ctx, *a.ProfileImageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if contentType == "" && a.ProfileImageContentType != nil {
		contentType = *a.ProfileImageContentType
	}
	return data, contentType, nil
}
