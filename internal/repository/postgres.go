// Package repository provides the Postgres implementation of the account
// store, plus an in-memory implementation used by tests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
)

const uniqueViolation = "23505"

const accountColumns = `
	id, employee_id, name, surname, email, password_hash, role,
	enabled, email_verified, is_first_login,
	verification_token, verification_token_expiry,
	password_reset_token, password_reset_token_expiry,
	google_id, gpn,
	profile_image_key, profile_image_file_name, profile_image_content_type,
	created_at, updated_at`

// PostgresRepository stores accounts in Postgres.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new account repository backed by the pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	a := &account.Account{}

	var (
		verificationToken  *string
		verificationExpiry *time.Time
		resetToken         *string
		resetExpiry        *time.Time
		role               string
	)

	err := row.Scan(
		&a.ID, &a.EmployeeID, &a.Name, &a.Surname, &a.Email, &a.PasswordHash, &role,
		&a.Enabled, &a.EmailVerified, &a.IsFirstLogin,
		&verificationToken, &verificationExpiry,
		&resetToken, &resetExpiry,
		&a.GoogleID, &a.GPN,
		&a.ProfileImageKey, &a.ProfileImageFileName, &a.ProfileImageContentType,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.Role = account.Role(role)
	if verificationToken != nil && verificationExpiry != nil {
		a.VerificationToken = &account.Token{Value: *verificationToken, ExpiresAt: *verificationExpiry}
	}
	if resetToken != nil && resetExpiry != nil {
		a.PasswordResetToken = &account.Token{Value: *resetToken, ExpiresAt: *resetExpiry}
	}

	return a, nil
}

func tokenColumns(t *account.Token) (*string, *time.Time) {
	if t == nil {
		return nil, nil
	}
	return &t.Value, &t.ExpiresAt
}

// GetByID retrieves an account by its numeric id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves an account by normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRow(ctx, query, account.NormalizeEmail(email)))
}

// GetByEmployeeID retrieves an account by its external-facing id.
func (r *PostgresRepository) GetByEmployeeID(ctx context.Context, employeeID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE employee_id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, employeeID))
}

// GetByGoogleID retrieves an account by its federated subject id.
func (r *PostgresRepository) GetByGoogleID(ctx context.Context, googleID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE google_id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, googleID))
}

// Add inserts a new account. Duplicate email, employee id or google id
// surfaces as account.ErrDuplicate.
func (r *PostgresRepository) Add(ctx context.Context, a *account.Account) (*account.Account, error) {
	verTok, verExp := tokenColumns(a.VerificationToken)
	resTok, resExp := tokenColumns(a.PasswordResetToken)

	query := `
		INSERT INTO accounts (
			employee_id, name, surname, email, password_hash, role,
			enabled, email_verified, is_first_login,
			verification_token, verification_token_expiry,
			password_reset_token, password_reset_token_expiry,
			google_id, gpn,
			profile_image_key, profile_image_file_name, profile_image_content_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.EmployeeID, a.Name, a.Surname, account.NormalizeEmail(a.Email), a.PasswordHash, a.Role.String(),
		a.Enabled, a.EmailVerified, a.IsFirstLogin,
		verTok, verExp,
		resTok, resExp,
		a.GoogleID, a.GPN,
		a.ProfileImageKey, a.ProfileImageFileName, a.ProfileImageContentType,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, account.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return a, nil
}

// Update persists the mutable fields of an account.
func (r *PostgresRepository) Update(ctx context.Context, a *account.Account) error {
	verTok, verExp := tokenColumns(a.VerificationToken)
	resTok, resExp := tokenColumns(a.PasswordResetToken)

	query := `
		UPDATE accounts
		SET employee_id = $2, name = $3, surname = $4, email = $5,
		    password_hash = $6, role = $7,
		    enabled = $8, email_verified = $9, is_first_login = $10,
		    verification_token = $11, verification_token_expiry = $12,
		    password_reset_token = $13, password_reset_token_expiry = $14,
		    google_id = $15, gpn = $16,
		    profile_image_key = $17, profile_image_file_name = $18, profile_image_content_type = $19,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.EmployeeID, a.Name, a.Surname, account.NormalizeEmail(a.Email),
		a.PasswordHash, a.Role.String(),
		a.Enabled, a.EmailVerified, a.IsFirstLogin,
		verTok, verExp,
		resTok, resExp,
		a.GoogleID, a.GPN,
		a.ProfileImageKey, a.ProfileImageFileName, a.ProfileImageContentType,
	).Scan(&a.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return account.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return account.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	return nil
}

// Delete removes an account.
func (r *PostgresRepository) Delete(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*account.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, nil
}

// List retrieves all accounts.
func (r *PostgresRepository) List(ctx context.Context) ([]*account.Account, error) {
	return r.list(ctx, `SELECT`+accountColumns+` FROM accounts ORDER BY id`)
}

// ListByRole retrieves all accounts holding the given role.
func (r *PostgresRepository) ListByRole(ctx context.Context, role account.Role) ([]*account.Account, error) {
	return r.list(ctx, `SELECT`+accountColumns+` FROM accounts WHERE role = $1 ORDER BY id`, role.String())
}

// ListPendingVerification retrieves accounts still awaiting admin review.
func (r *PostgresRepository) ListPendingVerification(ctx context.Context) ([]*account.Account, error) {
	return r.list(ctx, `SELECT`+accountColumns+` FROM accounts
		WHERE email_verified = FALSE AND verification_token IS NOT NULL ORDER BY id`)
}

// Approve consumes a live verification token in a single conditional update,
// so two racing approvals cannot both succeed.
func (r *PostgresRepository) Approve(ctx context.Context, id int, tokenValue string, now time.Time, reset account.Token) (bool, error) {
	query := `
		UPDATE accounts
		SET email_verified = TRUE,
		    verification_token = NULL, verification_token_expiry = NULL,
		    password_reset_token = $4, password_reset_token_expiry = $5,
		    updated_at = NOW()
		WHERE id = $1 AND verification_token = $2 AND verification_token_expiry > $3
	`

	tag, err := r.db.Exec(ctx, query, id, tokenValue, now, reset.Value, reset.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to approve account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RejectWithToken deletes the account, keyed on a live verification token.
func (r *PostgresRepository) RejectWithToken(ctx context.Context, id int, tokenValue string, now time.Time) (bool, error) {
	query := `
		DELETE FROM accounts
		WHERE id = $1 AND verification_token = $2 AND verification_token_expiry > $3
	`

	tag, err := r.db.Exec(ctx, query, id, tokenValue, now)
	if err != nil {
		return false, fmt.Errorf("failed to reject account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompletePasswordReset consumes a live reset token in a single conditional
// update.
func (r *PostgresRepository) CompletePasswordReset(ctx context.Context, id int, tokenValue string, now time.Time, newHash string) (bool, error) {
	query := `
		UPDATE accounts
		SET password_hash = $4,
		    password_reset_token = NULL, password_reset_token_expiry = NULL,
		    enabled = TRUE, is_first_login = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND password_reset_token = $2 AND password_reset_token_expiry > $3
	`

	tag, err := r.db.Exec(ctx, query, id, tokenValue, now, newHash)
	if err != nil {
		return false, fmt.Errorf("failed to complete password reset: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPasswordResetToken overwrites the reset token unconditionally.
func (r *PostgresRepository) SetPasswordResetToken(ctx context.Context, id int, reset account.Token) error {
	query := `
		UPDATE accounts
		SET password_reset_token = $2, password_reset_token_expiry = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, reset.Value, reset.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}
