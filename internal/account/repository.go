package account

import (
	"context"
	"time"
)

// Repository is the persistence contract for accounts.
//
// The three conditional mutations (Approve, RejectWithToken,
// CompletePasswordReset) match the stored token value and its expiry inside a
// single atomic statement and report whether a row was hit. That is what
// keeps single-use tokens single-use when two calls race on the same token:
// at most one of them observes a match.
type Repository interface {
	GetByID(ctx context.Context, id int) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmployeeID(ctx context.Context, employeeID string) (*Account, error)
	GetByGoogleID(ctx context.Context, googleID string) (*Account, error)

	Add(ctx context.Context, a *Account) (*Account, error)
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id int) error

	List(ctx context.Context) ([]*Account, error)
	ListByRole(ctx context.Context, role Role) ([]*Account, error)
	ListPendingVerification(ctx context.Context) ([]*Account, error)

	// Approve consumes a live verification token: it marks the email
	// verified, clears the verification token and installs the given reset
	// token, all keyed on the current token value.
	Approve(ctx context.Context, id int, tokenValue string, now time.Time, reset Token) (bool, error)

	// RejectWithToken deletes the account, keyed on a live verification token.
	RejectWithToken(ctx context.Context, id int, tokenValue string, now time.Time) (bool, error)

	// CompletePasswordReset consumes a live reset token: it stores the new
	// password hash, clears the reset token, enables the account and ends the
	// first-login state.
	CompletePasswordReset(ctx context.Context, id int, tokenValue string, now time.Time, newHash string) (bool, error)

	// SetPasswordResetToken overwrites the reset token unconditionally, used
	// when a new reset cycle is issued.
	SetPasswordResetToken(ctx context.Context, id int, reset Token) error
}
