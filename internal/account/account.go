// Package account defines the account entity, its closed role enumeration and
// the storage contract the lifecycle services are written against.
package account

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("account already exists")
)

// Role is the closed set of roles an account can hold.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleUser     Role = "User"
	RoleManager  Role = "Manager"
	RoleAssocier Role = "Associer"
	RoleEmploye  Role = "Employe"
)

var roles = map[Role]bool{
	RoleAdmin:    true,
	RoleUser:     true,
	RoleManager:  true,
	RoleAssocier: true,
	RoleEmploye:  true,
}

// ParseRole resolves a role name, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !roles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role is one of the five known values.
func (r Role) Valid() bool {
	return roles[r]
}

func (r Role) String() string {
	return string(r)
}

// Token is a single-use opaque token with its expiry. A cleared token is a
// nil *Token on the account, never an empty value.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has passed at the given instant.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Account is the sole entity of the lifecycle core.
type Account struct {
	ID         int
	EmployeeID string
	Name       string
	Surname    string
	Email      string

	PasswordHash string
	Role         Role

	Enabled       bool
	EmailVerified bool
	IsFirstLogin  bool

	VerificationToken  *Token
	PasswordResetToken *Token

	GoogleID *string
	GPN      string

	ProfileImageKey         *string
	ProfileImageFileName    *string
	ProfileImageContentType *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName returns the display name used in notification emails.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.Name + " " + a.Surname)
}

// NormalizeEmail canonicalizes an email address for storage and lookup.
// Every write and every lookup goes through this, which is what makes the
// uniqueness invariant case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
