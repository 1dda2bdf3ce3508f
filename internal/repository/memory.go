package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
)

// MemoryRepository is a mutex-guarded in-memory account store. It implements
// the same conditional-mutation semantics as the Postgres repository and is
// used by tests and local development.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[int]*account.Account
	nextID   int
}

// NewMemoryRepository creates an empty in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[int]*account.Account),
		nextID:   1,
	}
}

func clone(a *account.Account) *account.Account {
	c := *a
	if a.VerificationToken != nil {
		t := *a.VerificationToken
		c.VerificationToken = &t
	}
	if a.PasswordResetToken != nil {
		t := *a.PasswordResetToken
		c.PasswordResetToken = &t
	}
	if a.GoogleID != nil {
		v := *a.GoogleID
		c.GoogleID = &v
	}
	if a.ProfileImageKey != nil {
		v := *a.ProfileImageKey
		c.ProfileImageKey = &v
	}
	if a.ProfileImageFileName != nil {
		v := *a.ProfileImageFileName
		c.ProfileImageFileName = &v
	}
	if a.ProfileImageContentType != nil {
		v := *a.ProfileImageContentType
		c.ProfileImageContentType = &v
	}
	return &c
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = account.NormalizeEmail(email)
	for _, a := range r.accounts {
		if a.Email == email {
			return clone(a), nil
		}
	}
	return nil, account.ErrNotFound
}

func (r *MemoryRepository) GetByEmployeeID(ctx context.Context, employeeID string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.EmployeeID == employeeID {
			return clone(a), nil
		}
	}
	return nil, account.ErrNotFound
}

func (r *MemoryRepository) GetByGoogleID(ctx context.Context, googleID string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.GoogleID != nil && *a.GoogleID == googleID {
			return clone(a), nil
		}
	}
	return nil, account.ErrNotFound
}

// conflicts reports whether another account already claims one of the unique
// keys. Caller holds the lock.
func (r *MemoryRepository) conflicts(candidate *account.Account) bool {
	email := account.NormalizeEmail(candidate.Email)
	for id, a := range r.accounts {
		if id == candidate.ID {
			continue
		}
		if a.Email == email || a.EmployeeID == candidate.EmployeeID {
			return true
		}
		if a.GoogleID != nil && candidate.GoogleID != nil && *a.GoogleID == *candidate.GoogleID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Add(ctx context.Context, a *account.Account) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(a) {
		return nil, account.ErrDuplicate
	}

	stored := clone(a)
	stored.ID = r.nextID
	stored.Email = account.NormalizeEmail(stored.Email)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.nextID++
	r.accounts[stored.ID] = stored

	return clone(stored), nil
}

func (r *MemoryRepository) Update(ctx context.Context, a *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.accounts[a.ID]
	if !ok {
		return account.ErrNotFound
	}
	if r.conflicts(a) {
		return account.ErrDuplicate
	}

	stored := clone(a)
	stored.Email = account.NormalizeEmail(stored.Email)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	r.accounts[a.ID] = stored

	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return account.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *MemoryRepository) collect(match func(*account.Account) bool) []*account.Account {
	out := make([]*account.Account, 0)
	for _, a := range r.accounts {
		if match(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) List(ctx context.Context) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(*account.Account) bool { return true }), nil
}

func (r *MemoryRepository) ListByRole(ctx context.Context, role account.Role) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(a *account.Account) bool { return a.Role == role }), nil
}

func (r *MemoryRepository) ListPendingVerification(ctx context.Context) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(a *account.Account) bool {
		return !a.EmailVerified && a.VerificationToken != nil
	}), nil
}

func (r *MemoryRepository) Approve(ctx context.Context, id int, tokenValue string, now time.Time, reset account.Token) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok || a.VerificationToken == nil || a.VerificationToken.Value != tokenValue || a.VerificationToken.Expired(now) {
		return false, nil
	}

	a.EmailVerified = true
	a.VerificationToken = nil
	t := reset
	a.PasswordResetToken = &t
	a.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) RejectWithToken(ctx context.Context, id int, tokenValue string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok || a.VerificationToken == nil || a.VerificationToken.Value != tokenValue || a.VerificationToken.Expired(now) {
		return false, nil
	}

	delete(r.accounts, id)
	return true, nil
}

func (r *MemoryRepository) CompletePasswordReset(ctx context.Context, id int, tokenValue string, now time.Time, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok || a.PasswordResetToken == nil || a.PasswordResetToken.Value != tokenValue || a.PasswordResetToken.Expired(now) {
		return false, nil
	}

	a.PasswordHash = newHash
	a.PasswordResetToken = nil
	a.Enabled = true
	a.IsFirstLogin = false
	a.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) SetPasswordResetToken(ctx context.Context, id int, reset account.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return account.ErrNotFound
	}
	t := reset
	a.PasswordResetToken = &t
	a.UpdatedAt = time.Now()
	return nil
}
