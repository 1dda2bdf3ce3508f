package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/repository"
	"github.com/lmatoussi/ey-expense-manager/internal/storage"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
)

// testHasher uses deliberately weak argon2 parameters to keep the suite fast.
func testHasher() *password.Hasher {
	return password.NewHasher(&password.Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
}

type sentEmail struct {
	kind      string
	recipient string
	userName  string
	link      string
}

// fakeMailer records every send and can be told to fail for specific
// recipients.
type fakeMailer struct {
	sent    []sentEmail
	failFor map[string]bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: make(map[string]bool)}
}

func (m *fakeMailer) send(kind, recipient, userName, link string) error {
	if m.failFor[recipient] {
		return fmt.Errorf("smtp refused %s", recipient)
	}
	m.sent = append(m.sent, sentEmail{kind: kind, recipient: recipient, userName: userName, link: link})
	return nil
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, recipient, userName, link string) error {
	return m.send("verification", recipient, userName, link)
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, recipient, userName, link string) error {
	return m.send("reset", recipient, userName, link)
}

func (m *fakeMailer) SendAccountApprovedEmail(_ context.Context, recipient, userName, link string) error {
	return m.send("approved", recipient, userName, link)
}

func (m *fakeMailer) byKind(kind string) []sentEmail {
	var out []sentEmail
	for _, e := range m.sent {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	repo     *repository.MemoryRepository
	mailer   *fakeMailer
	images   *storage.MemoryStore
	accounts *AccountService
	verify   *VerificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := repository.NewMemoryRepository()
	m := newFakeMailer()
	images := storage.NewMemoryStore()
	hasher := testHasher()
	log := zerolog.Nop()

	return &testEnv{
		repo:     repo,
		mailer:   m,
		images:   images,
		accounts: NewAccountService(repo, hasher, m, images, "https://expenses.example.com", log),
		verify:   NewVerificationService(repo, hasher, m, "https://expenses.example.com", log),
	}
}

// seedAdmin inserts an enabled admin so registration fan-out has a recipient.
func (e *testEnv) seedAdmin(t *testing.T, email string) *account.Account {
	t.Helper()

	hash, err := testHasher().Hash("admin-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	a, err := e.repo.Add(context.Background(), &account.Account{
		EmployeeID:    "admin-" + email,
		Name:          "Ada",
		Surname:       "Admin",
		Email:         email,
		PasswordHash:  hash,
		Role:          account.RoleAdmin,
		Enabled:       true,
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return a
}

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}
