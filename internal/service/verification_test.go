package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
)

func registerPending(t *testing.T, env *testEnv) *account.Account {
	t.Helper()
	created, err := env.accounts.Register(context.Background(), validRegisterRequest())
	require.NoError(t, err)
	return created
}

func TestVerifyApprove(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	before := time.Now()
	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	require.True(t, ok)

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, a.EmailVerified)
	assert.Nil(t, a.VerificationToken)

	require.NotNil(t, a.PasswordResetToken)
	wantExpiry := before.Add(7 * 24 * time.Hour)
	assert.WithinDuration(t, wantExpiry, a.PasswordResetToken.ExpiresAt, 5*time.Second)

	// The owner is told, with a link carrying the fresh reset token.
	approved := env.mailer.byKind("approved")
	require.Len(t, approved, 1)
	assert.Equal(t, created.Email, approved[0].recipient)
	assert.Contains(t, approved[0].link, a.PasswordResetToken.Value)
}

func TestVerifyApproveTokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyApproveWrongToken(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, "deadbeefdeadbeefdeadbeefdeadbeef", true)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, a.EmailVerified)
	assert.NotNil(t, a.VerificationToken)
}

func TestVerifyApproveExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	created.VerificationToken.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, env.repo.Update(context.Background(), created))

	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyReject(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, false)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.repo.GetByID(context.Background(), created.ID)
	assertErrIs(t, err, account.ErrNotFound)
}

func TestVerifyRejectWrongToken(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, "deadbeefdeadbeefdeadbeefdeadbeef", false)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.repo.GetByID(context.Background(), created.ID)
	assert.NoError(t, err)
}

func TestRequestReset(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	before := time.Now()
	require.NoError(t, env.verify.RequestReset(context.Background(), "Nadia.Haddad@Example.com"))

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, a.PasswordResetToken)
	assert.WithinDuration(t, before.Add(24*time.Hour), a.PasswordResetToken.ExpiresAt, 5*time.Second)

	resets := env.mailer.byKind("reset")
	require.Len(t, resets, 1)
	assert.Equal(t, created.Email, resets[0].recipient)
	assert.Contains(t, resets[0].link, a.PasswordResetToken.Value)
}

func TestRequestResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	// Unknown emails succeed silently with no side effect, so the endpoint
	// cannot be used to probe which addresses are registered.
	require.NoError(t, env.verify.RequestReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, env.mailer.sent)
}

func TestRequestResetMailerFailure(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)
	env.mailer.failFor[created.Email] = true

	require.NoError(t, env.verify.RequestReset(context.Background(), created.Email))

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotNil(t, a.PasswordResetToken)
}

func TestCompleteReset(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	require.True(t, ok)

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	oldHash := a.PasswordHash

	ok, err = env.verify.CompleteReset(context.Background(), created.ID, a.PasswordResetToken.Value, "s3cret-pass")
	require.NoError(t, err)
	require.True(t, ok)

	a, err = env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, a.PasswordResetToken)
	assert.True(t, a.Enabled)
	assert.False(t, a.IsFirstLogin)
	assert.NotEqual(t, oldHash, a.PasswordHash)
}

func TestCompleteResetTokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	ok, err := env.verify.Verify(context.Background(), created.ID, created.VerificationToken.Value, true)
	require.NoError(t, err)
	require.True(t, ok)

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	tokenValue := a.PasswordResetToken.Value

	ok, err = env.verify.CompleteReset(context.Background(), created.ID, tokenValue, "s3cret-pass")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.verify.CompleteReset(context.Background(), created.ID, tokenValue, "another-pass")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteResetExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	created.PasswordResetToken = &account.Token{
		Value:     "deadbeefdeadbeefdeadbeefdeadbeef",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, env.repo.Update(context.Background(), created))
	oldHash := created.PasswordHash

	ok, err := env.verify.CompleteReset(context.Background(), created.ID, "deadbeefdeadbeefdeadbeefdeadbeef", "s3cret-pass")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, oldHash, a.PasswordHash)
}

func TestCompleteResetShortPassword(t *testing.T) {
	env := newTestEnv(t)
	created := registerPending(t, env)

	_, err := env.verify.CompleteReset(context.Background(), created.ID, "whatever", "short")
	assertErrIs(t, err, ErrValidation)
}
