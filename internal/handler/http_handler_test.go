package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/identity"
	"github.com/lmatoussi/ey-expense-manager/internal/repository"
	"github.com/lmatoussi/ey-expense-manager/internal/service"
	"github.com/lmatoussi/ey-expense-manager/internal/storage"
	"github.com/lmatoussi/ey-expense-manager/pkg/jwt"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
)

type nopMailer struct{}

func (nopMailer) SendVerificationEmail(context.Context, string, string, string) error  { return nil }
func (nopMailer) SendPasswordResetEmail(context.Context, string, string, string) error { return nil }
func (nopMailer) SendAccountApprovedEmail(context.Context, string, string, string) error {
	return nil
}

type nopValidator struct{}

func (nopValidator) Validate(context.Context, string) (*identity.Payload, error) {
	return nil, identity.ErrTokenRejected
}

type testServer struct {
	srv      *httptest.Server
	repo     *repository.MemoryRepository
	sessions *jwt.Manager
	hasher   *password.Hasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := repository.NewMemoryRepository()
	hasher := password.NewHasher(&password.Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	sessions := jwt.NewManager("test-secret", time.Hour)
	log := zerolog.Nop()
	images := storage.NewMemoryStore()

	accounts := service.NewAccountService(repo, hasher, nopMailer{}, images, "https://app.example.com", log)
	verify := service.NewVerificationService(repo, hasher, nopMailer{}, "https://app.example.com", log)
	auth := service.NewAuthService(repo, hasher, sessions, nopValidator{}, log)

	h := New(accounts, verify, auth, sessions, log)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, repo: repo, sessions: sessions, hasher: hasher}
}

func (s *testServer) seedAccount(t *testing.T, role account.Role, pass string) *account.Account {
	t.Helper()

	hash, err := s.hasher.Hash(pass)
	require.NoError(t, err)
	a, err := s.repo.Add(context.Background(), &account.Account{
		EmployeeID:    fmt.Sprintf("EMP-%s-%d", role, time.Now().UnixNano()),
		Name:          "Seed",
		Surname:       string(role),
		Email:         fmt.Sprintf("%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash:  hash,
		Role:          role,
		Enabled:       true,
		EmailVerified: true,
	})
	require.NoError(t, err)
	return a
}

func (s *testServer) tokenFor(t *testing.T, a *account.Account) string {
	t.Helper()
	token, err := s.sessions.Generate(a.ID, a.Email, a.Role.String())
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRegisterEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/user", "", map[string]string{
		"employeeId": "EMP-1001",
		"name":       "Nadia",
		"surname":    "Haddad",
		"email":      "nadia@example.com",
		"role":       "Employe",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, "nadia@example.com", body["email"])
	assert.Equal(t, false, body["enabled"])

	// The response must not leak credentials or tokens.
	assert.NotContains(t, body, "passwordHash")
	assert.NotContains(t, body, "verificationToken")
}

func TestRegisterEndpointStatusMapping(t *testing.T) {
	s := newTestServer(t)

	valid := map[string]string{
		"employeeId": "EMP-1001",
		"name":       "Nadia",
		"surname":    "Haddad",
		"email":      "nadia@example.com",
		"role":       "Employe",
	}
	resp := s.do(t, http.MethodPost, "/api/user", "", valid)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/user", "", valid)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	invalid := map[string]string{"employeeId": "EMP-1002", "role": "Nope"}
	resp = s.do(t, http.MethodPost, "/api/user", "", invalid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthenticateEndpoint(t *testing.T) {
	s := newTestServer(t)
	a := s.seedAccount(t, account.RoleUser, "valid-password")

	resp := s.do(t, http.MethodPost, "/api/user/authenticate", "", map[string]string{
		"email":    a.Email,
		"password": "valid-password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
		User  struct {
			ID int `json:"id"`
		} `json:"user"`
	}
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, a.ID, body.User.ID)
}

func TestAuthenticateEndpointBadCredentials(t *testing.T) {
	s := newTestServer(t)
	a := s.seedAccount(t, account.RoleUser, "valid-password")

	resp := s.do(t, http.MethodPost, "/api/user/authenticate", "", map[string]string{
		"email":    a.Email,
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := s.seedAccount(t, account.RoleAdmin, "pass-admin")
	user := s.seedAccount(t, account.RoleUser, "pass-user")

	resp := s.do(t, http.MethodGet, "/api/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/user", s.tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/user", s.tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]interface{}
	decodeBody(t, resp, &list)
	assert.Len(t, list, 2)
}

func TestPendingListDispatch(t *testing.T) {
	s := newTestServer(t)
	admin := s.seedAccount(t, account.RoleAdmin, "pass-admin")

	resp := s.do(t, http.MethodPost, "/api/user", "", map[string]string{
		"employeeId": "EMP-1001",
		"name":       "Nadia",
		"surname":    "Haddad",
		"email":      "nadia@example.com",
		"role":       "Employe",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/user/pending", s.tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending []struct {
		Email             string `json:"email"`
		VerificationToken string `json:"verificationToken"`
	}
	decodeBody(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "nadia@example.com", pending[0].Email)
	assert.NotEmpty(t, pending[0].VerificationToken)
}

func TestVerifyAndResetEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.seedAccount(t, account.RoleAdmin, "pass-admin")

	resp := s.do(t, http.MethodPost, "/api/user", "", map[string]string{
		"employeeId": "EMP-1001",
		"name":       "Nadia",
		"surname":    "Haddad",
		"email":      "nadia@example.com",
		"role":       "Employe",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID int `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = s.do(t, http.MethodGet, "/api/user/pending", s.tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []struct {
		VerificationToken string `json:"verificationToken"`
	}
	decodeBody(t, resp, &pending)
	require.Len(t, pending, 1)

	resp = s.do(t, http.MethodPost, "/api/user/verify", "", map[string]interface{}{
		"userId":  created.ID,
		"token":   pending[0].VerificationToken,
		"approve": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verified struct {
		Success bool `json:"success"`
	}
	decodeBody(t, resp, &verified)
	assert.True(t, verified.Success)

	// A spent token gets the same shape with success=false, never a reason.
	resp = s.do(t, http.MethodPost, "/api/user/verify", "", map[string]interface{}{
		"userId":  created.ID,
		"token":   pending[0].VerificationToken,
		"approve": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &verified)
	assert.False(t, verified.Success)

	a, err := s.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	resp = s.do(t, http.MethodPost, "/api/user/reset-password", "", map[string]interface{}{
		"userId":      created.ID,
		"token":       a.PasswordResetToken.Value,
		"newPassword": "chosen-passw0rd",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reset struct {
		Success bool `json:"success"`
	}
	decodeBody(t, resp, &reset)
	assert.True(t, reset.Success)

	resp = s.do(t, http.MethodPost, "/api/user/authenticate", "", map[string]string{
		"email":    "nadia@example.com",
		"password": "chosen-passw0rd",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestResetAlwaysSucceeds(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/user/request-reset", "", map[string]string{
		"email": "nobody@example.com",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetAccountEndpoint(t *testing.T) {
	s := newTestServer(t)
	user := s.seedAccount(t, account.RoleUser, "pass-user")
	token := s.tokenFor(t, user)

	resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d", user.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/user/99999", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d", user.ID), "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterEndpointMultipartWithImage(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"employeeId": "EMP-1001",
		"name":       "Nadia",
		"surname":    "Haddad",
		"email":      "nadia@example.com",
		"role":       "Employe",
	} {
		require.NoError(t, form.WriteField(k, v))
	}
	part, err := form.CreateFormFile("image", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/user", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID int `json:"id"`
	}
	decodeBody(t, resp, &created)

	a, err := s.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, a.ProfileImageKey)
	assert.Equal(t, "avatar.png", *a.ProfileImageFileName)
}

func TestProfileImageUploadAndFetch(t *testing.T) {
	s := newTestServer(t)
	user := s.seedAccount(t, account.RoleUser, "pass-user")
	token := s.tokenFor(t, user)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("image", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/api/user/%d/profile-image", s.srv.URL, user.ID), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	fetch := s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d/profile-image", user.ID), token, nil)
	assert.Equal(t, http.StatusOK, fetch.StatusCode)
}

func TestDeleteRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := s.seedAccount(t, account.RoleAdmin, "pass-admin")
	user := s.seedAccount(t, account.RoleUser, "pass-user")

	resp := s.do(t, http.MethodDelete, fmt.Sprintf("/api/user/%d", user.ID), s.tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/user/%d", user.ID), s.tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/user", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
