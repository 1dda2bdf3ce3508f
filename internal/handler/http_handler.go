// Package handler exposes the account lifecycle over HTTP. It owns the route
// table, the JSON shapes of requests and responses, and the mapping from
// service errors to status codes.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/internal/service"
	"github.com/lmatoussi/ey-expense-manager/pkg/jwt"
)

// maxImageSize caps profile image uploads at 5 MB.
const maxImageSize = 5 << 20

// Handler handles HTTP requests.
type Handler struct {
	accounts *service.AccountService
	verify   *service.VerificationService
	auth     *service.AuthService
	sessions *jwt.Manager
	log      zerolog.Logger
}

// New creates a new HTTP handler.
func New(
	accounts *service.AccountService,
	verify *service.VerificationService,
	auth *service.AuthService,
	sessions *jwt.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		accounts: accounts,
		verify:   verify,
		auth:     auth,
		sessions: sessions,
		log:      log,
	}
}

// Router builds the route table. "pending" is dispatched inside the :id
// routes because httprouter refuses static siblings of a wildcard segment.
func (h *Handler) Router() http.Handler {
	router := httprouter.New()

	router.POST("/api/user", h.Register)
	router.POST("/api/user/authenticate", h.Authenticate)
	router.POST("/api/user/google-auth", h.GoogleAuth)
	router.POST("/api/user/verify", h.Verify)
	router.POST("/api/user/request-reset", h.RequestReset)
	router.POST("/api/user/reset-password", h.ResetPassword)

	router.GET("/api/user", h.RequireAdmin(h.List))
	router.GET("/api/user/:id", h.JWTAuth(h.Get))
	router.GET("/api/user/:id/profile-image", h.JWTAuth(h.ProfileImage))
	router.PUT("/api/user/:id/profile-image", h.JWTAuth(h.UploadProfileImage))
	router.PUT("/api/user/:id", h.RequireAdmin(h.Update))
	router.DELETE("/api/user/:id", h.RequireAdmin(h.Delete))

	return CORS(router)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the service error taxonomy onto status codes.
// Internal details never reach the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, service.ErrInvalidCredentials.Error())
	case errors.Is(err, service.ErrAccountNotActivated):
		writeError(w, http.StatusForbidden, service.ErrAccountNotActivated.Error())
	case errors.Is(err, service.ErrExternalService):
		writeError(w, http.StatusBadGateway, "upstream service failed")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// accountResponse is the public JSON shape of an account. It never carries
// the password hash or any token.
type accountResponse struct {
	ID            int       `json:"id"`
	EmployeeID    string    `json:"employeeId"`
	Name          string    `json:"name"`
	Surname       string    `json:"surname"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	GPN           string    `json:"gpn,omitempty"`
	Enabled       bool      `json:"enabled"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toAccountResponse(a *account.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		EmployeeID:    a.EmployeeID,
		Name:          a.Name,
		Surname:       a.Surname,
		Email:         a.Email,
		Role:          a.Role.String(),
		GPN:           a.GPN,
		Enabled:       a.Enabled,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

// Register handles new account registrations. Multipart bodies may carry an
// optional profile image alongside the fields; JSON bodies carry fields only.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req *service.RegisterRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		req, err = registerRequestFromForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var body struct {
			EmployeeID string `json:"employeeId"`
			Name       string `json:"name"`
			Surname    string `json:"surname"`
			Email      string `json:"email"`
			Role       string `json:"role"`
			GPN        string `json:"gpn"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req = &service.RegisterRequest{
			EmployeeID: body.EmployeeID,
			Name:       body.Name,
			Surname:    body.Surname,
			Email:      body.Email,
			Role:       body.Role,
			GPN:        body.GPN,
		}
	}

	created, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(created))
}

func registerRequestFromForm(r *http.Request) (*service.RegisterRequest, error) {
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		return nil, errors.New("invalid multipart form")
	}

	req := &service.RegisterRequest{
		EmployeeID: r.FormValue("employeeId"),
		Name:       r.FormValue("name"),
		Surname:    r.FormValue("surname"),
		Email:      r.FormValue("email"),
		Role:       r.FormValue("role"),
		GPN:        r.FormValue("gpn"),
	}

	file, header, err := r.FormFile("image")
	if err == http.ErrMissingFile {
		return req, nil
	}
	if err != nil {
		return nil, errors.New("invalid image upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageSize))
	if err != nil {
		return nil, errors.New("failed to read image")
	}
	req.Image = &service.ImageUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return req, nil
}

// Authenticate handles email/password logins.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":                   toAccountResponse(result.Account),
		"token":                  result.SessionToken,
		"passwordChangeRequired": result.PasswordChangeRequired,
		"passwordResetToken":     result.PasswordResetToken,
	})
}

// GoogleAuth handles federated Google logins.
func (h *Handler) GoogleAuth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "idToken required")
		return
	}

	result, err := h.auth.AuthenticateWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  toAccountResponse(result.Account),
		"token": result.SessionToken,
	})
}

// Verify settles a pending registration with the emailed token. The response
// is only a success flag: a failed check never says why.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		UserID  int    `json:"userId"`
		Token   string `json:"token"`
		Approve bool   `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	ok, err := h.verify.Verify(r.Context(), req.UserID, req.Token, req.Approve)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// RequestReset starts a password reset. The answer is the same whether or
// not the email is registered.
func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.verify.RequestReset(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a reset link has been sent",
	})
}

// ResetPassword exchanges a live reset token for a new password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		UserID      int    `json:"userId"`
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	ok, err := h.verify.CompleteReset(r.Context(), req.UserID, req.Token, req.NewPassword)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// Get retrieves one account. The "pending" segment routes to the admin-only
// pending list instead.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("id") == "pending" {
		h.requireAdminClaims(w, r, func() { h.listPending(w, r) })
		return
	}

	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	a, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

func (h *Handler) requireAdminClaims(w http.ResponseWriter, r *http.Request, next func()) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims.Role != account.RoleAdmin.String() {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	next()
}

// List returns every account.
func (h *Handler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := h.accounts.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// pendingResponse is the admin review list entry. It is the one place the
// verification token is exposed, so the admin UI can build approve and
// reject links.
type pendingResponse struct {
	accountResponse
	VerificationToken string    `json:"verificationToken"`
	TokenExpiresAt    time.Time `json:"tokenExpiresAt"`
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.ListPendingVerification(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]pendingResponse, 0, len(list))
	for _, a := range list {
		entry := pendingResponse{accountResponse: toAccountResponse(a)}
		if a.VerificationToken != nil {
			entry.VerificationToken = a.VerificationToken.Value
			entry.TokenExpiresAt = a.VerificationToken.ExpiresAt
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// Update edits an account; absent fields stay unchanged.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		EmployeeID *string `json:"employeeId"`
		Name       *string `json:"name"`
		Surname    *string `json:"surname"`
		Email      *string `json:"email"`
		Role       *string `json:"role"`
		GPN        *string `json:"gpn"`
		Password   *string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.accounts.Update(r.Context(), &service.UpdateRequest{
		ID:         id,
		EmployeeID: req.EmployeeID,
		Name:       req.Name,
		Surname:    req.Surname,
		Email:      req.Email,
		Role:       req.Role,
		GPN:        req.GPN,
		Password:   req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

// Delete removes an account.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.accounts.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProfileImage streams the stored profile image.
func (h *Handler) ProfileImage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	data, contentType, err := h.accounts.ProfileImage(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// UploadProfileImage stores a new profile image from a multipart form.
func (h *Handler) UploadProfileImage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if err := h.accounts.SetProfileImage(r.Context(), id, header.Filename, contentType, data); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
