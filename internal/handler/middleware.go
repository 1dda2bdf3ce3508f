package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/lmatoussi/ey-expense-manager/internal/account"
	"github.com/lmatoussi/ey-expense-manager/pkg/jwt"
)

type contextKey string

const claimsContextKey contextKey = "claims"

var (
	errMissingToken = errors.New("missing authorization header")
	errBadToken     = errors.New("authorization header is not a bearer token")
)

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errBadToken
	}
	return parts[1], nil
}

// JWTAuth validates the session token and stores its claims in the request
// context.
func (h *Handler) JWTAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString, err := extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := h.sessions.Validate(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next(w, r.WithContext(ctx), ps)
	}
}

// RequireAdmin wraps JWTAuth and refuses non-admin sessions.
func (h *Handler) RequireAdmin(next httprouter.Handle) httprouter.Handle {
	return h.JWTAuth(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if claims.Role != account.RoleAdmin.String() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r, ps)
	})
}

// ClaimsFromContext returns the session claims stored by JWTAuth, or nil.
func ClaimsFromContext(ctx context.Context) *jwt.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*jwt.Claims)
	if !ok {
		return nil
	}
	return claims
}

// CORS answers preflight requests and stamps the usual headers on everything
// else.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
