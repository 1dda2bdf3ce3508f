// Package identity validates external identity-provider assertions. The
// federated login flow trusts a validated assertion in lieu of the local
// admin-approval gate.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrTokenRejected   = errors.New("identity token rejected")
	ErrWrongAudience   = errors.New("identity token issued for another audience")
	ErrTokenExpired    = errors.New("identity token expired")
	ErrEmailUnverified = errors.New("identity provider has not verified the email")
)

// Payload is the verified identity carried by a valid ID token.
type Payload struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
}

// Validator checks an ID token and returns the identity it asserts.
type Validator interface {
	Validate(ctx context.Context, idToken string) (*Payload, error)
}

// DefaultGoogleEndpoint is Google's token introspection endpoint.
const DefaultGoogleEndpoint = "https://oauth2.googleapis.com/tokeninfo"

// GoogleValidator validates Google ID tokens against the tokeninfo endpoint
// and checks the audience claim against the configured OAuth client id.
type GoogleValidator struct {
	client   *http.Client
	endpoint string
	clientID string
	now      func() time.Time
}

// NewGoogleValidator creates a validator for the given OAuth client id. An
// empty endpoint uses DefaultGoogleEndpoint.
func NewGoogleValidator(clientID, endpoint string) *GoogleValidator {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}
	return &GoogleValidator{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		clientID: clientID,
		now:      time.Now,
	}
}

// tokeninfo returns every claim as a string, including numerics.
type tokeninfoResponse struct {
	Audience      string `json:"aud"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Expires       string `json:"exp"`
}

// Validate introspects the ID token. Any failure means the assertion is not
// trusted and the caller must refuse the login.
func (v *GoogleValidator) Validate(ctx context.Context, idToken string) (*Payload, error) {
	endpoint := v.endpoint + "?id_token=" + url.QueryEscape(idToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokeninfo request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrTokenRejected, resp.StatusCode)
	}

	var info tokeninfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo response: %w", err)
	}

	if info.Audience != v.clientID {
		return nil, ErrWrongAudience
	}

	exp, err := strconv.ParseInt(info.Expires, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad exp claim %q", ErrTokenRejected, info.Expires)
	}
	if v.now().After(time.Unix(exp, 0)) {
		return nil, ErrTokenExpired
	}

	if info.EmailVerified != "true" {
		return nil, ErrEmailUnverified
	}

	return &Payload{
		Subject:    info.Subject,
		Email:      info.Email,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
	}, nil
}
