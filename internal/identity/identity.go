// Package identity exchanges operator credentials for a session credential
// against the identity endpoint.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aeroaid/dronewatch/internal/errs"
)

const defaultEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// Credential is the result of a successful sign-in.
type Credential struct {
	Token      string
	OperatorID string
	ExpiresAt  time.Time
}

// Client authenticates operators. Each call is a single attempt with no
// side effects on failure.
type Client struct {
	endpoint string
	apiKey   string
	hc       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the sign-in endpoint (tests).
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New creates a Client using the given provider API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	IDToken   string `json:"idToken"`
	LocalID   string `json:"localId"`
	ExpiresIn string `json:"expiresIn"`
}

type signInError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn authenticates with email and password. Provider rejection codes map to
// stable sentinels: EMAIL_NOT_FOUND and INVALID_PASSWORD both surface as
// ErrInvalidCredentials so the caller cannot distinguish account existence.
func (c *Client) SignIn(ctx context.Context, email, password string) (Credential, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	if email == "" {
		return Credential{}, fmt.Errorf("%w: email", errs.ErrMissingField)
	}
	if password == "" {
		return Credential{}, fmt.Errorf("%w: password", errs.ErrMissingField)
	}

	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Credential{}, fmt.Errorf("encoding sign-in request: %w", err)
	}

	u := c.endpoint
	if c.apiKey != "" {
		u += "?key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("building sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("sign-in: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("reading sign-in response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, mapProviderError(raw)
	}

	var out signInResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", errs.ErrMalformedResponse, err)
	}
	if out.IDToken == "" || out.LocalID == "" {
		return Credential{}, fmt.Errorf("%w: missing idToken/localId", errs.ErrMalformedResponse)
	}

	return Credential{
		Token:      out.IDToken,
		OperatorID: out.LocalID,
		ExpiresAt:  tokenExpiry(out, time.Now()),
	}, nil
}

func mapProviderError(raw []byte) error {
	var pe signInError
	if err := json.Unmarshal(raw, &pe); err != nil || pe.Error.Message == "" {
		return fmt.Errorf("%w: undecodable error body", errs.ErrMalformedResponse)
	}
	switch code := pe.Error.Message; code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return errs.ErrInvalidCredentials
	case "USER_DISABLED":
		return errs.ErrAccountDisabled
	default:
		return fmt.Errorf("%w: %s", errs.ErrSignInRejected, code)
	}
}

// tokenExpiry prefers the provider's expiresIn, falling back to the id token's
// exp claim, parsed without validation. Last resort is a conservative hour.
func tokenExpiry(out signInResponse, now time.Time) time.Time {
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(out.IDToken, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(time.Hour)
}
