package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/tillhq-io/till/internal/envelope"
	"github.com/tillhq-io/till/pkg/protocol"
)

const (
	// refreshPath is the token refresh endpoint, relative to the auth origin.
	refreshPath = "/api/auth/refresh/"

	loginPath  = "/api/auth/login/"
	logoutPath = "/api/auth/logout/"

	defaultAuthTimeout = 5 * time.Second
)

// AuthClient talks to the authentication endpoints on their own origin.
// It carries the HTTP-only refresh cookie in a jar and has none of the
// primary client's refresh-and-retry machinery — a 401 here surfaces
// directly to the caller.
type AuthClient struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// AuthOption configures an AuthClient.
type AuthOption func(*AuthClient)

// WithAuthTimeout sets the per-request timeout.
func WithAuthTimeout(d time.Duration) AuthOption {
	return func(a *AuthClient) { a.client.Timeout = d }
}

// WithAuthLogger sets the logger.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(a *AuthClient) { a.logger = logger }
}

// NewAuthClient creates an auth client bound to baseURL (origin, no /api
// prefix — auth paths carry it themselves).
func NewAuthClient(baseURL string, opts ...AuthOption) *AuthClient {
	jar, _ := cookiejar.New(nil)
	a := &AuthClient{
		client:  &http.Client{Timeout: defaultAuthTimeout, Jar: jar},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Credentials are a console user's login credentials.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is a successful authentication outcome.
type LoginResult struct {
	Token string
	User  protocol.UserDetails
}

// Login authenticates and returns the bearer token. The backend also sets
// the HTTP-only refresh cookie, captured by the jar for later Refresh calls.
func (a *AuthClient) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	body, err := a.post(ctx, loginPath, creds)
	if err != nil {
		return nil, err
	}

	tok := tokenFromResponse(body)
	if tok == "" {
		return nil, fmt.Errorf("auth: login response carried no token")
	}

	result := &LoginResult{Token: tok}
	var fields struct {
		User protocol.UserDetails `json:"user"`
	}
	if err := json.Unmarshal(envelope.Unwrap(body), &fields); err == nil {
		result.User = fields.User
	}
	return result, nil
}

// Logout invalidates the refresh cookie server-side. Best effort: the caller
// clears local state regardless of the outcome.
func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.post(ctx, logoutPath, nil)
	return err
}

// Refresh exchanges the refresh cookie for a new bearer token. No
// Authorization header is sent — the old token is presumed invalid. A
// success response without a usable token is a failure.
func (a *AuthClient) Refresh(ctx context.Context) (string, error) {
	body, err := a.post(ctx, refreshPath, nil)
	if err != nil {
		return "", err
	}

	tok := tokenFromResponse(body)
	if tok == "" {
		return "", fmt.Errorf("auth: refresh response carried no token")
	}
	return tok, nil
}

func (a *AuthClient) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("auth: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("auth: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("auth request failed", "path", path, "error", err)
		return nil, fmt.Errorf("auth: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("auth: read response: %w", err)
	}

	a.logger.Debug("auth request", "path", path, "status", resp.StatusCode)
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Path: path, Body: string(respBody)}
	}
	return respBody, nil
}

// tokenFromResponse pulls the bearer token out of an auth response, which
// carries it under "token" or "access", optionally inside a data envelope.
func tokenFromResponse(body json.RawMessage) string {
	var fields struct {
		Token  string `json:"token"`
		Access string `json:"access"`
	}
	if err := json.Unmarshal(envelope.Unwrap(body), &fields); err != nil {
		return ""
	}
	if fields.Token != "" {
		return fields.Token
	}
	return fields.Access
}
