// Package backend is the console's HTTP client for the billing backend.
// The primary Client attaches the bearer token to every request and
// transparently recovers from a single class of failure — an expired token —
// with one refresh and one replay. Everything else propagates to the caller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tillhq-io/till/internal/token"
)

const defaultTimeout = 10 * time.Second

// Client executes authenticated requests against the backend origin.
type Client struct {
	client  *http.Client
	baseURL string
	tokens  *token.Store
	auth    *AuthClient
	logger  *slog.Logger

	// refresh collapses concurrent 401-triggered refreshes into a single
	// in-flight call; every waiter gets the same new token.
	refresh singleflight.Group

	// onSessionExpired runs after a hard logout (token store already
	// cleared). The daemon uses it to broadcast session.expired.
	onSessionExpired func()
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSessionExpiredHook registers a callback invoked on hard logout.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// NewClient creates a backend client bound to baseURL (origin; request paths
// carry the /api prefix). tokens is the token store of record; auth performs
// the credentialed refresh outside this client's request pipeline.
func NewClient(baseURL string, tokens *token.Store, auth *AuthClient, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		auth:    auth,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs one logical request with the single-shot 401 recovery.
//
// The "retried at most once" invariant is structural: the replay is a plain
// send that returns straight to the caller, so a second 401 can never
// re-enter the refresh path.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal request: %w", err)
		}
	}

	raw, err := c.send(ctx, method, path, payload, "")
	if err == nil || !IsUnauthorized(err) {
		return raw, err
	}

	// A 401 from the refresh endpoint itself is terminal — refreshing in
	// response would loop against the same endpoint.
	if strings.HasPrefix(path, refreshPath) {
		c.hardLogout("refresh endpoint rejected request")
		return nil, err
	}

	newTok, refreshErr := c.refreshToken(ctx)
	if refreshErr != nil {
		c.hardLogout("token refresh failed")
		// Callers get the original error and must not assume recovery.
		return nil, err
	}

	return c.send(ctx, method, path, payload, newTok)
}

// send performs a single HTTP round trip. tokenOverride, when non-empty,
// replaces the store's token (used by the replay so it cannot race a
// concurrent Remove).
func (c *Client) send(ctx context.Context, method, path string, payload []byte, tokenOverride string) (json.RawMessage, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// A missing token is not an error at this layer; the request goes out
	// unauthenticated and the backend decides.
	tok := tokenOverride
	if tok == "" {
		tok = c.tokens.Get()
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "error").Inc()
		c.logger.Error("backend request failed", "method", method, "url", url, "error", err)
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("backend request", "method", method, "url", url, "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusForbidden {
			c.logger.Warn("backend forbade request", "method", method, "url", url, "detail", string(respBody))
		}
		return nil, &APIError{Status: resp.StatusCode, Path: path, Body: string(respBody)}
	}
	return respBody, nil
}

// refreshToken obtains a fresh bearer token, storing it on success. All
// concurrent callers share one refresh call.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		refreshesTotal.Inc()
		tok, err := c.auth.Refresh(ctx)
		if err != nil {
			refreshFailuresTotal.Inc()
			return nil, err
		}
		c.tokens.Set(tok)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RefreshSession refreshes the token proactively (scheduler-driven, before
// expiry). A failed proactive refresh is as terminal as a failed reactive
// one.
func (c *Client) RefreshSession(ctx context.Context) error {
	if _, err := c.refreshToken(ctx); err != nil {
		c.hardLogout("proactive token refresh failed")
		return err
	}
	return nil
}

// hardLogout clears the session. Fail closed: any cached credential state is
// discarded before anyone is told.
func (c *Client) hardLogout(reason string) {
	hardLogoutsTotal.Inc()
	c.tokens.Remove()
	c.logger.Warn("session terminated", "reason", reason)
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
