package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tillhq-io/till/internal/token"
)

// authStub counts refresh calls and serves a configurable response.
type authStub struct {
	refreshCalls atomic.Int64
	status       int
	body         string
	delay        time.Duration
}

func (a *authStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != refreshPath {
			http.NotFound(w, r)
			return
		}
		a.refreshCalls.Add(1)
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		status := a.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(a.body))
	}
}

func newTestClient(t *testing.T, backendHandler http.HandlerFunc, auth *authStub) (*Client, *token.Store, *atomic.Bool) {
	t.Helper()

	backendSrv := httptest.NewServer(backendHandler)
	t.Cleanup(backendSrv.Close)
	authSrv := httptest.NewServer(auth.handler())
	t.Cleanup(authSrv.Close)

	tokens := token.NewStore(nil, nil)
	var expired atomic.Bool
	c := NewClient(backendSrv.URL, tokens, NewAuthClient(authSrv.URL),
		WithSessionExpiredHook(func() { expired.Store(true) }))
	return c, tokens, &expired
}

func TestAttachesExactlyOneAuthorizationHeader(t *testing.T) {
	auth := &authStub{body: `{"token": "unused"}`}

	var headers []string
	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Values("Authorization")
		w.Write([]byte(`{"data": {"tickets": []}}`))
	}, auth)
	tokens.Set("tok-1")

	if _, err := c.ListTickets(context.Background()); err != nil {
		t.Fatalf("ListTickets: %v", err)
	}

	if len(headers) != 1 {
		t.Fatalf("got %d Authorization headers, want 1", len(headers))
	}
	if headers[0] != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", headers[0])
	}
	if n := auth.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}

func TestMissingTokenIsNotAnError(t *testing.T) {
	auth := &authStub{body: `{"token": "unused"}`}

	var sawHeader bool
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("Authorization") != ""
		w.Write([]byte(`{"data": {"tickets": []}}`))
	}, auth)

	if _, err := c.ListTickets(context.Background()); err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	if sawHeader {
		t.Error("request carried an Authorization header with no token in the store")
	}
}

func TestRefreshAndReplayOn401(t *testing.T) {
	auth := &authStub{body: `{"token": "tok-new"}`}

	var backendCalls atomic.Int64
	var replayAuth string
	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		backendCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-new" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail": "token expired"}`))
			return
		}
		replayAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data": {"tickets": [{"id": 7, "subject": "printer on fire"}]}}`))
	}, auth)
	tokens.Set("tok-old")

	got, err := c.ListTickets(context.Background())
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}

	if n := auth.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", n)
	}
	if n := backendCalls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want exactly 2 (original + replay)", n)
	}
	if replayAuth != "Bearer tok-new" {
		t.Errorf("replay Authorization = %q, want Bearer tok-new", replayAuth)
	}
	if tokens.Get() != "tok-new" {
		t.Errorf("stored token = %q, want tok-new", tokens.Get())
	}
	if len(got) != 1 || got[0].ID != 7 {
		t.Errorf("unexpected tickets: %+v", got)
	}
	if expired.Load() {
		t.Error("session expired after successful recovery")
	}
}

func TestReplayed401PropagatesWithoutSecondRefresh(t *testing.T) {
	// Token is persistently invalid: the replay 401s too.
	auth := &authStub{body: `{"token": "tok-new"}`}

	var backendCalls atomic.Int64
	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		backendCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "nope"}`))
	}, auth)
	tokens.Set("tok-old")

	_, err := c.ListTickets(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want 401 APIError", err)
	}

	if n := auth.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", n)
	}
	if n := backendCalls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want exactly 2", n)
	}
	// The replayed 401 propagates as-is; it is not a hard logout.
	if expired.Load() {
		t.Error("replayed 401 must not terminate the session")
	}
}

func TestRefreshEndpoint401IsTerminal(t *testing.T) {
	auth := &authStub{body: `{"token": "tok-new"}`}

	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, auth)
	tokens.Set("tok-old")

	_, err := c.do(context.Background(), http.MethodPost, refreshPath, nil)
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want 401 APIError", err)
	}

	if n := auth.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0 (no refresh for the refresh endpoint)", n)
	}
	if tokens.Get() != "" {
		t.Error("token store not cleared")
	}
	if !expired.Load() {
		t.Error("session expired hook not invoked")
	}
}

func TestRefreshWithoutUsableTokenIsFailure(t *testing.T) {
	// Refresh "succeeds" but carries neither token nor access.
	auth := &authStub{body: `{"status": "ok"}`}

	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, auth)
	tokens.Set("tok-old")

	_, err := c.ListTickets(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want the original 401", err)
	}

	if n := auth.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if tokens.Get() != "" {
		t.Error("token store not cleared")
	}
	if !expired.Load() {
		t.Error("session expired hook not invoked")
	}
}

func TestRefreshFailureIsTerminal(t *testing.T) {
	auth := &authStub{status: http.StatusUnauthorized, body: `{"detail": "cookie expired"}`}

	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, auth)
	tokens.Set("tok-old")

	_, err := c.ListTickets(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want the original 401", err)
	}
	if tokens.Get() != "" {
		t.Error("token store not cleared")
	}
	if !expired.Load() {
		t.Error("session expired hook not invoked")
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	auth := &authStub{body: `{"token": "tok-new"}`, delay: 50 * time.Millisecond}

	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data": {"tickets": []}}`))
	}, auth)
	tokens.Set("tok-old")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.ListTickets(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d: %v", i, err)
		}
	}
	if got := auth.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1 (shared in-flight refresh)", got)
	}
}

func TestNon401ErrorsAreNotRetried(t *testing.T) {
	auth := &authStub{body: `{"token": "tok-new"}`}

	var backendCalls atomic.Int64
	c, tokens, expired := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		backendCalls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail": "owner role required"}`))
	}, auth)
	tokens.Set("tok-1")

	_, err := c.ListTickets(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 APIError", err)
	}
	if !strings.Contains(apiErr.Body, "owner role required") {
		t.Errorf("error body lost detail: %q", apiErr.Body)
	}

	if n := backendCalls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	if n := auth.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
	if expired.Load() {
		t.Error("403 must not terminate the session")
	}
}

func TestNetworkErrorPropagates(t *testing.T) {
	auth := &authStub{body: `{"token": "tok-new"}`}
	authSrv := httptest.NewServer(auth.handler())
	defer authSrv.Close()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backendSrv.Close() // connection refused from here on

	tokens := token.NewStore(nil, nil)
	tokens.Set("tok-1")
	c := NewClient(backendSrv.URL, tokens, NewAuthClient(authSrv.URL))

	_, err := c.ListTickets(context.Background())
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if IsUnauthorized(err) {
		t.Errorf("transport error classified as 401: %v", err)
	}
	if n := auth.refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}

func TestEnvelopeUnwrappingAtBoundary(t *testing.T) {
	auth := &authStub{body: `{"token": "unused"}`}

	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tickets/":
			// Nested envelope form.
			w.Write([]byte(`{"data": {"tickets": [{"id": 1, "subject": "a"}, {"id": 2, "subject": "b"}]}}`))
		case "/api/plans/":
			// Bare list form, no envelope.
			w.Write([]byte(`[{"id": 10, "name": "starter"}]`))
		default:
			http.NotFound(w, r)
		}
	}, auth)
	tokens.Set("tok-1")

	tickets, err := c.ListTickets(context.Background())
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	if len(tickets) != 2 || tickets[1].Subject != "b" {
		t.Errorf("tickets = %+v", tickets)
	}

	plans, err := c.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 1 || plans[0].Name != "starter" {
		t.Errorf("plans = %+v", plans)
	}
}
