package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRefreshTokenFieldVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"token field", `{"token": "tok-a"}`, "tok-a"},
		{"access field", `{"access": "tok-b"}`, "tok-b"},
		{"enveloped access", `{"data": {"access": "tok-c"}}`, "tok-c"},
		{"token wins over access", `{"token": "tok-d", "access": "other"}`, "tok-d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != refreshPath {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("Authorization") != "" {
					t.Error("refresh must not carry a bearer header")
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewAuthClient(srv.URL).Refresh(context.Background())
			if err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if got != tt.want {
				t.Errorf("Refresh = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	if _, err := NewAuthClient(srv.URL).Refresh(context.Background()); err == nil {
		t.Error("expected error for refresh response without a token")
	}
}

func TestRefreshSurfaces401Directly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "refresh cookie expired"}`))
	}))
	defer srv.Close()

	_, err := NewAuthClient(srv.URL).Refresh(context.Background())
	if !IsUnauthorized(err) {
		t.Errorf("err = %v, want 401 APIError", err)
	}
}

func TestLoginCapturesCookieForRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			var creds Credentials
			json.NewDecoder(r.Body).Decode(&creds)
			if creds.Email != "owner@example.com" {
				t.Errorf("email = %q", creds.Email)
			}
			http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "cookie-1", HttpOnly: true, Path: "/"})
			w.Write([]byte(`{"data": {"token": "tok-login", "user": {"id": 3, "name": "Pat", "role": "owner"}}}`))
		case refreshPath:
			cookie, err := r.Cookie("refresh")
			if err != nil || cookie.Value != "cookie-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"token": "tok-refreshed"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewAuthClient(srv.URL)

	result, err := a.Login(context.Background(), Credentials{Email: "owner@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token != "tok-login" {
		t.Errorf("login token = %q", result.Token)
	}
	if result.User.Name != "Pat" || result.User.Role != "owner" {
		t.Errorf("login user = %+v", result.User)
	}

	// The jar replays the HTTP-only cookie on refresh.
	tok, err := a.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok != "tok-refreshed" {
		t.Errorf("refresh token = %q", tok)
	}
}

func TestLoginWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"user": {"id": 1}}}`))
	}))
	defer srv.Close()

	if _, err := NewAuthClient(srv.URL).Login(context.Background(), Credentials{}); err == nil {
		t.Error("expected error for login response without a token")
	}
}
