// Package token holds the console's bearer credential. The Store is the
// single source of truth: every outgoing backend request reads it, a
// successful refresh replaces it, and a hard logout clears it.
package token

import (
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// persistKey is the localstore key backing the in-memory token.
const persistKey = "session_token"

// Persister is the durable backing for the token (see internal/localstore).
type Persister interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Store is a mutex-guarded token holder with write-through persistence.
// Reads are synchronous and never fail; persistence errors are logged and
// the in-memory value still wins (last write, never partial).
type Store struct {
	mu      sync.Mutex
	value   string
	persist Persister
	logger  *slog.Logger
}

// NewStore creates a Store, loading any previously persisted token.
// persist may be nil for an in-memory-only store (tests, ephemeral runs).
func NewStore(persist Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persist: persist, logger: logger}
	if persist != nil {
		v, err := persist.Get(persistKey)
		if err != nil {
			logger.Warn("token store: load persisted token", "error", err)
		} else {
			s.value = v
		}
	}
	return s
}

// Get returns the current token, or "" when none is held.
func (s *Store) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current token and persists it.
func (s *Store) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Set(persistKey, value); err != nil {
			s.logger.Warn("token store: persist token", "error", err)
		}
	}
}

// Remove clears the token and its persisted backing.
func (s *Store) Remove() {
	s.mu.Lock()
	s.value = ""
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Delete(persistKey); err != nil {
			s.logger.Warn("token store: delete persisted token", "error", err)
		}
	}
}

// ExpiresWithin reports whether the held token is absent, already expired,
// or will expire within window, by peeking the JWT exp claim.
//
// The signature is not verified — this only steers proactive refresh; the
// backend stays authoritative and will 401 if it disagrees. Tokens without a
// parseable exp claim are treated as not expiring.
func (s *Store) ExpiresWithin(window time.Duration) bool {
	v := s.Get()
	if v == "" {
		return true
	}

	tok, _, err := jwt.NewParser().ParseUnverified(v, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) <= window
}
