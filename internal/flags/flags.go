// Package flags caches the backend's feature flag set and applies toggles
// optimistically, rolling back when the backend rejects them.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tillhq-io/till/pkg/protocol"
)

// Backend is the slice of the backend client the cache needs.
type Backend interface {
	ListFeatureFlags(ctx context.Context) ([]protocol.FeatureFlag, error)
	SetFeatureFlag(ctx context.Context, key string, enabled bool) error
}

// Cache holds the last fetched flag set. Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	flags  []protocol.FeatureFlag
	loaded bool

	backend Backend
	logger  *slog.Logger

	subMu sync.Mutex
	subs  []func(protocol.Event)
}

func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger}
}

// Subscribe registers an event callback.
func (c *Cache) Subscribe(fn func(protocol.Event)) {
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

// Load performs the initial fetch; errors propagate.
func (c *Cache) Load(ctx context.Context) error {
	if err := c.fetch(ctx); err != nil {
		return fmt.Errorf("flags: load: %w", err)
	}
	return nil
}

// Refresh re-fetches the flag set, logging and swallowing errors.
func (c *Cache) Refresh(ctx context.Context) {
	if err := c.fetch(ctx); err != nil {
		c.logger.Warn("flag refresh failed", "error", err)
	}
}

func (c *Cache) fetch(ctx context.Context) error {
	list, err := c.backend.ListFeatureFlags(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.flags = list
	c.loaded = true
	c.mu.Unlock()

	c.publish(protocol.Event{Type: protocol.EventFlagsRefreshed, Time: time.Now()})
	return nil
}

// Loaded reports whether the initial fetch has completed.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// List returns a snapshot of the cached flags.
func (c *Cache) List() []protocol.FeatureFlag {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.FeatureFlag, len(c.flags))
	copy(out, c.flags)
	return out
}

// Get returns the cached flag for key.
func (c *Cache) Get(key string) (protocol.FeatureFlag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.flags {
		if f.Key == key {
			return f, true
		}
	}
	return protocol.FeatureFlag{}, false
}

// Set toggles a flag: the cached value flips first, the backend call
// follows, and the flip is reverted if the call fails.
func (c *Cache) Set(ctx context.Context, key string, enabled bool) error {
	c.mu.Lock()
	idx := -1
	var prev bool
	for n := range c.flags {
		if c.flags[n].Key == key {
			idx = n
			prev = c.flags[n].Enabled
			c.flags[n].Enabled = enabled
			c.flags[n].UpdatedAt = time.Now()
			break
		}
	}
	c.mu.Unlock()

	if idx < 0 {
		return fmt.Errorf("flags: unknown flag %q", key)
	}

	c.publish(protocol.Event{Type: protocol.EventFlagsRefreshed, Time: time.Now()})

	if err := c.backend.SetFeatureFlag(ctx, key, enabled); err != nil {
		c.mu.Lock()
		if idx < len(c.flags) && c.flags[idx].Key == key {
			c.flags[idx].Enabled = prev
		}
		c.mu.Unlock()
		c.publish(protocol.Event{Type: protocol.EventFlagsRefreshed, Time: time.Now()})
		return err
	}
	return nil
}

func (c *Cache) publish(ev protocol.Event) {
	c.subMu.Lock()
	subs := make([]func(protocol.Event), len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
