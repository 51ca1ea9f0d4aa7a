// Package cache provides the payload cache used to correlate button clicks with
// the data they were rendered with, plus the small durable values (locale,
// first-answer flag) the bot keeps between turns.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/google/uuid"
)

// DefaultTTL is applied to entries cached without an explicit TTL.
const DefaultTTL = 7 * 24 * time.Hour

// ErrMiss is returned by backends for absent or expired keys.
var ErrMiss = errors.New("cache: miss")

// Backend is the storage behind a PayloadCache. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Set stores value under key. A zero expiresAt means the entry never expires.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Get returns the live value under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Claim atomically deletes every key in group and reports whether key was
	// live at that moment. Exactly one concurrent claimer of a live key wins.
	Claim(ctx context.Context, key string, group []string) (bool, error)
}

// Purger is implemented by backends that keep expired entries until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Opts holds PayloadCache configuration.
type Opts struct {
	DefaultTTL time.Duration
}

// Option configures a PayloadCache.
type Option func(*Opts)

// WithDefaultTTL sets the TTL used when Cache is called without WithTTL or NoExpiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.DefaultTTL = ttl
	}
}

// PayloadCache stores JSON values and button payloads on top of a Backend.
type PayloadCache struct {
	backend    Backend
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a PayloadCache over backend.
func New(backend Backend, opts ...Option) *PayloadCache {
	cfg := Opts{DefaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	slog.Debug("PayloadCache created", "defaultTTL", cfg.DefaultTTL)
	return &PayloadCache{backend: backend, defaultTTL: cfg.DefaultTTL, now: time.Now}
}

// Backend returns the underlying storage.
func (c *PayloadCache) Backend() Backend {
	return c.backend
}

type entryOpts struct {
	key      string
	ttl      time.Duration
	noExpiry bool
}

// EntryOption customizes a single Cache call.
type EntryOption func(*entryOpts)

// WithKey stores the entry under a deterministic key instead of a fresh one.
func WithKey(key string) EntryOption {
	return func(o *entryOpts) { o.key = key }
}

// WithTTL overrides the default TTL.
func WithTTL(ttl time.Duration) EntryOption {
	return func(o *entryOpts) { o.ttl = ttl }
}

// NoExpiry stores the entry without a TTL.
func NoExpiry() EntryOption {
	return func(o *entryOpts) { o.noExpiry = true }
}

// NewKey returns a fresh correlation key.
func NewKey() string {
	return uuid.NewString()
}

// NewGroup returns n fresh correlation keys for a mutually exclusive button group.
func NewGroup(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = NewKey()
	}
	return keys
}

// Cache JSON-encodes value and stores it, returning the key used.
func (c *PayloadCache) Cache(ctx context.Context, value any, opts ...EntryOption) (string, error) {
	var o entryOpts
	for _, opt := range opts {
		opt(&o)
	}
	key := o.key
	if key == "" {
		key = NewKey()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	var expiresAt time.Time
	if !o.noExpiry {
		ttl := o.ttl
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		expiresAt = c.now().Add(ttl)
	}
	if err := c.backend.Set(ctx, key, data, expiresAt); err != nil {
		slog.Error("PayloadCache Cache failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to cache %s: %w", key, err)
	}
	slog.Debug("PayloadCache Cache stored", "key", key, "expires", !expiresAt.IsZero())
	return key, nil
}

// Get decodes the value under key into dst. It reports false on a miss.
func (c *PayloadCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	return true, nil
}

// Remove deletes keys.
func (c *PayloadCache) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to remove cache keys: %w", err)
	}
	return nil
}

// CacheButton stores payload under key with the default TTL.
func (c *PayloadCache) CacheButton(ctx context.Context, key string, payload models.ButtonPayload) error {
	_, err := c.Cache(ctx, payload, WithKey(key))
	return err
}

// ConsumeButton resolves a clicked button. The button and all of its siblings
// are removed in one atomic claim; a miss, an expired key or a lost race
// reports false.
func (c *PayloadCache) ConsumeButton(ctx context.Context, key string) (models.ButtonPayload, bool, error) {
	data, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		slog.Debug("PayloadCache ConsumeButton miss", "key", key)
		return models.ButtonPayload{}, false, nil
	}
	if err != nil {
		return models.ButtonPayload{}, false, fmt.Errorf("failed to read button %s: %w", key, err)
	}
	payload, err := models.ParseButtonPayload(data)
	if err != nil {
		return models.ButtonPayload{}, false, err
	}

	group, ok := payload.RelatedButtons()
	if !ok || len(group) == 0 {
		group = []string{key}
	}
	claimed, err := c.backend.Claim(ctx, key, group)
	if err != nil {
		return models.ButtonPayload{}, false, fmt.Errorf("failed to claim button %s: %w", key, err)
	}
	if !claimed {
		slog.Info("PayloadCache ConsumeButton lost claim", "key", key)
		return models.ButtonPayload{}, false, nil
	}
	slog.Debug("PayloadCache ConsumeButton claimed", "key", key, "group", len(group), "intent", payload.Intent)
	return payload, true, nil
}
