package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/cache"
)

// SQLiteCache is a cache.Backend on the payload_cache table. Expiry is stored
// as unix milliseconds.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ cache.Backend = (*SQLiteCache)(nil)
	_ cache.Purger  = (*SQLiteCache)(nil)
)

func newSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db, now: time.Now}
}

func unixMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO payload_cache (cache_key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, unixMillis(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("cache set %s failed: %w", key, err)
	}
	return nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM payload_cache WHERE cache_key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s failed: %w", key, err)
	}
	if expiresAt.Valid && c.now().UnixMilli() >= expiresAt.Int64 {
		return nil, cache.ErrMiss
	}
	return value, nil
}

func (c *SQLiteCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM payload_cache WHERE cache_key IN (`+placeholders(len(keys))+`)`, stringArgs(keys)...)
	if err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Claim deletes key and its group in one statement; the RETURNING row for key
// tells whether it was still live.
func (c *SQLiteCache) Claim(ctx context.Context, key string, group []string) (bool, error) {
	keys := withKey(key, group)
	rows, err := c.db.QueryContext(ctx,
		`DELETE FROM payload_cache WHERE cache_key IN (`+placeholders(len(keys))+`) RETURNING cache_key, expires_at`,
		stringArgs(keys)...)
	if err != nil {
		return false, fmt.Errorf("cache claim %s failed: %w", key, err)
	}
	defer rows.Close()

	now := c.now().UnixMilli()
	live := false
	for rows.Next() {
		var k string
		var expiresAt sql.NullInt64
		if err := rows.Scan(&k, &expiresAt); err != nil {
			return false, fmt.Errorf("cache claim scan failed: %w", err)
		}
		if k == key && (!expiresAt.Valid || now < expiresAt.Int64) {
			live = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("cache claim iteration failed: %w", err)
	}
	return live, nil
}

func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM payload_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache purge failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Debug("SQLiteCache PurgeExpired", "removed", n)
	}
	return int(n), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// withKey returns group with key added if absent.
func withKey(key string, group []string) []string {
	for _, k := range group {
		if k == key {
			return group
		}
	}
	out := make([]string, 0, len(group)+1)
	out = append(out, key)
	return append(out, group...)
}
