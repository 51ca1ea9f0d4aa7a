package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/lib/pq"
)

// PostgresCache is a cache.Backend on the payload_cache table.
type PostgresCache struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ cache.Backend = (*PostgresCache)(nil)
	_ cache.Purger  = (*PostgresCache)(nil)
)

func newPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db, now: time.Now}
}

func (c *PostgresCache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO payload_cache (cache_key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, nilIfZero(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("cache set %s failed: %w", key, err)
	}
	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullTime
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM payload_cache WHERE cache_key = $1`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s failed: %w", key, err)
	}
	if isExpired(expiresAt, c.now()) {
		return nil, cache.ErrMiss
	}
	return value, nil
}

func (c *PostgresCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM payload_cache WHERE cache_key = ANY($1)`, pq.Array(keys)); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Claim deletes key and its group in one statement. Row locks make a second
// concurrent claimer see no returned row for key.
func (c *PostgresCache) Claim(ctx context.Context, key string, group []string) (bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`DELETE FROM payload_cache WHERE cache_key = ANY($1) RETURNING cache_key, expires_at`,
		pq.Array(withKey(key, group)))
	if err != nil {
		return false, fmt.Errorf("cache claim %s failed: %w", key, err)
	}
	defer rows.Close()

	now := c.now()
	live := false
	for rows.Next() {
		var k string
		var expiresAt sql.NullTime
		if err := rows.Scan(&k, &expiresAt); err != nil {
			return false, fmt.Errorf("cache claim scan failed: %w", err)
		}
		if k == key && !isExpired(expiresAt, now) {
			live = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("cache claim iteration failed: %w", err)
	}
	return live, nil
}

func (c *PostgresCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM payload_cache WHERE expires_at IS NOT NULL AND expires_at <= $1`, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cache purge failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Debug("PostgresCache PurgeExpired", "removed", n)
	}
	return int(n), nil
}
