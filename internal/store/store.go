// Package store provides the SQLite and PostgreSQL backends for AskForHelp:
// conversation contexts, account links, the payload cache, durable jobs and
// inbound message deduplication.
package store

import (
	"context"
	"strings"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
)

// Store is the full persistence surface exposed by both SQL backends.
type Store interface {
	conversation.Repository
	JobRepo
	DedupRepo

	// PayloadCache returns the cache backend sharing this store's database.
	PayloadCache() cache.Backend

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	Close() error
}

// Opts holds configuration for the SQL stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path or DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") && strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the store matching the DSN type.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// sqliteFilePath strips the file: scheme and query string from a DSN.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
