package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps all bot state in a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	cache *SQLiteCache
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the SQLite database named by the
// DSN option and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqliteFilePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db, cache: newSQLiteCache(db)}, nil
}

// PayloadCache returns the cache backend stored in the same database.
func (s *SQLiteStore) PayloadCache() cache.Backend {
	return s.cache
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// LoadContext returns the user's stored context, or an empty one.
func (s *SQLiteStore) LoadContext(ctx context.Context, userID string) (*conversation.Context, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT context_json FROM conversation_contexts WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore LoadContext: new context", "userID", userID)
		return conversation.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context for %s: %w", userID, err)
	}
	c := conversation.New()
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("failed to decode context for %s: %w", userID, err)
	}
	return c, nil
}

// SaveContext upserts the user's context.
func (s *SQLiteStore) SaveContext(ctx context.Context, userID string, c *conversation.Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context for %s: %w", userID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts (user_id, context_json, current_state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET context_json = excluded.context_json, current_state = excluded.current_state, updated_at = excluded.updated_at`,
		userID, string(data), nilIfEmpty(string(c.State())), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save context for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore SaveContext", "userID", userID, "state", c.State().String())
	return nil
}

// LinkAccount records that chatUserID logged in as hubUserID.
func (s *SQLiteStore) LinkAccount(ctx context.Context, hubUserID, chatUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (hub_user_id, chat_user_id, linked_at) VALUES (?, ?, ?)`,
		hubUserID, chatUserID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to link account %s: %w", hubUserID, err)
	}
	return nil
}

// ChatUsersForHubUser lists the chat users linked to hubUserID.
func (s *SQLiteStore) ChatUsersForHubUser(ctx context.Context, hubUserID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_user_id FROM accounts WHERE hub_user_id = ? ORDER BY linked_at`, hubUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for %s: %w", hubUserID, err)
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
