package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps bot state in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	cache *PostgresCache
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, cache: newPostgresCache(db)}, nil
}

// PayloadCache returns the cache backend stored in the same database.
func (s *PostgresStore) PayloadCache() cache.Backend {
	return s.cache
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

func (s *PostgresStore) LoadContext(ctx context.Context, userID string) (*conversation.Context, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT context_json FROM conversation_contexts WHERE user_id = $1`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore LoadContext: new context", "userID", userID)
		return conversation.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context for %s: %w", userID, err)
	}
	c := conversation.New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode context for %s: %w", userID, err)
	}
	return c, nil
}

func (s *PostgresStore) SaveContext(ctx context.Context, userID string, c *conversation.Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context for %s: %w", userID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts (user_id, context_json, current_state, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET context_json = EXCLUDED.context_json, current_state = EXCLUDED.current_state, updated_at = EXCLUDED.updated_at`,
		userID, data, nilIfEmpty(string(c.State())), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save context for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore SaveContext", "userID", userID, "state", c.State().String())
	return nil
}

func (s *PostgresStore) LinkAccount(ctx context.Context, hubUserID, chatUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (hub_user_id, chat_user_id, linked_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		hubUserID, chatUserID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to link account %s: %w", hubUserID, err)
	}
	return nil
}

func (s *PostgresStore) ChatUsersForHubUser(ctx context.Context, hubUserID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_user_id FROM accounts WHERE hub_user_id = $1 ORDER BY linked_at`, hubUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for %s: %w", hubUserID, err)
	}
	return scanStrings(rows)
}
