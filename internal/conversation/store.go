package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Store persists conversation contexts keyed by chat user ID.
type Store interface {
	// LoadContext returns the stored context, or an empty one on first contact.
	LoadContext(ctx context.Context, userID string) (*Context, error)

	// SaveContext replaces the stored context for the user.
	SaveContext(ctx context.Context, userID string, c *Context) error
}

// AccountStore links hub users to chat users.
type AccountStore interface {
	// LinkAccount records that hubUserID logged in from chatUserID.
	LinkAccount(ctx context.Context, hubUserID, chatUserID string) error

	// ChatUsersForHubUser returns every chat user linked to hubUserID.
	ChatUsersForHubUser(ctx context.Context, hubUserID string) ([]string, error)
}

// Repository combines context and account persistence.
type Repository interface {
	Store
	AccountStore
}

// MemoryStore is an in-memory Repository used when no database is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string][]byte
	accounts map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string][]byte),
		accounts: make(map[string]map[string]struct{}),
	}
}

var _ Repository = (*MemoryStore)(nil)

// LoadContext returns a copy of the stored context.
func (s *MemoryStore) LoadContext(_ context.Context, userID string) (*Context, error) {
	s.mu.RLock()
	data, ok := s.contexts[userID]
	s.mu.RUnlock()
	if !ok {
		slog.Debug("MemoryStore LoadContext: new context", "userID", userID)
		return New(), nil
	}
	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode context for %s: %w", userID, err)
	}
	return c, nil
}

// SaveContext stores a snapshot of c.
func (s *MemoryStore) SaveContext(_ context.Context, userID string, c *Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context for %s: %w", userID, err)
	}
	s.mu.Lock()
	s.contexts[userID] = data
	s.mu.Unlock()
	return nil
}

// LinkAccount records a hub/chat user pair.
func (s *MemoryStore) LinkAccount(_ context.Context, hubUserID, chatUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.accounts[hubUserID]
	if !ok {
		users = make(map[string]struct{})
		s.accounts[hubUserID] = users
	}
	users[chatUserID] = struct{}{}
	return nil
}

// ChatUsersForHubUser returns the chat users linked to hubUserID.
func (s *MemoryStore) ChatUsersForHubUser(_ context.Context, hubUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.accounts[hubUserID]))
	for u := range s.accounts[hubUserID] {
		users = append(users, u)
	}
	return users, nil
}
