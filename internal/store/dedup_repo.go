package store

import (
	"context"
	"time"
)

// DedupRecord is an inbound chat message already seen by the dispatcher.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo guards against handling a redelivered chat message twice.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound records messageID. It returns false if it was already recorded.
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)

	// MarkProcessed stamps the message as fully handled.
	MarkProcessed(ctx context.Context, messageID string) error
}
