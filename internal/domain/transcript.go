package domain

import (
	"context"
	"time"
)

// TranscriptStore keeps an append-only record of committed chat messages.
// It is write-mostly: sessions are never restored from it.
type TranscriptStore interface {
	StartSession(ctx context.Context, rec SessionRecord) error
	SetDocument(ctx context.Context, sessionID, document string) error
	AddMessage(ctx context.Context, sessionID string, msg Message) error
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Close() error
}

type SessionRecord struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Document  string    `json:"document"`
	Messages  int       `json:"messages"`
	StartedAt time.Time `json:"started_at"`
}
