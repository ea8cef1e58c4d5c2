package domain

import "context"

// Channel is the interface for user-facing front-ends (terminal, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
