package source

import (
	"context"

	"qrbot/internal/models"
)

// Sink accepts updates for dispatch
type Sink interface {
	Submit(ctx context.Context, update models.Update) error
}

// Source delivers updates to a Sink until its context is cancelled.
// Exactly one Source may be active per bot token.
type Source interface {
	// Name identifies the strategy in logs and metrics
	Name() string
	// Start performs mode-specific setup and blocks until ctx is done.
	// A nil return means a clean stop.
	Start(ctx context.Context) error
}
