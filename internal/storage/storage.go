package storage

import (
	"context"
	"time"

	"qrbot/internal/models"
)

// Storage defines the interface for dispatch statistics.
// Only anonymous outcomes are stored, never message text or user ids.
type Storage interface {
	// RecordDispatch stores the outcome of one dispatched update
	RecordDispatch(ctx context.Context, event models.DispatchEvent) error

	// Summary aggregates events recorded at or after since
	Summary(ctx context.Context, since time.Time) (models.DispatchSummary, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
