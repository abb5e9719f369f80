package bot

import (
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/metrics"
	"qrbot/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// NewBot creates a Bot with the /start, /help and /stats commands registered.
// When api reports a username, "/cmd@otherbot" commands are ignored.
func NewBot(api messenger.Messenger, renderer Renderer, db storage.Storage, logger *zap.Logger, m *metrics.Metrics) *Bot {
	b := &Bot{
		api:         api,
		renderer:    renderer,
		db:          db,
		logger:      logger,
		metrics:     m,
		sendBackoff: defaultSendBackoff,
	}
	if named, ok := api.(namedMessenger); ok {
		b.username = named.Username()
	}

	b.commands = map[string]CommandHandler{
		"start": b.handleStart,
		"help":  b.handleStart,
		"stats": b.handleStats,
	}

	return b
}

func defaultSendBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return bo
}
