package bot

import (
	"context"
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// sendReply delivers a reply, retrying transient transport failures
func (b *Bot) sendReply(ctx context.Context, reply models.Reply) error {
	if reply.IsEmpty() || reply.ChatID == 0 {
		return nil
	}

	kind := "text"
	if reply.IsPhoto() {
		kind = "photo"
	}

	op := func() error {
		var err error
		if reply.IsPhoto() {
			err = b.api.SendPhoto(ctx, reply.ChatID, reply.Photo, reply.Caption)
		} else {
			err = b.api.SendText(ctx, reply.ChatID, reply.Text)
		}
		if err != nil && b.metrics != nil {
			b.metrics.SendErrors.WithLabelValues(kind).Inc()
		}
		if messenger.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b.sendBackoff(), sendAttempts-1), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		b.logger.Warn("Send failed, retrying",
			zap.Error(err),
			zap.String("kind", kind),
			zap.Duration("retry_in", wait),
		)
	})
}

// sendApology tells the sender something went wrong, if there is anyone to tell
func (b *Bot) sendApology(ctx context.Context, update models.Update, logger *zap.Logger) {
	if update.ChatID == 0 {
		return
	}

	if err := b.sendReply(ctx, models.Reply{ChatID: update.ChatID, Text: genericApology}); err != nil {
		logger.Error("Failed to send apology", zap.Error(err), zap.Int64("chat_id", update.ChatID))
	}
}
