package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qrbot/internal/models"

	"go.uber.org/zap"
)

// handleStart shows the welcome message
func (b *Bot) handleStart(ctx context.Context, update models.Update) (models.Reply, error) {
	return models.Reply{ChatID: update.ChatID, Text: welcomeText}, nil
}

// handleStats shows dispatch statistics for the last 24 hours
func (b *Bot) handleStats(ctx context.Context, update models.Update) (models.Reply, error) {
	if b.db == nil {
		return models.Reply{ChatID: update.ChatID, Text: statsUnavailable}, nil
	}

	summary, err := b.db.Summary(ctx, time.Now().Add(-statsWindow))
	if err != nil {
		b.logger.Warn("Failed to load dispatch summary", zap.Error(err))
		return models.Reply{ChatID: update.ChatID, Text: statsUnavailable}, nil
	}

	return models.Reply{ChatID: update.ChatID, Text: formatSummary(summary)}, nil
}

func formatSummary(s models.DispatchSummary) string {
	failures := s.ByOutcome[models.OutcomeHandlerError] + s.ByOutcome[models.OutcomeSendError]

	var text strings.Builder
	text.WriteString("📊 Last 24 hours:\n\n")
	text.WriteString(fmt.Sprintf("Updates handled: %d\n", s.Total))
	text.WriteString(fmt.Sprintf("QR codes requested: %d\n", s.ByRoute[RouteText.String()]))
	text.WriteString(fmt.Sprintf("Commands: %d\n", s.ByRoute[RouteCommand.String()]))
	text.WriteString(fmt.Sprintf("Ignored: %d\n", s.ByRoute[RouteIgnore.String()]))
	text.WriteString(fmt.Sprintf("Too long to encode: %d\n", s.ByOutcome[models.OutcomeEncodingError]))
	text.WriteString(fmt.Sprintf("Failures: %d", failures))
	return text.String()
}
