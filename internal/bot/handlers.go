package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"qrbot/internal/models"
	"qrbot/internal/render"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errEmptyText is returned with a hint reply when there is nothing to encode
var errEmptyText = errors.New("empty text")

// Route classifies an update. Every update maps to exactly one route;
// commands without a registered handler or addressed to another bot are ignored.
func (b *Bot) Route(update models.Update) Route {
	switch update.Kind {
	case models.KindCommand:
		if !b.addressedToMe(update) {
			return RouteIgnore
		}
		if _, ok := b.commands[update.Command]; ok {
			return RouteCommand
		}
		return RouteIgnore
	case models.KindText:
		return RouteText
	default:
		return RouteIgnore
	}
}

func (b *Bot) addressedToMe(update models.Update) bool {
	if update.Mention == "" || b.username == "" {
		return true
	}
	return strings.EqualFold(update.Mention, b.username)
}

// HandleUpdate routes one update, runs its handler and sends the reply.
// Failures are logged and answered with an apology; they never propagate.
func (b *Bot) HandleUpdate(ctx context.Context, update models.Update) {
	start := time.Now()
	route := b.Route(update)

	logger := b.logger.With(
		zap.Int64("update_id", update.ID),
		zap.String("route", route.String()),
		zap.String("trace_id", uuid.NewString()),
	)

	outcome := b.process(ctx, update, route, logger)

	if b.metrics != nil {
		b.metrics.Dispatched.WithLabelValues(route.String(), outcome).Inc()
	}
	b.record(update, route, outcome, time.Since(start), logger)

	logger.Debug("Update handled",
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	)
}

// process runs the handler for route and returns the outcome
func (b *Bot) process(ctx context.Context, update models.Update, route Route, logger *zap.Logger) (outcome string) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in handler",
				zap.Error(fmt.Errorf("%w: panic: %v", ErrHandler, r)),
				zap.Stack("stack"),
			)
			b.sendApology(ctx, update, logger)
			outcome = models.OutcomeHandlerError
		}
	}()

	var (
		reply models.Reply
		err   error
	)
	switch route {
	case RouteCommand:
		reply, err = b.commands[update.Command](ctx, update)
	case RouteText:
		reply, err = b.handleText(ctx, update)
	default:
		return models.OutcomeIgnored
	}

	outcome = models.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, errEmptyText):
		outcome = models.OutcomeEmptyText
	case errors.Is(err, render.ErrEncoding):
		logger.Warn("Could not encode text", zap.Error(err), zap.Int("text_length", len(update.Text)))
		outcome = models.OutcomeEncodingError
	default:
		logger.Error("Handler failed", zap.Error(fmt.Errorf("%w: %w", ErrHandler, err)))
		b.sendApology(ctx, update, logger)
		return models.OutcomeHandlerError
	}

	if err := b.sendReply(ctx, reply); err != nil {
		logger.Error("Failed to send reply", zap.Error(err), zap.Int64("chat_id", reply.ChatID))
		return models.OutcomeSendError
	}
	return outcome
}

// handleText renders the message text and replies with the QR code.
// Empty text and encoding failures yield a text reply and a non-nil error.
func (b *Bot) handleText(ctx context.Context, update models.Update) (models.Reply, error) {
	if strings.TrimSpace(update.Text) == "" {
		return models.Reply{ChatID: update.ChatID, Text: emptyTextReply}, errEmptyText
	}

	start := time.Now()
	image, err := b.renderer.Render(update.Text)
	if b.metrics != nil {
		b.metrics.RenderDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, render.ErrEncoding) {
			return models.Reply{ChatID: update.ChatID, Text: encodingApology}, err
		}
		return models.Reply{}, fmt.Errorf("failed to render: %w", err)
	}

	return models.Reply{
		ChatID:  update.ChatID,
		Photo:   image,
		Caption: truncateCaption(captionPrefix+update.Text, CaptionLimit),
	}, nil
}

// truncateCaption shortens s to at most limit UTF-16 code units, the unit
// Telegram measures captions in, marking the cut with an ellipsis
func truncateCaption(s string, limit int) string {
	if utf16Len(s) <= limit {
		return s
	}

	// The ellipsis takes one unit
	used := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if used+n > limit-1 {
			return s[:i] + "…"
		}
		used += n
	}
	return s
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// record stores the anonymous dispatch outcome
func (b *Bot) record(update models.Update, route Route, outcome string, duration time.Duration, logger *zap.Logger) {
	if b.db == nil {
		return
	}

	// Recording must not depend on the handler's context, which may have expired
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := b.db.RecordDispatch(ctx, models.DispatchEvent{
		UpdateID: update.ID,
		Route:    route.String(),
		Outcome:  outcome,
		Duration: duration,
		At:       time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record dispatch event", zap.Error(err))
	}
}
