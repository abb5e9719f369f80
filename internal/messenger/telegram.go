package messenger

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"qrbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	// httpTimeout must exceed the long-poll timeout
	httpTimeout    = 75 * time.Second
	maxConnections = 40
)

// Telegram implements Messenger on top of the Bot API client
type Telegram struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewTelegram creates a Telegram client and verifies the token with getMe
func NewTelegram(token string, logger *zap.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: httpTimeout}, logger)
}

// NewTelegramWithEndpoint creates a Telegram client against a custom API endpoint.
// The endpoint is a format string taking the token and the method name.
func NewTelegramWithEndpoint(token, endpoint string, client *http.Client, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", newTransportError("getMe", err))
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	return &Telegram{
		api:    api,
		logger: logger,
	}, nil
}

// Username returns the bot's username as reported by getMe
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// SendText sends a plain text message
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return t.api.Send(msg)
	})
	return newTransportError("sendMessage", err)
}

// SendPhoto uploads a PNG image with a caption
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "qrcode.png",
		Bytes: image,
	})
	photo.Caption = caption

	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return t.api.Send(photo)
	})
	return newTransportError("sendPhoto", err)
}

// RegisterWebhook points the platform at url
func (t *Telegram) RegisterWebhook(ctx context.Context, url string) error {
	webhookConfig, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	webhookConfig.MaxConnections = maxConnections

	if _, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return t.api.Request(webhookConfig)
	}); err != nil {
		return newTransportError("setWebhook", err)
	}

	// Get webhook info to verify
	info, err := call(ctx, t.api.GetWebhookInfo)
	if err != nil {
		t.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		t.logger.Info("Webhook set successfully",
			zap.Int("pending_updates", info.PendingUpdateCount),
			zap.Int("max_connections", info.MaxConnections),
		)
	}
	return nil
}

// ClearWebhook removes any configured webhook, optionally dropping the backlog
func (t *Telegram) ClearWebhook(ctx context.Context, dropPending bool) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return t.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
	})
	return newTransportError("deleteWebhook", err)
}

// FetchUpdates long-polls getUpdates starting at cursor
func (t *Telegram) FetchUpdates(ctx context.Context, cursor int64, timeout time.Duration) ([]models.Update, int64, error) {
	u := tgbotapi.NewUpdate(int(cursor))
	u.Timeout = int(timeout / time.Second)

	raw, err := call(ctx, func() ([]tgbotapi.Update, error) {
		return t.api.GetUpdates(u)
	})
	if err != nil {
		return nil, cursor, newTransportError("getUpdates", err)
	}

	updates := make([]models.Update, 0, len(raw))
	for _, r := range raw {
		updates = append(updates, models.FromTelegram(r))
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].ID < updates[j].ID
	})

	return updates, models.NextCursor(updates, cursor), nil
}
