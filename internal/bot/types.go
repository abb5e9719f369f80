package bot

import (
	"context"
	"errors"
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/metrics"
	"qrbot/internal/models"
	"qrbot/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrHandler marks a failure inside a handler
var ErrHandler = errors.New("handler failed")

// Renderer turns text into an image
type Renderer interface {
	Render(text string) ([]byte, error)
}

// namedMessenger is a messenger that knows the bot's username
type namedMessenger interface {
	Username() string
}

// CommandHandler reacts to one recognized command
type CommandHandler func(ctx context.Context, update models.Update) (models.Reply, error)

// Bot routes classified updates to handlers and sends their replies
type Bot struct {
	api      messenger.Messenger
	renderer Renderer
	db       storage.Storage
	commands map[string]CommandHandler
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// username is the bot's own name; commands addressed to another bot are ignored
	username string

	// sendBackoff builds the retry policy for outbound sends
	sendBackoff func() backoff.BackOff
}

// Route is where the dispatcher sends an update
type Route int

const (
	RouteIgnore Route = iota
	RouteCommand
	RouteText
)

func (r Route) String() string {
	switch r {
	case RouteCommand:
		return "command"
	case RouteText:
		return "text"
	default:
		return "ignore"
	}
}

const (
	// CaptionLimit is Telegram's maximum photo caption length
	CaptionLimit = 1024

	sendAttempts  = 3
	recordTimeout = 5 * time.Second
	statsWindow   = 24 * time.Hour
)

// User-visible texts
const (
	welcomeText = "👋 Welcome to the QR Code Generator Bot!\n\n" +
		"Simply send me any text, and I'll generate a QR code for it.\n" +
		"The QR code will be sent back as a PNG image."
	captionPrefix    = "Here's your QR code for: "
	emptyTextReply   = "Please send me some text and I'll turn it into a QR code."
	encodingApology  = "😔 Sorry, I couldn't turn that text into a QR code. Please try a shorter message."
	genericApology   = "⚠️ An unexpected error occurred. Please try again later."
	statsUnavailable = "Statistics are not available right now."
)
