package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/metrics"
	"qrbot/internal/models"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxUpdateBody bounds a single webhook request body
const maxUpdateBody = 1 << 20

// defaultSubmitTimeout bounds how long a request waits for room in the dispatch queue
const defaultSubmitTimeout = 5 * time.Second

var errMissingUpdateID = errors.New("missing update_id")

// WebhookOptions configures the webhook listener
type WebhookOptions struct {
	// PublicURL is the externally reachable base URL, without the path
	PublicURL string
	// Secret is the last path segment; derived from Token when empty
	Secret string
	Token  string
	// Backoff builds the wait policy between registration attempts
	Backoff func() backoff.BackOff
	// SubmitTimeout bounds the wait for a free queue slot before answering 503
	SubmitTimeout time.Duration
}

// Webhook receives updates pushed by Telegram over HTTPS
type Webhook struct {
	api     messenger.Messenger
	sink    Sink
	opts    WebhookOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	stopped atomic.Bool
}

// NewWebhook creates a listener. Mount it at Path() on the HTTP router.
func NewWebhook(api messenger.Messenger, sink Sink, opts WebhookOptions, logger *zap.Logger, m *metrics.Metrics) *Webhook {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	if opts.Secret == "" {
		opts.Secret = DeriveSecret(opts.Token)
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(2 * time.Second) }
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}

	return &Webhook{
		api:     api,
		sink:    sink,
		opts:    opts,
		logger:  logger.With(zap.String("source", "webhook")),
		metrics: m,
	}
}

// DeriveSecret returns a stable, unguessable path segment for token
func DeriveSecret(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}

// Name implements Source
func (w *Webhook) Name() string {
	return "webhook"
}

// Path is the route the listener must be mounted at
func (w *Webhook) Path() string {
	return "/webhook/" + w.opts.Secret
}

// URL is the address registered with Telegram
func (w *Webhook) URL() string {
	return w.opts.PublicURL + w.Path()
}

// Start registers the webhook and blocks until ctx is cancelled.
// The HTTP listener must already be bound. Registration failures are not fatal.
func (w *Webhook) Start(ctx context.Context) error {
	w.logger.Info("Starting bot in webhook mode", zap.String("public_url", w.opts.PublicURL))

	w.register(ctx)

	<-ctx.Done()
	w.stopped.Store(true)
	w.logger.Info("Webhook listener stopped")
	return nil
}

// register sets the webhook, retrying once
func (w *Webhook) register(ctx context.Context) {
	bo := backoff.WithContext(backoff.WithMaxRetries(w.opts.Backoff(), 1), ctx)

	err := backoff.RetryNotify(func() error {
		return w.api.RegisterWebhook(ctx, w.URL())
	}, bo, func(err error, wait time.Duration) {
		w.logger.Warn("Failed to set webhook, retrying",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	})
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to set webhook; updates will not arrive until it is registered",
				zap.Error(err),
				zap.String("public_url", w.opts.PublicURL),
			)
		}
		return
	}
	w.logger.Info("Webhook configured", zap.String("public_url", w.opts.PublicURL))
}

// ServeHTTP accepts one update per request
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if w.stopped.Load() {
		http.Error(rw, "Shutting down", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, maxUpdateBody)
	raw, err := decodeUpdate(r.Body)
	if err != nil {
		// Acknowledged so Telegram does not redeliver it
		w.logger.Error("Error decoding webhook update",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		writeOK(rw)
		return
	}

	if w.metrics != nil {
		w.metrics.UpdatesReceived.WithLabelValues(w.Name()).Inc()
	}

	ctx, cancel := context.WithTimeout(r.Context(), w.opts.SubmitTimeout)
	defer cancel()
	if err := w.sink.Submit(ctx, models.FromTelegram(raw)); err != nil {
		w.logger.Warn("Failed to hand off update",
			zap.Int("update_id", raw.UpdateID),
			zap.Error(err),
		)
		http.Error(rw, "Unavailable", http.StatusServiceUnavailable)
		return
	}
	writeOK(rw)
}

// decodeUpdate reads exactly one update object from body
func decodeUpdate(body io.Reader) (tgbotapi.Update, error) {
	var raw tgbotapi.Update
	data, err := io.ReadAll(body)
	if err != nil {
		return raw, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, err
	}
	if raw.UpdateID == 0 {
		return raw, errMissingUpdateID
	}
	return raw, nil
}

func writeOK(rw http.ResponseWriter) {
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "OK")
}
