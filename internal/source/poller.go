package source

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/metrics"
	"qrbot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// PollerOptions configures the long-poll loop
type PollerOptions struct {
	Timeout     time.Duration
	DropPending bool
	// MaxRetries is the number of consecutive failures tolerated; 0 retries forever
	MaxRetries int
	// Backoff builds the wait policy between failed calls
	Backoff func() backoff.BackOff
}

// Poller repeatedly requests batches of updates and hands them to a Sink
type Poller struct {
	api     messenger.Messenger
	sink    Sink
	opts    PollerOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	cursor atomic.Int64
}

// NewPoller creates a Poller starting at cursor 0
func NewPoller(api messenger.Messenger, sink Sink, opts PollerOptions, logger *zap.Logger, m *metrics.Metrics) *Poller {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = defaultPollBackoff
	}

	return &Poller{
		api:     api,
		sink:    sink,
		opts:    opts,
		logger:  logger.With(zap.String("source", "poller")),
		metrics: m,
	}
}

func defaultPollBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// Name implements Source
func (p *Poller) Name() string {
	return "poller"
}

// Cursor returns the offset of the next update to fetch
func (p *Poller) Cursor() int64 {
	return p.cursor.Load()
}

// Start clears any webhook, then polls until ctx is cancelled
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting bot in polling mode",
		zap.Duration("poll_timeout", p.opts.Timeout),
		zap.Bool("drop_pending_updates", p.opts.DropPending),
	)

	if err := p.clearWebhook(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		p.logger.Info("Poller stopped")
		return nil
	}

	bo := p.opts.Backoff()
	failures := 0

	p.logger.Info("Poller started. Waiting for updates...")
	for {
		if ctx.Err() != nil {
			p.logger.Info("Poller stopped", zap.Int64("cursor", p.Cursor()))
			return nil
		}

		updates, _, err := p.FetchBatch(ctx, p.Cursor())
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			if p.metrics != nil {
				p.metrics.PollErrors.Inc()
			}
			if stop, err := p.retryWait(ctx, bo, failures, "getUpdates", err); stop {
				return err
			}
			continue
		}
		failures = 0
		bo.Reset()

		if err := p.handOff(ctx, updates); err != nil {
			return err
		}
	}
}

// FetchBatch requests updates newer than cursor, waiting up to the poll timeout.
// It returns the updates in ascending id order and the cursor past them.
func (p *Poller) FetchBatch(ctx context.Context, cursor int64) ([]models.Update, int64, error) {
	updates, next, err := p.api.FetchUpdates(ctx, cursor, p.opts.Timeout)
	if err != nil {
		return nil, cursor, err
	}
	return updates, next, nil
}

// handOff submits updates in order, advancing the cursor past each accepted one
func (p *Poller) handOff(ctx context.Context, updates []models.Update) error {
	for _, u := range updates {
		if err := p.sink.Submit(ctx, u); err != nil {
			if ctx.Err() != nil {
				// Not handed off; the update is fetched again on the next run
				return nil
			}
			return fmt.Errorf("failed to hand off update %d: %w", u.ID, err)
		}
		p.advance(u.ID + 1)

		if p.metrics != nil {
			p.metrics.UpdatesReceived.WithLabelValues(p.Name()).Inc()
		}
	}
	return nil
}

// advance moves the cursor forward, never backwards
func (p *Poller) advance(next int64) {
	for {
		cur := p.cursor.Load()
		if next <= cur || p.cursor.CompareAndSwap(cur, next) {
			return
		}
	}
}

// clearWebhook removes a previously registered webhook so getUpdates works
func (p *Poller) clearWebhook(ctx context.Context) error {
	bo := p.opts.Backoff()
	failures := 0

	for {
		err := p.api.ClearWebhook(ctx, p.opts.DropPending)
		if err == nil {
			if p.opts.DropPending {
				p.logger.Info("Webhook cleared, pending updates dropped")
			} else {
				p.logger.Info("Webhook cleared")
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if stop, err := p.retryWait(ctx, bo, failures, "deleteWebhook", err); stop {
			return err
		}
	}
}

// retryWait reports a failed call and waits before the next attempt.
// It returns stop=true when the retry limit is exhausted or ctx is done.
func (p *Poller) retryWait(ctx context.Context, bo backoff.BackOff, failures int, op string, cause error) (bool, error) {
	wait := bo.NextBackOff()
	p.logger.Error("Telegram call failed",
		zap.String("op", op),
		zap.Error(cause),
		zap.Int("attempt", failures),
		zap.Int("max_retries", p.opts.MaxRetries),
		zap.Int64("cursor", p.Cursor()),
		zap.Duration("retry_in", wait),
	)

	if (p.opts.MaxRetries > 0 && failures > p.opts.MaxRetries) || wait == backoff.Stop {
		return true, fmt.Errorf("%s failed %d times in a row: %w", op, failures, cause)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return true, nil
	}
}
