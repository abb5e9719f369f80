package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"qrbot/internal/metrics"
	"qrbot/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit once the dispatcher stopped accepting updates
	ErrClosed = errors.New("dispatcher closed")
	// ErrDrainTimeout is returned by Wait when in-flight work outlives the grace period
	ErrDrainTimeout = errors.New("dispatcher drain timed out")
)

// UpdateHandler processes one update. Implementations must not panic across calls.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update models.Update)
}

// DispatcherOptions configures the worker pool
type DispatcherOptions struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

// Dispatcher feeds submitted updates to a bounded pool of workers
type Dispatcher struct {
	handler UpdateHandler
	opts    DispatcherOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue    chan models.Update
	stopping chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	startOnce sync.Once
	workers   sync.WaitGroup

	// baseCtx outlives shutdown signals so in-flight replies can finish; Abort cancels it
	baseCtx context.Context
	abort   context.CancelFunc
}

// NewDispatcher creates a Dispatcher; call Start to launch the workers
func NewDispatcher(handler UpdateHandler, opts DispatcherOptions, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:  handler,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		queue:    make(chan models.Update, opts.QueueSize),
		stopping: make(chan struct{}),
		baseCtx:  ctx,
		abort:    cancel,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.workers.Add(1)
			go d.work(i)
		}
		d.logger.Info("Dispatcher started", zap.Int("workers", d.opts.Workers))
	})
}

// Submit enqueues an update, blocking while the queue is full
func (d *Dispatcher) Submit(ctx context.Context, update models.Update) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- update:
		return nil
	case <-d.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting updates. Already queued updates are still processed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		// Unblock submitters first so the write lock can be taken
		close(d.stopping)

		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
}

// Wait blocks until every accepted update has been handled or ctx is done.
// It must be called after Close.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}

// Abort cancels the context of every running handler
func (d *Dispatcher) Abort() {
	d.abort()
}

func (d *Dispatcher) work(id int) {
	defer d.workers.Done()

	for update := range d.queue {
		d.run(id, update)
	}
}

func (d *Dispatcher) run(id int, update models.Update) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.opts.HandlerTimeout)
	defer cancel()

	if d.metrics != nil {
		d.metrics.InFlight.Inc()
		defer d.metrics.InFlight.Dec()
	}

	// Last line of defense; handlers recover on their own
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in dispatcher worker",
				zap.Int("worker", id),
				zap.Int64("update_id", update.ID),
				zap.Any("panic", r),
			)
		}
	}()

	d.handler.HandleUpdate(ctx, update)
}
