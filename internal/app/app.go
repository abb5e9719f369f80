package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"qrbot/internal/bot"
	"qrbot/internal/config"
	"qrbot/internal/messenger"
	"qrbot/internal/metrics"
	"qrbot/internal/render"
	"qrbot/internal/source"
	"qrbot/internal/storage"
	"qrbot/internal/storage/ch"
	"qrbot/internal/storage/stubs"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrShutdownTimeout is returned when in-flight handlers outlive the grace period
var ErrShutdownTimeout = errors.New("shutdown timed out with handlers still running")

// httpShutdownTimeout bounds closing idle HTTP connections after the drain
const httpShutdownTimeout = 5 * time.Second

// State is the lifecycle phase of the application
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is the bot's link to Telegram: the API client and the single active update source
type Session struct {
	API     messenger.Messenger
	Source  source.Source
	Webhook *source.Webhook // nil in polling mode
}

// App represents the application. It owns the session, the dispatcher and
// the HTTP listener for the lifetime of the process.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	session    Session
	db         storage.Storage
	bot        *bot.Bot
	dispatcher *bot.Dispatcher
	server     *http.Server

	state atomic.Int32
}

// New creates and initializes a new application instance
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("Starting QR Code Bot...", zap.String("mode", string(cfg.Mode)))

	api, err := messenger.NewTelegram(cfg.TelegramToken, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	db, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	return build(cfg, logger, api, db, render.New()), nil
}

// initStorage opens the dispatch statistics store
func initStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	var db storage.Storage
	if cfg.StatsBackend == config.StatsClickHouse {
		logger.Info("Connecting to ClickHouse",
			zap.String("host", cfg.ClickHouseHost),
			zap.Int("port", cfg.ClickHousePort),
			zap.String("database", cfg.ClickHouseDatabase),
			zap.String("user", cfg.ClickHouseUser),
			zap.Bool("tls", cfg.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB
	} else {
		logger.Info("Using in-memory dispatch statistics")
		db = stubs.NewMockDB()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Initialize(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to initialize database: %w", err), db.Close())
	}
	return db, nil
}

// build wires the components around an already connected messenger and store
func build(cfg *config.Config, logger *zap.Logger, api messenger.Messenger, db storage.Storage, renderer bot.Renderer) *App {
	m := metrics.New()

	a := &App{
		config:  cfg,
		logger:  logger,
		metrics: m,
		session: Session{API: api},
		db:      db,
	}

	a.bot = bot.NewBot(api, renderer, db, logger, m)
	a.dispatcher = bot.NewDispatcher(a.bot, bot.DispatcherOptions{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout,
	}, logger, m)

	// Exactly one source per process
	switch cfg.Mode {
	case config.ModeWebhook:
		a.session.Webhook = source.NewWebhook(api, a.dispatcher, source.WebhookOptions{
			PublicURL: cfg.WebhookURL,
			Secret:    cfg.WebhookSecret,
			Token:     cfg.TelegramToken,
		}, logger, m)
		a.session.Source = a.session.Webhook
	default:
		a.session.Source = source.NewPoller(api, a.dispatcher, source.PollerOptions{
			Timeout:     cfg.PollTimeout,
			DropPending: cfg.DropPendingUpdates,
			MaxRetries:  cfg.PollMaxRetries,
		}, logger, m)
	}

	a.server = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	a.state.Store(int32(StateStarting))
	return a
}

// State returns the current lifecycle phase
func (a *App) State() State {
	return State(a.state.Load())
}

func (a *App) setState(s State) {
	a.state.Store(int32(s))
	a.logger.Debug("Lifecycle state changed", zap.Stringer("state", s))
}

// Run binds the HTTP listener and serves until ctx is cancelled or the source fails
func (a *App) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(a.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.setState(StateStopped)
		return multierr.Append(fmt.Errorf("failed to listen on %s: %w", addr, err), a.db.Close())
	}
	return a.Serve(ctx, ln)
}

// Serve runs the application on an already bound listener. The listener is closed on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.dispatcher.Start()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// The source gets its own context so shutdown controls when it stops
	sourceCtx, stopSource := context.WithCancel(context.Background())
	defer stopSource()
	g, gctx := errgroup.WithContext(sourceCtx)
	g.Go(func() error {
		return a.session.Source.Start(gctx)
	})

	a.setState(StateRunning)

	var cause error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case <-gctx.Done():
		a.logger.Error("Update source stopped unexpectedly", zap.String("source", a.session.Source.Name()))
	case err := <-serveErr:
		a.logger.Error("HTTP server error", zap.Error(err))
		cause = fmt.Errorf("http server: %w", err)
	}

	stopSource()
	if err := g.Wait(); err != nil {
		cause = multierr.Append(cause, fmt.Errorf("%s: %w", a.session.Source.Name(), err))
	}

	return multierr.Append(cause, a.shutdown())
}

// shutdown drains in-flight work and releases resources
func (a *App) shutdown() error {
	a.setState(StateDraining)
	a.logger.Info("Shutting down...", zap.Duration("grace_period", a.config.ShutdownTimeout))

	var errs error

	a.dispatcher.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	if err := a.dispatcher.Wait(drainCtx); err != nil {
		a.logger.Error("Handlers still running after grace period, aborting", zap.Error(err))
		a.dispatcher.Abort()
		errs = multierr.Append(errs, ErrShutdownTimeout)
	}

	// Shutdown HTTP server gracefully
	httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer httpCancel()
	if err := a.server.Shutdown(httpCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
	}

	a.setState(StateStopped)
	if errs == nil {
		a.logger.Info("Shutdown complete")
	}
	return errs
}
