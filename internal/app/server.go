package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// routes builds the HTTP surface: health, status, metrics and, in webhook mode, the update endpoint
func (a *App) routes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	r.Get("/", a.handleIndex)
	r.Handle("/metrics", a.metrics.Handler())

	if a.session.Webhook != nil {
		r.Handle(a.session.Webhook.Path(), a.session.Webhook)
	}

	return r
}

// handleHealth reports 200 only while the bot is accepting updates
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := a.State()
	if state != StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Unavailable (%s)", state)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "QR Code Bot is running (mode: %s)", a.config.Mode)
}

// requestLogger logs each request at debug level. The webhook secret is never logged.
func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if a.session.Webhook != nil && path == a.session.Webhook.Path() {
			path = "/webhook/…"
		}
		a.logger.Debug("HTTP request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}
