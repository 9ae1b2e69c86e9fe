// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/entitykit/internal/activity"
	"github.com/matthewbaird/entitykit/internal/eventbus"
	"github.com/matthewbaird/entitykit/internal/handler"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/render"
	"github.com/matthewbaird/entitykit/internal/store"
)

// shutdownTimeout bounds how long in-flight requests get after the context
// is cancelled.
const shutdownTimeout = 10 * time.Second

// Config holds server configuration.
type Config struct {
	Port      int
	Store     *store.Store
	Evaluator *policy.Evaluator
	Bus       *eventbus.Bus
	Activity  activity.Store
	Logger    *slog.Logger

	// AllowedOrigins lists browser origins allowed to open the event
	// stream in addition to the server's own.
	AllowedOrigins []string
}

// NewRouter registers every route and wraps them with middleware.
func NewRouter(cfg Config) http.Handler {
	reg := cfg.Store.Registry()
	r := chi.NewRouter()
	r.Use(handler.Recovery, handler.Logging)

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// --- Metadata ---
	mh := handler.NewMetaHandler(reg)
	r.Get("/v1/nav", mh.Nav)
	r.Get("/v1/schema/{type}", mh.Schema)
	r.Get("/v1/resolve", mh.Resolve)

	// --- Change stream ---
	if cfg.Bus != nil {
		r.Get("/v1/events", handler.NewEventsHandler(cfg.Bus, cfg.Store, cfg.Evaluator, cfg.AllowedOrigins).ServeHTTP)
	}

	// --- Entities ---
	// One mount per navigation endpoint; the handler resolves type and id
	// from the full path itself.
	eh := handler.NewEntityHandler(cfg.Store, cfg.Evaluator, render.New(reg, cfg.Evaluator), cfg.Activity)
	seen := map[string]bool{}
	for _, nav := range reg.NavDescriptors() {
		if nav.Endpoint == "" || seen[nav.Endpoint] {
			continue
		}
		seen[nav.Endpoint] = true
		r.Handle(nav.Endpoint, eh)
		r.Handle(nav.Endpoint+"/*", eh)
	}
	return r
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr, "types", len(cfg.Store.Registry().Types()))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
