// Package api is the HTTP frontend: signal ingress, provider and webhook
// management, signal queries, and operational endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-bridge/internal/config"
	"signal-bridge/internal/notify"
	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
)

// Server runs the HTTP API.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the router and handlers.
func NewServer(
	cfg config.ServerConfig,
	st store.Store,
	router *notify.Router,
	vcfg signal.ValidatorConfig,
	duplicateWindow time.Duration,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(st, router, vcfg, duplicateWindow, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(allowOrigins(cfg.AllowedOrigins))
	}

	r.Get("/health", handlers.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhook/tradingview", handlers.HandleTradingViewWebhook)
		r.Post("/webhook/alert", handlers.HandleAlertWebhook)
		r.Post("/webhook/pinescript", handlers.HandlePineScriptEvent)

		r.Route("/providers", func(r chi.Router) {
			r.Post("/", handlers.HandleCreateProvider)
			r.Get("/", handlers.HandleListProviders)
			r.Get("/{id}", handlers.HandleGetProvider)
			r.Get("/{id}/stats", handlers.HandleProviderStats)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", handlers.HandleCreateWebhook)
			r.Get("/", handlers.HandleListWebhooks)
			r.Delete("/{id}", handlers.HandleDeleteWebhook)
			r.Post("/{id}/reset", handlers.HandleResetWebhook)
		})

		r.Route("/signals", func(r chi.Router) {
			r.Get("/", handlers.HandleListSignals)
			r.Get("/{id}", handlers.HandleGetSignal)
			r.Get("/{id}/events", handlers.HandleListSignalEvents)
			r.Post("/{id}/close", handlers.HandleCloseSignal)
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.server.Handler
}

func allowOrigins(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	all := false
	for _, o := range origins {
		if o == "*" {
			all = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (all || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
