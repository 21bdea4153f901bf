package api

import (
	"log/slog"
	"net/http"
	"time"

	"signal-bridge/internal/notify"
	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
)

// Handlers holds the dependencies shared by every endpoint. Freshly
// accepted signals are stamped due immediately; the monitor's scheduler
// owns every poll after that.
type Handlers struct {
	store           store.Store
	router          *notify.Router
	vcfg            signal.ValidatorConfig
	duplicateWindow time.Duration
	logger          *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	st store.Store,
	router *notify.Router,
	vcfg signal.ValidatorConfig,
	duplicateWindow time.Duration,
	logger *slog.Logger,
) *Handlers {
	if duplicateWindow <= 0 {
		duplicateWindow = 5 * time.Minute
	}
	return &Handlers{
		store:           st,
		router:          router,
		vcfg:            vcfg,
		duplicateWindow: duplicateWindow,
		logger:          logger.With("component", "api-handlers"),
	}
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
