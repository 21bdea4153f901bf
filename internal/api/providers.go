package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

// HandleCreateProvider registers a provider. The raw api_key and
// webhook_secret appear in this response and nowhere else; only the key's
// hash is stored.
func (h *Handlers) HandleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "expected JSON with a non-empty \"name\" field")
		return
	}

	if _, err := h.store.GetProviderByName(r.Context(), req.Name); err == nil {
		writeError(w, http.StatusConflict, "provider name already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	apiKey := newToken()
	now := time.Now().UTC()
	p := &types.Provider{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Description:   req.Description,
		APIKeyHash:    hashAPIKey(apiKey),
		WebhookSecret: newToken(),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateProvider(r.Context(), p); err != nil {
		h.logger.Error("create provider", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	h.logger.Info("provider created", "provider_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"provider":       p,
		"api_key":        apiKey,
		"webhook_secret": p.WebhookSecret,
	})
}

// HandleListProviders returns all providers without credentials.
func (h *Handlers) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": providers,
		"count":     len(providers),
	})
}

// HandleGetProvider returns one provider by id.
func (h *Handlers) HandleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleProviderStats aggregates outcomes across the provider's signals.
func (h *Handlers) HandleProviderStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetProvider(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	signals, err := h.store.ListSignals(r.Context(), store.SignalFilter{ProviderID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	outcomes := make([]types.SignalOutcome, 0, len(signals))
	for _, sig := range signals {
		events, err := h.store.ListEvents(r.Context(), sig.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "persistence error")
			return
		}
		outcomes = append(outcomes, signal.Resolve(sig, events))
	}

	stats := signal.Aggregate(id, outcomes, time.Now().UTC())
	writeJSON(w, http.StatusOK, stats)
}
