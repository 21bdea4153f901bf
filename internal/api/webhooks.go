package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

// HandleCreateWebhook registers a delivery subscription for a provider.
func (h *Handlers) HandleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string            `json:"provider_id"`
		URL        string            `json:"url"`
		EventTypes []types.EventType `json:"event_types"`
		Headers    map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	if req.ProviderID == "" || req.URL == "" || len(req.EventTypes) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "provider_id, url and event_types are required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusUnprocessableEntity, "url must be http or https")
		return
	}
	if _, err := h.store.GetProvider(r.Context(), req.ProviderID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnprocessableEntity, "provider not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	sub := &types.WebhookSubscription{
		ID:         uuid.NewString(),
		ProviderID: req.ProviderID,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Headers:    req.Headers,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		h.logger.Error("create subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	h.logger.Info("webhook subscription created", "webhook_id", sub.ID, "url", sub.URL)
	writeJSON(w, http.StatusCreated, sub)
}

// HandleListWebhooks returns subscriptions, optionally scoped to a provider.
func (h *Handlers) HandleListWebhooks(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	subs, err := h.store.ListSubscriptions(r.Context(), providerID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// HandleDeleteWebhook deactivates a subscription. Rows are kept so the
// delivery log history stays attributable.
func (h *Handlers) HandleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	sub.IsActive = false
	if err := h.store.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "webhook_id": sub.ID})
}

// HandleResetWebhook zeroes the consecutive-failure counter, closing the
// circuit breaker so deliveries resume.
func (h *Handlers) HandleResetWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetSubscription(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	if err := h.store.ResetSubscriptionFailures(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	h.logger.Info("webhook failures reset", "webhook_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "webhook_id": id})
}
