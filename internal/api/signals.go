package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

// ingressEventKinds are the event types a price-level webhook may report.
var ingressEventKinds = map[types.EventType]bool{
	types.EventEntryHit: true,
	types.EventTP1Hit:   true,
	types.EventTP2Hit:   true,
	types.EventTP3Hit:   true,
	types.EventSLHit:    true,
}

// HandlePineScriptEvent ingests a price-level event reported by an
// indicator: {signal_id, event_type, price, timestamp?}.
func (h *Handlers) HandlePineScriptEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignalID  string   `json:"signal_id"`
		EventType string   `json:"event_type"`
		Price     *float64 `json:"price"`
		Timestamp string   `json:"timestamp"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	if req.SignalID == "" || req.EventType == "" {
		writeError(w, http.StatusUnprocessableEntity, "signal_id and event_type are required")
		return
	}
	event := types.EventType(req.EventType)
	if !ingressEventKinds[event] {
		writeError(w, http.StatusUnprocessableEntity, "unsupported event_type "+req.EventType)
		return
	}

	sig, err := h.store.GetSignal(r.Context(), req.SignalID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		h.logger.Error("load signal", "signal_id", req.SignalID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	at := time.Now().UTC()
	if req.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			at = t.UTC()
		}
	}

	refused, err := h.advanceSignal(r.Context(), sig, event, req.Price, types.SourcePineScript, at)
	if err != nil {
		h.logger.Error("apply ingress event", "signal_id", sig.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	if refused != "" {
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": refused,
			"status":  string(sig.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "applied",
		"signal_id": sig.ID,
		"new_state": string(sig.Status),
	})
}

// HandleListSignals returns signals matching the query filter.
func (h *Handlers) HandleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SignalFilter{
		ProviderID: q.Get("provider_id"),
		Symbol:     q.Get("symbol"),
		Status:     types.Status(q.Get("status")),
		Limit:      100,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = t
		}
	}

	signals, err := h.store.ListSignals(r.Context(), filter)
	if err != nil {
		h.logger.Error("list signals", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// HandleGetSignal returns one signal by id.
func (h *Handlers) HandleGetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.store.GetSignal(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// HandleListSignalEvents returns the signal's event history in time order.
func (h *Handlers) HandleListSignalEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetSignal(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	events, err := h.store.ListEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// HandleCloseSignal manually closes a signal at an optional price.
func (h *Handlers) HandleCloseSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.store.GetSignal(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	var req struct {
		Price *float64 `json:"price"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	refused, err := h.advanceSignal(r.Context(), sig, types.EventManualClose, req.Price, types.SourceManual, time.Now().UTC())
	if err != nil {
		h.logger.Error("manual close", "signal_id", sig.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	if refused != "" {
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": refused,
			"status":  string(sig.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, sig)
}
