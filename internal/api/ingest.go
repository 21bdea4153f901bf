package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

const maxIngestBody = 1 << 20

// autoProviderName is the provider auto-created when ingress carries no
// resolvable provider identity.
const autoProviderName = "AutoBridge"

// HandleTradingViewWebhook ingests a structured signal payload.
func (h *Handlers) HandleTradingViewWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	sig, err := signal.Normalize(raw, body)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "normalization failed",
			"errors":  []string{err.Error()},
		})
		return
	}

	provider, err := h.resolveProvider(r, raw)
	if err != nil {
		h.logger.Error("resolve provider", "error", err)
		writeError(w, http.StatusInternalServerError, "provider resolution failed")
		return
	}

	h.acceptSignal(w, r, sig, provider)
}

// HandleAlertWebhook ingests a text alert: {"body": "<multiline text>"}.
func (h *Handlers) HandleAlertWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "expected JSON with a non-empty \"body\" field")
		return
	}

	sig, err := signal.NormalizeText(req.Body, body)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "alert text could not be parsed",
			"errors":  []string{err.Error()},
		})
		return
	}

	provider, err := h.resolveProvider(r, nil)
	if err != nil {
		h.logger.Error("resolve provider", "error", err)
		writeError(w, http.StatusInternalServerError, "provider resolution failed")
		return
	}

	h.acceptSignal(w, r, sig, provider)
}

// acceptSignal validates and persists a normalized signal, emitting the
// registration event on acceptance. Invalid signals are persisted with
// status INVALID for audit and refused with 422.
func (h *Handlers) acceptSignal(w http.ResponseWriter, r *http.Request, sig *types.Signal, provider *types.Provider) {
	ctx := r.Context()
	now := time.Now().UTC()

	sig.ID = uuid.NewString()
	sig.ProviderID = provider.ID
	sig.CreatedAt = now
	sig.NextPollAt = now

	recent, err := h.store.ListRecentSignals(ctx, provider.ID, now.Add(-h.duplicateWindow))
	if err != nil {
		h.logger.Error("list recent signals", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}

	res := signal.Validate(sig, h.vcfg, recent, now)

	if !res.IsValid {
		sig.Status = types.StatusInvalid
		if err := h.store.InsertSignal(ctx, sig); err != nil {
			h.logger.Error("insert invalid signal", "error", err)
			writeError(w, http.StatusInternalServerError, "persistence error")
			return
		}
		h.insertIngressEvent(ctx, sig, types.EventValidationFailed, nil, now)
		h.logger.Warn("signal refused",
			"signal_id", sig.ID,
			"symbol", sig.Symbol,
			"errors", res.Errors,
		)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message":  "signal failed validation",
			"errors":   res.Errors,
			"warnings": res.Warnings,
		})
		return
	}

	if err := h.store.InsertSignal(ctx, sig); err != nil {
		h.logger.Error("insert signal", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence error")
		return
	}
	h.insertIngressEvent(ctx, sig, types.EventEntryRegistered, nil, now)

	h.logger.Info("signal accepted",
		"signal_id", sig.ID,
		"provider", provider.Name,
		"symbol", sig.Symbol,
		"direction", sig.Direction,
		"rr_ratio", sig.RRRatio,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "accepted",
		"signal_id":  sig.ID,
		"validation": res,
	})
}

func (h *Handlers) insertIngressEvent(ctx context.Context, sig *types.Signal, et types.EventType, price *float64, now time.Time) {
	ev := &types.SignalEvent{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		EventType: et,
		Price:     price,
		Source:    types.SourceTradingView,
		EventTime: now,
	}
	if err := h.store.InsertEvent(ctx, ev); err != nil {
		h.logger.Error("insert ingress event", "signal_id", sig.ID, "error", err)
	}
}

// resolveProvider implements the ingress identity chain: X-API-Key hash,
// then payload provider name, then the oldest active provider, finally an
// auto-created one.
func (h *Handlers) resolveProvider(r *http.Request, raw map[string]any) (*types.Provider, error) {
	ctx := r.Context()

	if key := r.Header.Get("X-API-Key"); key != "" {
		if p, err := h.store.GetProviderByKeyHash(ctx, hashAPIKey(key)); err == nil {
			return p, nil
		} else if err != store.ErrNotFound {
			return nil, err
		}
	}

	if raw != nil {
		if name, ok := raw["provider"].(string); ok && name != "" {
			if p, err := h.store.GetProviderByName(ctx, name); err == nil {
				return p, nil
			} else if err != store.ErrNotFound {
				return nil, err
			}
		}
	}

	if p, err := h.store.FirstActiveProvider(ctx); err == nil {
		return p, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	p := &types.Provider{
		ID:            uuid.NewString(),
		Name:          autoProviderName,
		APIKeyHash:    hashAPIKey(newToken()),
		WebhookSecret: newToken(),
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := h.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	h.logger.Info("auto-created provider", "provider_id", p.ID, "name", p.Name)
	return p, nil
}

// newToken returns a URL-safe random credential.
func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
