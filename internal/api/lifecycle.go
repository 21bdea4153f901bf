package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"signal-bridge/internal/metrics"
	"signal-bridge/internal/signal"
	"signal-bridge/pkg/types"
)

// advanceSignal applies one externally-reported lifecycle event: run the
// state machine, persist the event and updated signal, and fan the event
// out. A refusal is returned as a reason string with no side effects.
func (h *Handlers) advanceSignal(ctx context.Context, sig *types.Signal, event types.EventType, price *float64, source types.EventSource, at time.Time) (refused string, err error) {
	res := signal.Apply(sig.Status, event)
	if !res.DidTransition {
		return res.Reason, nil
	}

	ev := &types.SignalEvent{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		EventType: event,
		Price:     price,
		Source:    source,
		EventTime: at,
	}
	if err := h.store.InsertEvent(ctx, ev); err != nil {
		return "", err
	}

	sig.Status = res.NewStatus
	if res.NewStatus == types.StatusActive && sig.ActivatedAt == nil {
		sig.ActivatedAt = &at
	}
	if res.IsTerminal {
		cp := sig.EntryPrice
		if price != nil {
			cp = *price
		} else if sig.LastPrice != nil {
			cp = *sig.LastPrice
		}
		signal.Finalize(sig, event, cp, at)
	}

	if err := h.store.UpdateSignal(ctx, sig); err != nil {
		return "", err
	}

	metrics.Hits.WithLabelValues(string(event)).Inc()
	h.logger.Info("lifecycle event applied",
		"signal_id", sig.ID,
		"event", event,
		"source", source,
		"status", sig.Status,
	)

	h.router.Route(ctx, sig, ev)
	return "", nil
}
