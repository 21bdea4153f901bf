package notify

import (
	"context"
	"log/slog"
	"sync"

	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

// Router matches emitted events to the owning provider's subscriptions and
// dispatches deliveries through a bounded worker pool.
type Router struct {
	store            store.Store
	sender           *Sender
	breakerThreshold int
	sem              chan struct{}
	wg               sync.WaitGroup
	logger           *slog.Logger
}

// NewRouter wires the router. maxConcurrent bounds in-flight deliveries;
// breakerThreshold is the consecutive-failure count at which a
// subscription is skipped until an operator resets it.
func NewRouter(st store.Store, sender *Sender, breakerThreshold, maxConcurrent int, logger *slog.Logger) *Router {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Router{
		store:            st,
		sender:           sender,
		breakerThreshold: breakerThreshold,
		sem:              make(chan struct{}, maxConcurrent),
		logger:           logger.With("component", "notify_router"),
	}
}

// Route fans an event out to every eligible subscription of the signal's
// provider. Circuit-broken subscriptions are excluded before any HTTP
// attempt. Deliveries run concurrently, bounded by the semaphore; Route
// returns once all are dispatched, not completed.
func (r *Router) Route(ctx context.Context, sig *types.Signal, ev *types.SignalEvent) {
	provider, err := r.store.GetProvider(ctx, sig.ProviderID)
	if err != nil {
		r.logger.Error("load provider", "provider_id", sig.ProviderID, "error", err)
		return
	}

	subs, err := r.store.ListSubscriptions(ctx, provider.ID, true)
	if err != nil {
		r.logger.Error("load subscriptions", "provider_id", provider.ID, "error", err)
		return
	}

	payload := BuildPayload(sig, ev)
	dispatched := 0

	for _, sub := range subs {
		if !sub.SubscribesTo(ev.EventType) {
			continue
		}
		if sub.ConsecutiveFailures >= r.breakerThreshold {
			r.logger.Warn("subscription circuit-broken, skipping",
				"webhook_id", sub.ID,
				"consecutive_failures", sub.ConsecutiveFailures,
			)
			continue
		}

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		r.wg.Add(1)
		dispatched++
		go func(sub *types.WebhookSubscription) {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.sender.Deliver(ctx, sub, payload, provider.WebhookSecret)
		}(sub)
	}

	if dispatched > 0 {
		r.logger.Debug("event routed",
			"event_id", ev.ID,
			"event_type", ev.EventType,
			"deliveries", dispatched,
		)
	}
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (r *Router) Wait() {
	r.wg.Wait()
}
