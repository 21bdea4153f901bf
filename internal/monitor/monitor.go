package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signal-bridge/internal/metrics"
	"signal-bridge/internal/notify"
	"signal-bridge/internal/price"
	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

// Settings tune the monitor loop.
type Settings struct {
	CycleInterval  time.Duration
	BatchSize      int
	HeartbeatEvery int
	ExpireAfter    time.Duration
}

// Monitor is the long-lived worker that walks open signals through their
// lifecycle as prices cross their levels. It is the sole producer of
// automatic transitions; each signal is processed sequentially within a
// cycle, which gives events per signal a total order.
type Monitor struct {
	store    store.Store
	prices   *price.Manager
	sched    *price.Scheduler
	router   *notify.Router
	feed     CryptoFeed
	settings Settings
	logger   *slog.Logger

	cycles int
}

// CryptoFeed is a streaming quote source the monitor keeps subscribed to
// the crypto symbols it watches, so their quotes come from the cache
// instead of REST calls.
type CryptoFeed interface {
	Subscribe(symbols []string) error
}

// New wires a monitor.
func New(st store.Store, prices *price.Manager, sched *price.Scheduler, router *notify.Router, settings Settings, logger *slog.Logger) *Monitor {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 200
	}
	if settings.CycleInterval <= 0 {
		settings.CycleInterval = 3 * time.Second
	}
	if settings.HeartbeatEvery <= 0 {
		settings.HeartbeatEvery = 60
	}
	return &Monitor{
		store:    st,
		prices:   prices,
		sched:    sched,
		router:   router,
		settings: settings,
		logger:   logger.With("component", "monitor"),
	}
}

// AttachFeed registers a streaming source for crypto symbols. Optional;
// without a feed every quote comes from the REST adapters.
func (m *Monitor) AttachFeed(feed CryptoFeed) {
	m.feed = feed
}

// Run executes monitor cycles until ctx is cancelled. A cycle that takes
// longer than the interval is followed immediately by the next one.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.settings.CycleInterval)
	defer ticker.Stop()

	m.logger.Info("monitor started",
		"cycle_interval", m.settings.CycleInterval,
		"batch_size", m.settings.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle performs one scan: load due signals, fetch grouped prices,
// detect hits, apply transitions, reschedule.
func (m *Monitor) runCycle(ctx context.Context) {
	now := time.Now().UTC()

	due, err := m.store.ListSignalsDue(ctx, now, m.settings.BatchSize)
	if err != nil {
		m.logger.Error("list due signals", "error", err)
		return
	}

	m.cycles++
	metrics.Cycles.Inc()

	if len(due) > 0 {
		symbols := make(map[string]types.AssetClass, len(due))
		for _, sig := range due {
			symbols[sig.Symbol] = sig.AssetClass
		}
		m.feedSubscribe(symbols)
		quotes := m.prices.GetBatch(ctx, symbols)

		for _, sig := range due {
			if ctx.Err() != nil {
				return
			}
			m.checkSignal(ctx, sig, quotes)
		}
		metrics.SignalsChecked.Add(float64(len(due)))
	}

	if m.cycles%m.settings.HeartbeatEvery == 0 {
		m.heartbeat(ctx)
	}
}

func (m *Monitor) feedSubscribe(symbols map[string]types.AssetClass) {
	if m.feed == nil {
		return
	}
	var crypto []string
	for sym, class := range symbols {
		if class == types.AssetCrypto {
			crypto = append(crypto, sym)
		}
	}
	if len(crypto) == 0 {
		return
	}
	if err := m.feed.Subscribe(crypto); err != nil {
		m.logger.Warn("stream subscribe failed", "symbols", len(crypto), "error", err)
	}
}

// checkSignal records the observed price, expires stale PENDING signals,
// runs the hit detector, and reschedules the next poll.
func (m *Monitor) checkSignal(ctx context.Context, sig *types.Signal, quotes map[string]types.PriceQuote) {
	now := time.Now().UTC()

	quote, ok := quotes[sig.Symbol]
	if !ok {
		// No price this cycle; the due scan will pick the signal up again.
		m.logger.Debug("no quote for symbol", "symbol", sig.Symbol, "signal_id", sig.ID)
		return
	}

	cp := quote.Price
	sig.LastPrice = &cp
	sig.LastPriceAt = &now
	m.trackExcursion(sig, cp)

	if sig.Status == types.StatusPending && m.settings.ExpireAfter > 0 &&
		now.Sub(sig.EntryTime) > m.settings.ExpireAfter {
		m.processHit(ctx, sig, types.EventExpired, cp, now)
		return
	}

	if event, hit := DetectHit(sig, cp); hit {
		m.processHit(ctx, sig, event, cp, now)
		if sig.Status.IsTerminal() {
			return
		}
	}

	zone, next := m.sched.NextPoll(sig, cp, now)
	sig.NextPollAt = next
	if err := m.store.UpdateSignal(ctx, sig); err != nil {
		m.logger.Error("update signal", "signal_id", sig.ID, "error", err)
		return
	}
	m.logger.Debug("signal checked",
		"signal_id", sig.ID,
		"symbol", sig.Symbol,
		"price", cp,
		"zone", zone,
	)
}

// processHit applies the state machine and, on a real transition, persists
// the event, updates the signal, and schedules notification fan-out.
// Refusals are logged and dropped.
func (m *Monitor) processHit(ctx context.Context, sig *types.Signal, event types.EventType, cp float64, now time.Time) {
	res := signal.Apply(sig.Status, event)
	if !res.DidTransition {
		m.logger.Warn("transition refused",
			"signal_id", sig.ID,
			"event", event,
			"reason", res.Reason,
		)
		return
	}

	ev := &types.SignalEvent{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		EventType: event,
		Price:     types.Float64Ptr(cp),
		Source:    types.SourcePolling,
		EventTime: now,
	}
	if err := m.store.InsertEvent(ctx, ev); err != nil {
		m.logger.Error("insert event", "signal_id", sig.ID, "error", err)
		return
	}

	sig.Status = res.NewStatus
	if res.NewStatus == types.StatusActive && sig.ActivatedAt == nil {
		sig.ActivatedAt = &now
	}
	if res.IsTerminal {
		signal.Finalize(sig, event, cp, now)
	}

	if err := m.store.UpdateSignal(ctx, sig); err != nil {
		m.logger.Error("update signal after transition", "signal_id", sig.ID, "error", err)
		return
	}

	metrics.Hits.WithLabelValues(string(event)).Inc()
	m.logger.Info("level crossed",
		"signal_id", sig.ID,
		"symbol", sig.Symbol,
		"event", event,
		"price", cp,
		"status", sig.Status,
	)

	m.router.Route(ctx, sig, ev)
}

// trackExcursion keeps the running MFE/MAE against entry.
func (m *Monitor) trackExcursion(sig *types.Signal, cp float64) {
	if sig.Status == types.StatusPending {
		return
	}
	diff := cp - sig.EntryPrice
	if sig.Direction == types.Short {
		diff = -diff
	}
	if diff > 0 {
		if sig.MaxFavorable == nil || diff > *sig.MaxFavorable {
			sig.MaxFavorable = types.Float64Ptr(diff)
		}
	} else if diff < 0 {
		adv := -diff
		if sig.MaxAdverse == nil || adv > *sig.MaxAdverse {
			sig.MaxAdverse = types.Float64Ptr(adv)
		}
	}
}

func (m *Monitor) heartbeat(ctx context.Context) {
	open, err := m.store.CountOpenSignals(ctx)
	if err != nil {
		m.logger.Error("count open signals", "error", err)
		return
	}
	metrics.OpenSignals.Set(float64(open))
	m.logger.Info("monitor heartbeat",
		"cycles", m.cycles,
		"open_signals", open,
	)
}
