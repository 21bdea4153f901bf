package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"signal-bridge/internal/notify"
	"signal-bridge/internal/price"
	"signal-bridge/internal/signal"
	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(st store.Store) *Monitor {
	sender := notify.NewSender(st, time.Second, nil, testLogger())
	router := notify.NewRouter(st, sender, 10, 4, testLogger())
	prices := price.NewManager(price.NewCache(10*time.Second), nil, testLogger())
	sched := price.NewScheduler(price.DefaultSchedulerSettings())
	return New(st, prices, sched, router, Settings{
		CycleInterval:  3 * time.Second,
		BatchSize:      200,
		HeartbeatEvery: 60,
		ExpireAfter:    72 * time.Hour,
	}, testLogger())
}

func insertSignal(t *testing.T, st store.Store, sig *types.Signal) {
	t.Helper()
	if err := st.InsertSignal(context.Background(), sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
}

// feed observes one price for the signal, the way a cycle would.
func feed(t *testing.T, m *Monitor, st store.Store, id string, cp float64) *types.Signal {
	t.Helper()
	ctx := context.Background()
	sig, err := st.GetSignal(ctx, id)
	if err != nil {
		t.Fatalf("reload signal: %v", err)
	}
	m.checkSignal(ctx, sig, map[string]types.PriceQuote{
		sig.Symbol: {Symbol: sig.Symbol, Price: cp, Source: "test", Timestamp: time.Now().UTC()},
	})
	sig, err = st.GetSignal(ctx, id)
	if err != nil {
		t.Fatalf("reload signal: %v", err)
	}
	return sig
}

func longCrypto(id string) *types.Signal {
	s := &types.Signal{
		ID:         id,
		ProviderID: "p1",
		Symbol:     "BTCUSDT",
		AssetClass: types.AssetCrypto,
		Direction:  types.Long,
		EntryPrice: 100,
		SL:         95,
		TP1:        105,
		TP2:        types.Float64Ptr(110),
		TP3:        types.Float64Ptr(115),
		Status:     types.StatusPending,
		EntryTime:  time.Now().UTC(),
		NextPollAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	s.ComputeRiskMetrics()
	return s
}

func TestLifecycleLongPartialStop(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	insertSignal(t, st, longCrypto("s1"))

	sig := feed(t, m, st, "s1", 100)
	if sig.Status != types.StatusActive {
		t.Fatalf("after entry price: status = %s, want ACTIVE", sig.Status)
	}
	if sig.ActivatedAt == nil {
		t.Error("activated_at should be stamped")
	}

	sig = feed(t, m, st, "s1", 106)
	if sig.Status != types.StatusTP1Hit {
		t.Fatalf("after 106: status = %s, want TP1_HIT", sig.Status)
	}

	sig = feed(t, m, st, "s1", 94)
	if sig.Status != types.StatusSLHit {
		t.Fatalf("after 94: status = %s, want SL_HIT", sig.Status)
	}
	if sig.ExitPrice == nil || *sig.ExitPrice != 95 {
		t.Errorf("exit price = %v, want 95 (the stop, not the gap print)", sig.ExitPrice)
	}
	if sig.RValue == nil || *sig.RValue != -1.0 {
		t.Errorf("r = %v, want exactly -1.0", sig.RValue)
	}
	if sig.ClosedAt == nil || sig.CloseReason != "SL_HIT" {
		t.Errorf("closed_at = %v, reason = %q", sig.ClosedAt, sig.CloseReason)
	}

	// Event log replay reproduces the final status.
	events, _ := st.ListEvents(context.Background(), "s1")
	kinds := make([]types.EventType, len(events))
	for i, ev := range events {
		kinds[i] = ev.EventType
	}
	if got := signal.Replay(kinds); got != types.StatusSLHit {
		t.Errorf("replay = %s, want SL_HIT", got)
	}

	// Outcome: partial, tp_hits [1].
	out := signal.Resolve(sig, events)
	if out.Result != types.ResultPartial || len(out.TPHits) != 1 || out.TPHits[0] != 1 {
		t.Errorf("outcome = %+v, want PARTIAL with tp_hits [1]", out)
	}
}

func TestLifecycleShortFullWin(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)

	s := &types.Signal{
		ID:         "s2",
		ProviderID: "p1",
		Symbol:     "EURUSD",
		AssetClass: types.AssetForex,
		Direction:  types.Short,
		EntryPrice: 1.1000,
		SL:         1.1050,
		TP1:        1.0950,
		TP2:        types.Float64Ptr(1.0900),
		TP3:        types.Float64Ptr(1.0850),
		Status:     types.StatusPending,
		EntryTime:  time.Now().UTC(),
		NextPollAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	s.ComputeRiskMetrics()
	insertSignal(t, st, s)

	for _, cp := range []float64{1.1000, 1.0949, 1.0899} {
		feed(t, m, st, "s2", cp)
	}
	sig := feed(t, m, st, "s2", 1.0850)
	if sig.Status != types.StatusTP3Hit {
		t.Fatalf("status = %s, want TP3_HIT", sig.Status)
	}

	events, _ := st.ListEvents(context.Background(), "s2")
	out := signal.Resolve(sig, events)
	if out.Result != types.ResultWin || len(out.TPHits) != 3 {
		t.Errorf("outcome = %+v, want WIN with 3 tp hits", out)
	}
	if out.RValue == nil || *out.RValue != 3.0 {
		t.Errorf("r = %v, want 3.0", out.RValue)
	}
}

func TestTerminalSignalImmutable(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	insertSignal(t, st, longCrypto("s3"))

	feed(t, m, st, "s3", 100)
	feed(t, m, st, "s3", 94)
	closed, _ := st.GetSignal(context.Background(), "s3")
	closedAt, rValue := *closed.ClosedAt, *closed.RValue

	// A late price observation must not touch the terminal fields. The
	// monitor would not normally poll a terminal signal; this guards the
	// occasional double-processing the due scan allows.
	m.checkSignal(context.Background(), closed, map[string]types.PriceQuote{
		"BTCUSDT": {Symbol: "BTCUSDT", Price: 120, Source: "test", Timestamp: time.Now().UTC()},
	})

	after, _ := st.GetSignal(context.Background(), "s3")
	if after.Status != types.StatusSLHit || !after.ClosedAt.Equal(closedAt) || *after.RValue != rValue {
		t.Errorf("terminal fields changed: %+v", after)
	}
}

func TestExpiredPendingSignal(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)

	stale := longCrypto("s4")
	stale.EntryTime = time.Now().UTC().Add(-100 * time.Hour)
	insertSignal(t, st, stale)

	sig := feed(t, m, st, "s4", 101) // above entry, would stay PENDING
	if sig.Status != types.StatusClosed {
		t.Fatalf("status = %s, want CLOSED via expiry", sig.Status)
	}
	if sig.CloseReason != "EXPIRED" {
		t.Errorf("close reason = %q", sig.CloseReason)
	}
}

func TestNextPollRescheduled(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	insertSignal(t, st, longCrypto("s5"))

	before := time.Now().UTC()
	sig := feed(t, m, st, "s5", 100) // activates; price sits mid-range
	if !sig.NextPollAt.After(before) {
		t.Errorf("next_poll_at = %v, want pushed into the future", sig.NextPollAt)
	}
	if sig.LastPrice == nil || *sig.LastPrice != 100 {
		t.Errorf("last_price = %v", sig.LastPrice)
	}
}

func TestMissingQuoteLeavesSignalUntouched(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	insertSignal(t, st, longCrypto("s6"))

	sig, _ := st.GetSignal(context.Background(), "s6")
	poll := sig.NextPollAt
	m.checkSignal(context.Background(), sig, map[string]types.PriceQuote{})

	after, _ := st.GetSignal(context.Background(), "s6")
	if !after.NextPollAt.Equal(poll) || after.Status != types.StatusPending {
		t.Errorf("signal changed without a quote: %+v", after)
	}
}

type recordingFeed struct {
	symbols []string
}

func (f *recordingFeed) Subscribe(symbols []string) error {
	f.symbols = append(f.symbols, symbols...)
	return nil
}

func TestFeedSubscribedToCryptoOnly(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	feed := &recordingFeed{}
	m.AttachFeed(feed)

	m.feedSubscribe(map[string]types.AssetClass{
		"BTCUSDT": types.AssetCrypto,
		"EURUSD":  types.AssetForex,
		"NQ":      types.AssetFutures,
	})

	if len(feed.symbols) != 1 || feed.symbols[0] != "BTCUSDT" {
		t.Errorf("subscribed = %v, want only BTCUSDT", feed.symbols)
	}
}

func TestExcursionTracking(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m := newTestMonitor(st)
	insertSignal(t, st, longCrypto("s7"))

	feed(t, m, st, "s7", 100) // ACTIVE
	feed(t, m, st, "s7", 103)
	feed(t, m, st, "s7", 97)
	sig := feed(t, m, st, "s7", 101)

	if sig.MaxFavorable == nil || *sig.MaxFavorable != 3 {
		t.Errorf("mfe = %v, want 3", sig.MaxFavorable)
	}
	if sig.MaxAdverse == nil || *sig.MaxAdverse != 3 {
		t.Errorf("mae = %v, want 3", sig.MaxAdverse)
	}
}
