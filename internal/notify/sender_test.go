package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSub(t *testing.T, st store.Store, url string) *types.WebhookSubscription {
	t.Helper()
	sub := &types.WebhookSubscription{
		ID:         "w1",
		ProviderID: "p1",
		URL:        url,
		EventTypes: []types.EventType{types.EventTP1Hit, types.EventSLHit},
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

// fastOffsets keeps the retry schedule shape (three extra attempts) without
// slowing the test down.
var fastOffsets = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 15 * time.Millisecond}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var attempts int
	var signatures []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		signatures = append(signatures, r.Header.Get("X-Signature"))
		mu.Unlock()

		if r.Header.Get("X-Idempotency-Key") != "ev-1" {
			t.Errorf("idempotency key = %q", r.Header.Get("X-Idempotency-Key"))
		}
		if n < 3 {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := newTestSub(t, st, srv.URL)
	sender := NewSender(st, 2*time.Second, fastOffsets, testLogger())

	sig, ev := payloadFixture()
	ok := sender.Deliver(context.Background(), sub, BuildPayload(sig, ev), "secret")
	if !ok {
		t.Fatal("delivery should eventually succeed")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (500, 500, 200)", attempts)
	}
	for i, s := range signatures {
		if s != signatures[0] {
			t.Errorf("attempt %d signature differs: retries must resend the same signed body", i+1)
		}
	}

	got, _ := st.GetSubscription(context.Background(), "w1")
	if got.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0 after success", got.ConsecutiveFailures)
	}
	if got.LastDeliveryAt == nil {
		t.Error("last_delivery_at should be stamped")
	}

	logs, _ := st.ListDeliveryLogs(context.Background(), "w1", 10)
	if len(logs) != 1 || !logs[0].Success || logs[0].StatusCode != 200 {
		t.Errorf("delivery log = %+v", logs)
	}
}

func TestDeliverExhaustsRetries(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "permanently down", http.StatusBadGateway)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := newTestSub(t, st, srv.URL)
	sender := NewSender(st, 2*time.Second, fastOffsets, testLogger())

	sig, ev := payloadFixture()
	if ok := sender.Deliver(context.Background(), sub, BuildPayload(sig, ev), "secret"); ok {
		t.Fatal("delivery should fail")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (initial + 3 retries)", attempts)
	}

	got, _ := st.GetSubscription(context.Background(), "w1")
	if got.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1 (one failed delivery, not one per attempt)", got.ConsecutiveFailures)
	}

	logs, _ := st.ListDeliveryLogs(context.Background(), "w1", 10)
	if len(logs) != 1 || logs[0].Success || logs[0].StatusCode != http.StatusBadGateway {
		t.Errorf("delivery log = %+v", logs)
	}
}

func TestDeliverResponseExcerptTruncated(t *testing.T) {
	t.Parallel()

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write(long)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := newTestSub(t, st, srv.URL)
	sender := NewSender(st, 2*time.Second, nil, testLogger())

	sig, ev := payloadFixture()
	sender.Deliver(context.Background(), sub, BuildPayload(sig, ev), "secret")

	logs, _ := st.ListDeliveryLogs(context.Background(), "w1", 1)
	if len(logs) != 1 {
		t.Fatal("expected one log")
	}
	if len(logs[0].ResponseExcerpt) != 200 {
		t.Errorf("excerpt length = %d, want 200", len(logs[0].ResponseExcerpt))
	}
}

func TestDeliverCancelDoesNotCountFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := newTestSub(t, st, srv.URL)
	sender := NewSender(st, 2*time.Second, []time.Duration{5 * time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	sig, ev := payloadFixture()
	if ok := sender.Deliver(ctx, sub, BuildPayload(sig, ev), "secret"); ok {
		t.Fatal("cancelled delivery should not report success")
	}

	got, _ := st.GetSubscription(context.Background(), "w1")
	if got.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0 (cancelled, not failed)", got.ConsecutiveFailures)
	}
}
