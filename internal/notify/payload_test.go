package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"signal-bridge/pkg/types"
)

func payloadFixture() (*types.Signal, *types.SignalEvent) {
	sig := &types.Signal{
		ID:           "sig-1",
		Symbol:       "BTCUSDT",
		Direction:    types.Long,
		EntryPrice:   100,
		SL:           95,
		TP1:          105,
		RRRatio:      1.0,
		RiskDistance: 5,
		Status:       types.StatusTP1Hit,
		StrategyName: "breakout",
	}
	ev := &types.SignalEvent{
		ID:        "ev-1",
		SignalID:  "sig-1",
		EventType: types.EventTP1Hit,
		Price:     types.Float64Ptr(105.2),
		EventTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return sig, ev
}

func TestBuildPayloadEncode(t *testing.T) {
	t.Parallel()

	sig, ev := payloadFixture()
	body, err := BuildPayload(sig, ev).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	s := string(body)
	if strings.Contains(s, ": ") || strings.Contains(s, ", ") {
		t.Error("canonical body must be compact JSON")
	}
	for _, want := range []string{
		`"event_id":"ev-1"`,
		`"event_type":"TP1_HIT"`,
		`"price":105.2`,
		`"timestamp":"2025-03-01T12:00:00Z"`,
		`"symbol":"BTCUSDT"`,
		`"tp2":null`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("body missing %s: %s", want, s)
		}
	}
}

func TestSign(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event_id":"ev-1"}`)
	got := Sign("topsecret", body)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}

	if Sign("othersecret", body) == got {
		t.Error("different secrets must produce different signatures")
	}
}

func TestSignStableAcrossEncodes(t *testing.T) {
	t.Parallel()

	sig, ev := payloadFixture()
	a, _ := BuildPayload(sig, ev).Encode()
	b, _ := BuildPayload(sig, ev).Encode()
	if Sign("k", a) != Sign("k", b) {
		t.Error("encoding must be deterministic so signatures are stable")
	}
}
