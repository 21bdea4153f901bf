// Package notify implements outbound webhook fan-out: matching emitted
// events to provider subscriptions, building the canonical signed payload,
// and delivering it with retries and a per-subscription circuit breaker.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"signal-bridge/pkg/types"
)

// payloadSignal is the signal snapshot embedded in every delivery.
type payloadSignal struct {
	Symbol       string   `json:"symbol"`
	Direction    string   `json:"direction"`
	EntryPrice   float64  `json:"entry_price"`
	SL           float64  `json:"sl"`
	TP1          float64  `json:"tp1"`
	TP2          *float64 `json:"tp2"`
	TP3          *float64 `json:"tp3"`
	RRRatio      float64  `json:"rr_ratio"`
	RiskDistance float64  `json:"risk_distance"`
	Status       string   `json:"status"`
	StrategyName string   `json:"strategy_name"`
}

// EventPayload is the canonical delivery body. Its compact JSON encoding is
// the exact byte sequence that gets signed; receivers must verify the
// signature against the body as received.
type EventPayload struct {
	EventID   string        `json:"event_id"`
	SignalID  string        `json:"signal_id"`
	EventType string        `json:"event_type"`
	Price     *float64      `json:"price"`
	Timestamp string        `json:"timestamp"`
	Signal    payloadSignal `json:"signal"`
}

// BuildPayload assembles the canonical payload for one event.
func BuildPayload(sig *types.Signal, ev *types.SignalEvent) EventPayload {
	return EventPayload{
		EventID:   ev.ID,
		SignalID:  sig.ID,
		EventType: string(ev.EventType),
		Price:     ev.Price,
		Timestamp: ev.EventTime.UTC().Format(time.RFC3339),
		Signal: payloadSignal{
			Symbol:       sig.Symbol,
			Direction:    string(sig.Direction),
			EntryPrice:   sig.EntryPrice,
			SL:           sig.SL,
			TP1:          sig.TP1,
			TP2:          sig.TP2,
			TP3:          sig.TP3,
			RRRatio:      sig.RRRatio,
			RiskDistance: sig.RiskDistance,
			Status:       string(sig.Status),
			StrategyName: sig.StrategyName,
		},
	}
}

// Encode serializes the payload to its canonical compact form.
func (p EventPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Sign computes the hex HMAC-SHA256 of the canonical body with the
// provider's webhook secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
