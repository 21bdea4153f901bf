// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bridge: the canonical
// signal, its lifecycle events, providers and their webhook subscriptions,
// price quotes, and the derived analytics types. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"math"
	"time"
)

// Direction of a trade signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// AssetClass is detected from the normalized symbol and drives validation
// thresholds and price-source routing.
type AssetClass string

const (
	AssetFutures AssetClass = "FUTURES"
	AssetForex   AssetClass = "FOREX"
	AssetCrypto  AssetClass = "CRYPTO"
	AssetStocks  AssetClass = "STOCKS"
	AssetOther   AssetClass = "OTHER"
)

// Status is the lifecycle state of a signal.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusTP1Hit  Status = "TP1_HIT"
	StatusTP2Hit  Status = "TP2_HIT"
	StatusTP3Hit  Status = "TP3_HIT"
	StatusSLHit   Status = "SL_HIT"
	StatusClosed  Status = "CLOSED"
	StatusInvalid Status = "INVALID"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSLHit, StatusClosed, StatusInvalid:
		return true
	}
	return false
}

// IsMonitorable reports whether the monitor loop should watch this signal.
func (s Status) IsMonitorable() bool {
	switch s {
	case StatusPending, StatusActive, StatusTP1Hit, StatusTP2Hit, StatusTP3Hit:
		return true
	}
	return false
}

// TPProgression returns which take-profit level has been reached:
// 0 for PENDING/ACTIVE and terminal states, 1..3 for TP1..TP3.
func (s Status) TPProgression() int {
	switch s {
	case StatusTP1Hit:
		return 1
	case StatusTP2Hit:
		return 2
	case StatusTP3Hit:
		return 3
	}
	return 0
}

// EventType identifies what happened to a signal.
type EventType string

const (
	EventEntryRegistered  EventType = "ENTRY_REGISTERED"
	EventEntryHit         EventType = "ENTRY_HIT"
	EventTP1Hit           EventType = "TP1_HIT"
	EventTP2Hit           EventType = "TP2_HIT"
	EventTP3Hit           EventType = "TP3_HIT"
	EventSLHit            EventType = "SL_HIT"
	EventManualClose      EventType = "MANUAL_CLOSE"
	EventExpired          EventType = "EXPIRED"
	EventValidationFailed EventType = "VALIDATION_FAILED"
	EventPriceUpdate      EventType = "PRICE_UPDATE"
)

// EventSource identifies how an event was detected.
type EventSource string

const (
	SourceTradingView EventSource = "TRADINGVIEW"
	SourcePineScript  EventSource = "PINESCRIPT"
	SourcePolling     EventSource = "POLLING"
	SourceManual      EventSource = "MANUAL"
	SourceHistorical  EventSource = "HISTORICAL"
)

// ProximityZone is the categorical distance of current price from the
// nearest exit level. It drives the adaptive poll interval.
type ProximityZone string

const (
	ZoneClose ProximityZone = "CLOSE"
	ZoneMid   ProximityZone = "MID"
	ZoneFar   ProximityZone = "FAR"
)

// Signal is the central entity: a provider-issued trade intent with entry,
// stop-loss, and up to three take-profit levels, walked through the
// lifecycle state machine as price crosses those levels.
type Signal struct {
	ID               string     `json:"id" db:"id"`
	ProviderID       string     `json:"provider_id" db:"provider_id"`
	ExternalSignalID string     `json:"external_signal_id,omitempty" db:"external_signal_id"`
	StrategyName     string     `json:"strategy_name,omitempty" db:"strategy_name"`
	Symbol           string     `json:"symbol" db:"symbol"`
	AssetClass       AssetClass `json:"asset_class" db:"asset_class"`
	Direction        Direction  `json:"direction" db:"direction"`

	EntryPrice float64  `json:"entry_price" db:"entry_price"`
	SL         float64  `json:"sl" db:"sl"`
	TP1        float64  `json:"tp1" db:"tp1"`
	TP2        *float64 `json:"tp2,omitempty" db:"tp2"`
	TP3        *float64 `json:"tp3,omitempty" db:"tp3"`

	RiskDistance float64 `json:"risk_distance" db:"risk_distance"`
	RRRatio      float64 `json:"rr_ratio" db:"rr_ratio"`

	Status      Status     `json:"status" db:"status"`
	EntryTime   time.Time  `json:"entry_time" db:"entry_time"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	ExitPrice   *float64   `json:"exit_price,omitempty" db:"exit_price"`
	CloseReason string     `json:"close_reason,omitempty" db:"close_reason"`
	RValue      *float64   `json:"r_value,omitempty" db:"r_value"`
	PnLPct      *float64   `json:"pnl_pct,omitempty" db:"pnl_pct"`

	MaxFavorable *float64 `json:"max_favorable,omitempty" db:"max_favorable"`
	MaxAdverse   *float64 `json:"max_adverse,omitempty" db:"max_adverse"`

	NextPollAt  time.Time  `json:"next_poll_at" db:"next_poll_at"`
	LastPrice   *float64   `json:"last_price,omitempty" db:"last_price"`
	LastPriceAt *time.Time `json:"last_price_at,omitempty" db:"last_price_at"`

	// RawPayload is the ingress body kept verbatim for audit.
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ComputeRiskMetrics fills RiskDistance and RRRatio from the price levels.
// A zero risk distance leaves RRRatio at zero; the validator rejects such
// signals before they reach the monitor.
func (s *Signal) ComputeRiskMetrics() {
	s.RiskDistance = math.Abs(s.EntryPrice - s.SL)
	if s.RiskDistance > 0 {
		s.RRRatio = math.Abs(s.TP1-s.EntryPrice) / s.RiskDistance
	} else {
		s.RRRatio = 0
	}
}

// TPLevels returns the set take-profit levels in order (1-indexed names
// elsewhere; here just the present values).
func (s *Signal) TPLevels() []float64 {
	levels := []float64{s.TP1}
	if s.TP2 != nil {
		levels = append(levels, *s.TP2)
	}
	if s.TP3 != nil {
		levels = append(levels, *s.TP3)
	}
	return levels
}

// SignalEvent is an append-only lifecycle record. Events for one signal
// form a monotone sequence by EventTime.
type SignalEvent struct {
	ID        string          `json:"id" db:"id"`
	SignalID  string          `json:"signal_id" db:"signal_id"`
	EventType EventType       `json:"event_type" db:"event_type"`
	Price     *float64        `json:"price,omitempty" db:"price"`
	Source    EventSource     `json:"source" db:"source"`
	EventTime time.Time       `json:"event_time" db:"event_time"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// Provider owns signals. APIKeyHash is the sha256 of the raw key; the raw
// key and WebhookSecret are returned exactly once, at creation.
type Provider struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description,omitempty" db:"description"`
	APIKeyHash    string    `json:"-" db:"api_key_hash"`
	WebhookSecret string    `json:"-" db:"webhook_secret"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// WebhookSubscription is a delivery target for a provider's signal events.
// ConsecutiveFailures drives the circuit breaker: at 10 the router skips
// the subscription until an operator resets the counter.
type WebhookSubscription struct {
	ID                  string            `json:"id" db:"id"`
	ProviderID          string            `json:"provider_id" db:"provider_id"`
	URL                 string            `json:"url" db:"url"`
	EventTypes          []EventType       `json:"event_types" db:"-"`
	Headers             map[string]string `json:"headers,omitempty" db:"-"`
	IsActive            bool              `json:"is_active" db:"is_active"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	LastDeliveryAt      *time.Time        `json:"last_delivery_at,omitempty" db:"last_delivery_at"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// SubscribesTo reports whether the subscription wants the given event kind.
func (w *WebhookSubscription) SubscribesTo(et EventType) bool {
	for _, t := range w.EventTypes {
		if t == et {
			return true
		}
	}
	return false
}

// DeliveryLog records one webhook delivery attempt outcome.
type DeliveryLog struct {
	ID              string    `json:"id" db:"id"`
	WebhookID       string    `json:"webhook_id" db:"webhook_id"`
	EventID         string    `json:"event_id" db:"event_id"`
	URL             string    `json:"url" db:"url"`
	StatusCode      int       `json:"status_code" db:"status_code"`
	Success         bool      `json:"success" db:"success"`
	ResponseExcerpt string    `json:"response_excerpt,omitempty" db:"response_excerpt"`
	LoggedAt        time.Time `json:"logged_at" db:"logged_at"`
}

// PriceQuote is a point-in-time price for a symbol from one source.
type PriceQuote struct {
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	AssetClass AssetClass `json:"asset_class"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ValidationResult is the output of the validation engine. A signal is
// accepted iff Errors is empty; warnings only lower the confidence score.
type ValidationResult struct {
	IsValid         bool     `json:"is_valid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	RRRatio         float64  `json:"rr_ratio"`
	RiskDistance    float64  `json:"risk_distance"`
	ConfidenceScore int      `json:"confidence_score"`
}

// TransitionResult is the value returned by the state machine. Refusals
// (invalid edge, terminal source, repeat event) set DidTransition=false
// with a descriptive reason; they are never errors.
type TransitionResult struct {
	NewStatus     Status `json:"new_status"`
	DidTransition bool   `json:"did_transition"`
	Reason        string `json:"reason"`
	IsTerminal    bool   `json:"is_terminal"`
}

// OutcomeResult categorizes a resolved signal.
type OutcomeResult string

const (
	ResultWin     OutcomeResult = "WIN"     // at least one TP, no SL
	ResultLoss    OutcomeResult = "LOSS"    // SL with no TP
	ResultPartial OutcomeResult = "PARTIAL" // SL after at least one TP
	ResultClosed  OutcomeResult = "CLOSED"  // manual close
	ResultOpen    OutcomeResult = "OPEN"
)

// SignalOutcome is the post-trade analysis of one signal.
type SignalOutcome struct {
	SignalID      string        `json:"signal_id"`
	Result        OutcomeResult `json:"result"`
	EntryPrice    float64       `json:"entry_price"`
	ExitPrice     *float64      `json:"exit_price,omitempty"`
	RValue        *float64      `json:"r_value,omitempty"`
	TPHits        []int         `json:"tp_hits"`
	MaxFavorable  float64       `json:"max_favorable_excursion"`
	MaxAdverse    float64       `json:"max_adverse_excursion"`
	DurationHours *float64      `json:"duration_hours,omitempty"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
}

// ProviderStats aggregates outcomes across a provider's closed signals.
type ProviderStats struct {
	ProviderID       string    `json:"provider_id"`
	TotalSignals     int       `json:"total_signals"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	Partials         int       `json:"partials"`
	WinRate          float64   `json:"win_rate"`
	TP1HitRate       float64   `json:"tp1_hit_rate"`
	TP2HitRate       float64   `json:"tp2_hit_rate"`
	TP3HitRate       float64   `json:"tp3_hit_rate"`
	AvgR             float64   `json:"avg_r"`
	TotalR           float64   `json:"total_r"`
	BestR            float64   `json:"best_r"`
	WorstR           float64   `json:"worst_r"`
	ProfitFactor     float64   `json:"profit_factor"`
	Expectancy       float64   `json:"expectancy"`
	AvgDurationHours float64   `json:"avg_duration_hours"`
	CalculatedAt     time.Time `json:"calculated_at"`
}

// EquityPoint is one step of a cumulative equity curve built from outcomes.
type EquityPoint struct {
	Date        *time.Time    `json:"date,omitempty"`
	CumulativeR float64       `json:"cumulative_r"`
	Equity      float64       `json:"equity"`
	RValue      *float64      `json:"r_value,omitempty"`
	Result      OutcomeResult `json:"signal_result"`
}

// Float64Ptr is a small helper for optional price levels.
func Float64Ptr(v float64) *float64 { return &v }
