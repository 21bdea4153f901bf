package signal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-bridge/pkg/types"
)

// NormalizeError reports why a raw payload could not be mapped to a
// canonical signal. Ingress handlers translate it to a 400/422.
type NormalizeError struct {
	Reason string
}

func (e *NormalizeError) Error() string { return "normalize: " + e.Reason }

func normErrf(format string, args ...any) error {
	return &NormalizeError{Reason: fmt.Sprintf(format, args...)}
}

// Alias sets for the three required price levels. Lookup is case-insensitive
// and first-match over the listed order.
var (
	entryAliases = []string{"entry", "entry_price", "price", "open", "entry_level"}
	slAliases    = []string{"stop_loss", "stoploss", "stop", "stop_level", "sl_price", "sl"}
	tpAliases    = map[int][]string{
		1: {"tp1", "take_profit_1", "takeprofit1", "target_1", "target1", "t1", "tp1_price", "profit_1", "tp_1"},
		2: {"tp2", "take_profit_2", "takeprofit2", "target_2", "target2", "t2", "tp2_price", "profit_2", "tp_2"},
		3: {"tp3", "take_profit_3", "takeprofit3", "target_3", "target3", "t3", "tp3_price", "profit_3", "tp_3"},
	}
)

// futuresRoots are the recognized futures contract roots after the
// month/bang suffix is stripped.
var futuresRoots = map[string]bool{
	"NQ": true, "MNQ": true, "ES": true, "MES": true,
	"YM": true, "MYM": true, "RTY": true, "M2K": true,
	"GC": true, "MGC": true, "CL": true, "MCL": true,
	"SI": true, "SIL": true, "ZB": true, "ZN": true,
	"ZW": true, "ZC": true,
}

var (
	contractSuffixRe = regexp.MustCompile(`[0-9]!$`)
	alphaOnlyRe      = regexp.MustCompile(`^[A-Z]+$`)
)

// Normalize maps a structured ingress payload to a canonical PENDING signal.
// rawBody is kept verbatim on the signal for audit. The caller assigns the
// signal id, provider id, and first next_poll_at.
func Normalize(raw map[string]any, rawBody []byte) (*types.Signal, error) {
	symbol, err := extractSymbol(raw)
	if err != nil {
		return nil, err
	}

	direction, err := extractDirection(raw)
	if err != nil {
		return nil, err
	}

	entry, ok, err := lookupPrice(raw, entryAliases)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normErrf("missing entry price")
	}

	sl, ok, err := lookupPrice(raw, slAliases)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normErrf("missing stop loss")
	}

	tp1, ok, err := lookupPrice(raw, tpAliases[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normErrf("missing tp1")
	}

	sig := &types.Signal{
		Symbol:     symbol,
		AssetClass: DetectAssetClass(symbol),
		Direction:  direction,
		EntryPrice: entry,
		SL:         sl,
		TP1:        tp1,
		Status:     types.StatusPending,
		EntryTime:  parseTimestamp(raw["timestamp"]),
		RawPayload: rawBody,
	}

	for i := 2; i <= 3; i++ {
		v, ok, err := lookupPrice(raw, tpAliases[i])
		if err != nil {
			return nil, err
		}
		if ok {
			if i == 2 {
				sig.TP2 = types.Float64Ptr(v)
			} else {
				sig.TP3 = types.Float64Ptr(v)
			}
		}
	}

	if s, ok := stringField(raw, "signal_id", "external_id", "id"); ok {
		sig.ExternalSignalID = s
	}
	if s, ok := stringField(raw, "strategy", "strategy_name"); ok {
		sig.StrategyName = s
	}

	sig.ComputeRiskMetrics()
	return sig, nil
}

// NormalizeSymbol uppercases, drops any exchange prefix ("CME_MINI:NQ1!"),
// and strips the trailing digit-then-bang contract suffix ("NQ1!" -> "NQ").
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return contractSuffixRe.ReplaceAllString(s, "")
}

// DetectAssetClass classifies a normalized symbol. The checks run in fixed
// order: the forex check precedes the crypto-suffix check because "EURUSD"
// also ends in "USD".
func DetectAssetClass(symbol string) types.AssetClass {
	if symbol == "" {
		return types.AssetOther
	}
	if futuresRoots[symbol] {
		return types.AssetFutures
	}
	if len(symbol) == 6 && alphaOnlyRe.MatchString(symbol) {
		return types.AssetForex
	}
	for _, suffix := range []string{"USDT", "BUSD", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return types.AssetCrypto
		}
	}
	return types.AssetStocks
}

func extractSymbol(raw map[string]any) (string, error) {
	s, ok := stringField(raw, "symbol", "ticker", "instrument")
	if !ok || strings.TrimSpace(s) == "" {
		return "", normErrf("missing symbol")
	}
	sym := NormalizeSymbol(s)
	if sym == "" {
		return "", normErrf("symbol %q normalizes to empty", s)
	}
	return sym, nil
}

func extractDirection(raw map[string]any) (types.Direction, error) {
	s, ok := stringField(raw, "direction", "side", "action")
	if !ok {
		return "", normErrf("missing direction")
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return types.Long, nil
	case "SHORT", "SELL":
		return types.Short, nil
	}
	return "", normErrf("unrecognized direction %q", s)
}

// lookupPrice scans the alias list case-insensitively and parses the first
// present value. Returns ok=false when no alias is present; a present but
// unparseable or non-positive value is an error.
func lookupPrice(raw map[string]any, aliases []string) (float64, bool, error) {
	for _, alias := range aliases {
		for key, val := range raw {
			if !strings.EqualFold(key, alias) {
				continue
			}
			if val == nil {
				continue
			}
			price, err := ParsePrice(val)
			if err != nil {
				return 0, false, normErrf("field %s: %v", key, err)
			}
			return price, true, nil
		}
	}
	return 0, false, nil
}

// ParsePrice accepts numbers and numeric strings (thousands separators
// allowed) and requires a finite positive result.
func ParsePrice(v any) (float64, error) {
	var d decimal.Decimal
	switch x := v.(type) {
	case float64:
		d = decimal.NewFromFloat(x)
	case float32:
		d = decimal.NewFromFloat32(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		var err error
		d, err = decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("cannot parse price %q", x)
		}
	default:
		return 0, fmt.Errorf("unsupported price type %T", v)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("price must be positive, got %s", d)
	}
	f, _ := d.Float64()
	return f, nil
}

// parseTimestamp tries the accepted wire formats in order and falls back to
// the current UTC time when nothing parses.
func parseTimestamp(v any) time.Time {
	now := time.Now().UTC()
	switch x := v.(type) {
	case nil:
		return now
	case float64:
		sec := int64(x)
		nsec := int64((x - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.999999999-0700",
			"2006-01-02 15:04:05",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if unix, err := strconv.ParseFloat(s, 64); err == nil && unix > 0 {
			sec := int64(unix)
			nsec := int64((unix - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC()
		}
	}
	return now
}

func stringField(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		for k, v := range raw {
			if !strings.EqualFold(k, key) {
				continue
			}
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
