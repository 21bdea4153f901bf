package signal

import (
	"strings"
	"testing"
	"time"

	"signal-bridge/pkg/types"
)

func testSignal(dir types.Direction, entry, sl, tp1 float64) *types.Signal {
	s := &types.Signal{
		Symbol:     "BTCUSDT",
		AssetClass: types.AssetCrypto,
		Direction:  dir,
		EntryPrice: entry,
		SL:         sl,
		TP1:        tp1,
		EntryTime:  time.Now().UTC(),
	}
	s.ComputeRiskMetrics()
	return s
}

func TestValidateHappyPath(t *testing.T) {
	t.Parallel()

	sig := testSignal(types.Long, 100, 95, 105)
	res := Validate(sig, DefaultValidatorConfig(), nil, time.Now().UTC())
	if !res.IsValid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if res.RRRatio != 1.0 || res.RiskDistance != 5 {
		t.Errorf("rr/risk = %v/%v", res.RRRatio, res.RiskDistance)
	}
	if res.ConfidenceScore != 100 {
		t.Errorf("confidence = %d, want 100 (warnings: %v)", res.ConfidenceScore, res.Warnings)
	}
}

func TestValidateInvertedLevels(t *testing.T) {
	t.Parallel()

	sig := testSignal(types.Long, 100, 110, 120)
	res := Validate(sig, DefaultValidatorConfig(), nil, time.Now().UTC())
	if res.IsValid {
		t.Fatal("inverted LONG levels must be rejected")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "must be above SL") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing ordering error, got %v", res.Errors)
	}
}

func TestValidateZeroRisk(t *testing.T) {
	t.Parallel()

	sig := testSignal(types.Long, 100, 100, 110)
	res := Validate(sig, DefaultValidatorConfig(), nil, time.Now().UTC())
	if res.IsValid {
		t.Fatal("entry == sl must be rejected")
	}
}

func TestValidateTP3WithoutTP2(t *testing.T) {
	t.Parallel()

	sig := testSignal(types.Long, 100, 95, 105)
	sig.TP3 = types.Float64Ptr(115)
	res := Validate(sig, DefaultValidatorConfig(), nil, time.Now().UTC())
	if res.IsValid {
		t.Fatal("tp3 without tp2 must be rejected")
	}
}

func TestValidateRRRatio(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	// rr = 0.4: below the 0.5 error floor
	low := testSignal(types.Long, 100, 95, 102)
	if res := Validate(low, DefaultValidatorConfig(), nil, now); res.IsValid {
		t.Errorf("rr %.2f should be rejected", low.RRRatio)
	}

	// rr = 0.8: valid but warned
	warn := testSignal(types.Long, 100, 95, 104)
	res := Validate(warn, DefaultValidatorConfig(), nil, now)
	if !res.IsValid || len(res.Warnings) == 0 {
		t.Errorf("rr %.2f: valid=%v warnings=%v", warn.RRRatio, res.IsValid, res.Warnings)
	}

	// rr = 12: valid but implausible
	high := testSignal(types.Long, 100, 95, 160)
	res = Validate(high, DefaultValidatorConfig(), nil, now)
	if !res.IsValid || len(res.Warnings) == 0 {
		t.Errorf("rr %.2f: valid=%v warnings=%v", high.RRRatio, res.IsValid, res.Warnings)
	}
}

func TestValidateRiskCeilingPerClass(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	// 20% risk on crypto exceeds the 15% ceiling.
	sig := testSignal(types.Long, 100, 80, 140)
	if res := Validate(sig, DefaultValidatorConfig(), nil, now); res.IsValid {
		t.Error("20% crypto risk should be rejected")
	}

	// The same 4% risk is fine for crypto but too wide for forex.
	fx := testSignal(types.Long, 1.0000, 0.9600, 1.0800)
	fx.Symbol, fx.AssetClass = "EURUSD", types.AssetForex
	if res := Validate(fx, DefaultValidatorConfig(), nil, now); res.IsValid {
		t.Error("4% forex risk should be rejected")
	}
	crypto := testSignal(types.Long, 100, 96, 108)
	if res := Validate(crypto, DefaultValidatorConfig(), nil, now); !res.IsValid {
		t.Errorf("4%% crypto risk should pass, errors: %v", res.Errors)
	}
}

func TestValidateLatency(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	stale := testSignal(types.Long, 100, 95, 105)
	stale.EntryTime = now.Add(-10 * time.Minute)
	if res := Validate(stale, DefaultValidatorConfig(), nil, now); res.IsValid {
		t.Error("10 minute old signal should be rejected")
	}

	slow := testSignal(types.Long, 100, 95, 105)
	slow.EntryTime = now.Add(-150 * time.Second)
	res := Validate(slow, DefaultValidatorConfig(), nil, now)
	if !res.IsValid || len(res.Warnings) == 0 {
		t.Errorf("150s old signal: valid=%v warnings=%v", res.IsValid, res.Warnings)
	}
}

func TestValidatePrecisionWarning(t *testing.T) {
	t.Parallel()

	sig := testSignal(types.Long, 20537.123, 20450.5, 20620.25)
	sig.Symbol, sig.AssetClass = "NQ", types.AssetFutures
	sig.EntryPrice, sig.SL, sig.TP1 = 20537.123, 20450.5, 20620.25
	sig.ComputeRiskMetrics()
	res := Validate(sig, DefaultValidatorConfig(), nil, time.Now().UTC())
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "decimal places") {
			found = true
		}
	}
	if !found {
		t.Errorf("3dp futures entry should warn, got %v", res.Warnings)
	}
}

func TestValidateDuplicate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	existing := testSignal(types.Long, 100.00, 95, 105)
	existing.ID = "sig-1"

	// 0.05% drift: still a duplicate
	dup := testSignal(types.Long, 100.05, 95, 105.05)
	if res := Validate(dup, DefaultValidatorConfig(), []*types.Signal{existing}, now); res.IsValid {
		t.Error("0.05% entry drift should still be a duplicate")
	}

	// 0.5% drift: a distinct signal
	distinct := testSignal(types.Long, 100.50, 95.5, 105.5)
	if res := Validate(distinct, DefaultValidatorConfig(), []*types.Signal{existing}, now); !res.IsValid {
		t.Errorf("0.5%% drift should pass, errors: %v", res.Errors)
	}

	// Opposite direction is never a duplicate
	short := testSignal(types.Short, 100.00, 105, 95)
	if res := Validate(short, DefaultValidatorConfig(), []*types.Signal{existing}, now); !res.IsValid {
		t.Errorf("opposite direction should pass, errors: %v", res.Errors)
	}
}

func TestConfidenceScore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	sig := testSignal(types.Long, 100, 95, 104) // one warning (rr 0.8)
	res := Validate(sig, DefaultValidatorConfig(), nil, now)
	if res.ConfidenceScore != 95 {
		t.Errorf("confidence = %d, want 95", res.ConfidenceScore)
	}
}

func TestDecimalPlaces(t *testing.T) {
	t.Parallel()

	cases := map[float64]int{
		100:      0,
		1.1:      1,
		1.1050:   3,
		20620.96: 2,
		0.00000001: 8,
	}
	for in, want := range cases {
		if got := DecimalPlaces(in); got != want {
			t.Errorf("DecimalPlaces(%v) = %d, want %d", in, got, want)
		}
	}
}
