package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"signal-bridge/pkg/types"
)

// ValidatorConfig holds the tunable validation thresholds. Per-asset-class
// ceilings are fixed tables below.
type ValidatorConfig struct {
	MinRRRatio  float64
	WarnRRRatio float64
	MaxLatency  time.Duration
	WarnLatency time.Duration
}

// DefaultValidatorConfig returns the documented defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinRRRatio:  0.5,
		WarnRRRatio: 1.0,
		MaxLatency:  300 * time.Second,
		WarnLatency: 120 * time.Second,
	}
}

// maxRiskPct caps risk_distance/entry per asset class. A stop wider than
// this is almost certainly a data-entry mistake for the instrument type.
var maxRiskPct = map[types.AssetClass]float64{
	types.AssetFutures: 0.03,
	types.AssetForex:   0.02,
	types.AssetCrypto:  0.15,
	types.AssetStocks:  0.05,
	types.AssetOther:   0.10,
}

// maxDecimals is the plausible price precision per asset class.
var maxDecimals = map[types.AssetClass]int{
	types.AssetFutures: 2,
	types.AssetForex:   5,
	types.AssetCrypto:  8,
	types.AssetStocks:  2,
	types.AssetOther:   5,
}

const (
	tightSLPct         = 0.001 // below this the SL sits inside market noise
	duplicateTolerance = 0.001 // entry drift treated as the same signal
	absurdRRRatio      = 10.0
)

// Validate runs every check against a normalized signal and returns the
// combined result. The signal is accepted iff the error list is empty;
// warnings only lower the confidence score.
func Validate(sig *types.Signal, cfg ValidatorConfig, recent []*types.Signal, now time.Time) types.ValidationResult {
	var errs, warns []string

	errs = append(errs, checkOrdering(sig)...)

	// RR ratio
	switch {
	case sig.RiskDistance == 0:
		// ordering check already rejected entry == sl
	case sig.RRRatio < cfg.MinRRRatio:
		errs = append(errs, fmt.Sprintf("rr_ratio %.2f below minimum %.2f", sig.RRRatio, cfg.MinRRRatio))
	case sig.RRRatio < cfg.WarnRRRatio:
		warns = append(warns, fmt.Sprintf("rr_ratio %.2f below %.2f", sig.RRRatio, cfg.WarnRRRatio))
	case sig.RRRatio > absurdRRRatio:
		warns = append(warns, fmt.Sprintf("rr_ratio %.2f is implausibly high, check levels", sig.RRRatio))
	}

	// Risk distance as a fraction of entry
	if sig.EntryPrice > 0 && sig.RiskDistance > 0 {
		rPct := sig.RiskDistance / sig.EntryPrice
		ceiling := maxRiskPct[sig.AssetClass]
		if ceiling > 0 && rPct > ceiling {
			errs = append(errs, fmt.Sprintf("risk %.2f%% of entry exceeds %s ceiling %.1f%%",
				rPct*100, sig.AssetClass, ceiling*100))
		} else if rPct < tightSLPct {
			warns = append(warns, fmt.Sprintf("SL only %.3f%% from entry, noise-sensitive", rPct*100))
		}
	}

	// Latency
	if age := now.Sub(sig.EntryTime); age > cfg.MaxLatency {
		errs = append(errs, fmt.Sprintf("signal is %.0fs old, max %.0fs", age.Seconds(), cfg.MaxLatency.Seconds()))
	} else if age > cfg.WarnLatency {
		warns = append(warns, fmt.Sprintf("signal is %.0fs old", age.Seconds()))
	}

	// Precision
	if limit, ok := maxDecimals[sig.AssetClass]; ok {
		for name, level := range map[string]float64{"entry": sig.EntryPrice, "sl": sig.SL, "tp1": sig.TP1} {
			if DecimalPlaces(level) > limit {
				warns = append(warns, fmt.Sprintf("%s has more than %d decimal places for %s", name, limit, sig.AssetClass))
			}
		}
	}

	// Duplicate
	for _, other := range recent {
		if other.Symbol != sig.Symbol || other.Direction != sig.Direction {
			continue
		}
		if sig.EntryPrice == 0 {
			continue
		}
		drift := math.Abs(other.EntryPrice-sig.EntryPrice) / sig.EntryPrice
		if drift <= duplicateTolerance {
			errs = append(errs, fmt.Sprintf("duplicate of signal %s (%s %s entry %v)",
				other.ID, other.Symbol, other.Direction, other.EntryPrice))
			break
		}
	}

	score := 100 - 15*len(errs) - 5*len(warns)
	if score < 0 {
		score = 0
	}

	return types.ValidationResult{
		IsValid:         len(errs) == 0,
		Errors:          errs,
		Warnings:        warns,
		RRRatio:         sig.RRRatio,
		RiskDistance:    sig.RiskDistance,
		ConfidenceScore: score,
	}
}

// checkOrdering enforces the level ordering invariants per direction,
// including the zero-risk and tp3-without-tp2 rejections.
func checkOrdering(sig *types.Signal) []string {
	var errs []string

	if sig.EntryPrice == sig.SL {
		errs = append(errs, fmt.Sprintf("entry (%v) equals SL (%v), zero risk distance", sig.EntryPrice, sig.SL))
	}
	if sig.TP3 != nil && sig.TP2 == nil {
		errs = append(errs, "tp3 present without tp2")
	}

	switch sig.Direction {
	case types.Long:
		if sig.SL >= sig.EntryPrice && sig.EntryPrice != sig.SL {
			errs = append(errs, fmt.Sprintf("LONG entry (%v) must be above SL (%v)", sig.EntryPrice, sig.SL))
		}
		if sig.TP1 <= sig.EntryPrice {
			errs = append(errs, fmt.Sprintf("LONG tp1 (%v) must be above entry (%v)", sig.TP1, sig.EntryPrice))
		}
		if sig.TP2 != nil && *sig.TP2 <= sig.TP1 {
			errs = append(errs, fmt.Sprintf("LONG tp2 (%v) must be above tp1 (%v)", *sig.TP2, sig.TP1))
		}
		if sig.TP2 != nil && sig.TP3 != nil && *sig.TP3 <= *sig.TP2 {
			errs = append(errs, fmt.Sprintf("LONG tp3 (%v) must be above tp2 (%v)", *sig.TP3, *sig.TP2))
		}
	case types.Short:
		if sig.SL <= sig.EntryPrice && sig.EntryPrice != sig.SL {
			errs = append(errs, fmt.Sprintf("SHORT entry (%v) must be below SL (%v)", sig.EntryPrice, sig.SL))
		}
		if sig.TP1 >= sig.EntryPrice {
			errs = append(errs, fmt.Sprintf("SHORT tp1 (%v) must be below entry (%v)", sig.TP1, sig.EntryPrice))
		}
		if sig.TP2 != nil && *sig.TP2 >= sig.TP1 {
			errs = append(errs, fmt.Sprintf("SHORT tp2 (%v) must be below tp1 (%v)", *sig.TP2, sig.TP1))
		}
		if sig.TP2 != nil && sig.TP3 != nil && *sig.TP3 >= *sig.TP2 {
			errs = append(errs, fmt.Sprintf("SHORT tp3 (%v) must be below tp2 (%v)", *sig.TP3, *sig.TP2))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown direction %q", sig.Direction))
	}

	return errs
}

// DecimalPlaces counts significant decimal places of a price using the
// shortest decimal representation of the float.
func DecimalPlaces(v float64) int {
	exp := decimal.NewFromFloat(v).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}
