package signal

import (
	"math"
	"time"

	"signal-bridge/pkg/types"
)

// profitFactorFloor keeps the profit factor finite for loss-free histories.
const profitFactorFloor = 0.01

// ComputeRValue returns realized profit in units of initial risk, rounded
// to 4 decimal places. An SL exit at exactly sl yields -1.0.
func ComputeRValue(sig *types.Signal, exitPrice float64) float64 {
	if sig.RiskDistance == 0 {
		return 0
	}
	var r float64
	if sig.Direction == types.Long {
		r = (exitPrice - sig.EntryPrice) / sig.RiskDistance
	} else {
		r = (sig.EntryPrice - exitPrice) / sig.RiskDistance
	}
	return math.Round(r*10000) / 10000
}

// Finalize stamps the terminal fields on a closing transition. An SL exit
// uses the configured stop as the exit price so r_value lands on exactly
// -1.0 when the stop was not gapped through.
func Finalize(sig *types.Signal, event types.EventType, cp float64, now time.Time) {
	exit := cp
	if event == types.EventSLHit {
		exit = sig.SL
	}
	sig.ClosedAt = &now
	sig.CloseReason = string(event)
	sig.ExitPrice = &exit

	r := ComputeRValue(sig, exit)
	sig.RValue = &r
	if sig.EntryPrice > 0 {
		pnl := (exit - sig.EntryPrice) / sig.EntryPrice * 100
		if sig.Direction == types.Short {
			pnl = -pnl
		}
		sig.PnLPct = &pnl
	}
}

// Resolve produces the post-trade analysis of one signal from its event
// history. Events must be in event_time order, which is how the store
// returns them.
func Resolve(sig *types.Signal, events []types.SignalEvent) types.SignalOutcome {
	out := types.SignalOutcome{
		SignalID:   sig.ID,
		Result:     types.ResultOpen,
		EntryPrice: sig.EntryPrice,
	}

	var (
		slHit      bool
		closedBy   *types.SignalEvent
		entryAt    *time.Time
		lastTPAt   *time.Time
		lastExit   *float64
		sawFav     bool
		sawAdv     bool
		mfe, mae   float64
	)

	for i := range events {
		ev := &events[i]
		switch ev.EventType {
		case types.EventEntryHit:
			t := ev.EventTime
			entryAt = &t
		case types.EventTP1Hit, types.EventTP2Hit, types.EventTP3Hit:
			out.TPHits = append(out.TPHits, tpIndex(ev.EventType))
			t := ev.EventTime
			lastTPAt = &t
			if ev.Price != nil {
				lastExit = ev.Price
			}
		case types.EventSLHit:
			slHit = true
			closedBy = ev
			if ev.Price != nil {
				lastExit = ev.Price
			} else {
				lastExit = types.Float64Ptr(sig.SL)
			}
		case types.EventManualClose, types.EventExpired:
			closedBy = ev
			if ev.Price != nil {
				lastExit = ev.Price
			}
		case types.EventPriceUpdate:
			if ev.Price == nil {
				continue
			}
			fav, adv := excursion(sig, *ev.Price)
			if !sawFav || fav > mfe {
				mfe, sawFav = fav, true
			}
			if !sawAdv || adv > mae {
				mae, sawAdv = adv, true
			}
		}
	}

	switch {
	case slHit && len(out.TPHits) > 0:
		out.Result = types.ResultPartial
	case slHit:
		out.Result = types.ResultLoss
	case len(out.TPHits) > 0:
		// Banked at least one target without being stopped out. Counts as
		// a win even while later targets are still running.
		out.Result = types.ResultWin
	case closedBy != nil || sig.Status == types.StatusClosed:
		out.Result = types.ResultClosed
	}

	if sig.ExitPrice != nil {
		out.ExitPrice = sig.ExitPrice
	} else if out.Result != types.ResultOpen {
		out.ExitPrice = lastExit
	}
	if out.ExitPrice != nil {
		out.RValue = types.Float64Ptr(ComputeRValue(sig, *out.ExitPrice))
	}

	out.MaxFavorable = mfe
	out.MaxAdverse = mae

	if closedBy != nil {
		t := closedBy.EventTime
		out.ClosedAt = &t
		if entryAt != nil {
			hours := t.Sub(*entryAt).Hours()
			out.DurationHours = &hours
		}
	} else if sig.ClosedAt != nil {
		out.ClosedAt = sig.ClosedAt
		if entryAt != nil {
			hours := sig.ClosedAt.Sub(*entryAt).Hours()
			out.DurationHours = &hours
		}
	} else if lastTPAt != nil && entryAt != nil {
		// No close event yet; the last banked target marks the span.
		hours := lastTPAt.Sub(*entryAt).Hours()
		out.DurationHours = &hours
	}

	return out
}

// excursion returns the favorable and adverse price distance from entry for
// one observed price, both clamped at zero.
func excursion(sig *types.Signal, price float64) (fav, adv float64) {
	diff := price - sig.EntryPrice
	if sig.Direction == types.Short {
		diff = -diff
	}
	if diff > 0 {
		return diff, 0
	}
	return 0, -diff
}

func tpIndex(ev types.EventType) int {
	switch ev {
	case types.EventTP1Hit:
		return 1
	case types.EventTP2Hit:
		return 2
	case types.EventTP3Hit:
		return 3
	}
	return 0
}

// Aggregate folds a list of outcomes into provider statistics. Open signals
// are excluded from rates; empty input returns zero-valued stats.
func Aggregate(providerID string, outcomes []types.SignalOutcome, now time.Time) types.ProviderStats {
	stats := types.ProviderStats{
		ProviderID:   providerID,
		CalculatedAt: now,
	}

	var (
		resolved      int
		tpCounts      [4]int
		sumR          float64
		nR            int
		sumPos        float64
		sumNeg        float64
		sumDuration   float64
		nDuration     int
	)

	for _, o := range outcomes {
		stats.TotalSignals++
		switch o.Result {
		case types.ResultWin:
			stats.Wins++
		case types.ResultLoss:
			stats.Losses++
		case types.ResultPartial:
			stats.Partials++
		case types.ResultOpen:
			continue
		}
		resolved++

		for _, tp := range o.TPHits {
			if tp >= 1 && tp <= 3 {
				tpCounts[tp]++
			}
		}

		if o.RValue != nil {
			r := *o.RValue
			sumR += r
			nR++
			if r > 0 {
				sumPos += r
			} else {
				sumNeg += -r
			}
			if nR == 1 || r > stats.BestR {
				stats.BestR = r
			}
			if nR == 1 || r < stats.WorstR {
				stats.WorstR = r
			}
		}

		if o.DurationHours != nil {
			sumDuration += *o.DurationHours
			nDuration++
		}
	}

	if resolved > 0 {
		stats.WinRate = float64(stats.Wins) / float64(resolved)
		stats.TP1HitRate = float64(tpCounts[1]) / float64(resolved)
		stats.TP2HitRate = float64(tpCounts[2]) / float64(resolved)
		stats.TP3HitRate = float64(tpCounts[3]) / float64(resolved)
	}
	if nR > 0 {
		stats.AvgR = sumR / float64(nR)
		stats.TotalR = sumR
		stats.Expectancy = stats.AvgR
		stats.ProfitFactor = sumPos / math.Max(sumNeg, profitFactorFloor)
	}
	if nDuration > 0 {
		stats.AvgDurationHours = sumDuration / float64(nDuration)
	}

	return stats
}

// EquityCurve builds a cumulative equity series from resolved outcomes,
// compounding a fixed risk fraction per trade. Outcomes without an R-value
// are skipped.
func EquityCurve(outcomes []types.SignalOutcome, startingEquity, riskPct float64) []types.EquityPoint {
	if startingEquity <= 0 {
		startingEquity = 10000
	}
	if riskPct <= 0 {
		riskPct = 0.01
	}

	var (
		curve  []types.EquityPoint
		cumR   float64
		equity = startingEquity
	)
	for _, o := range outcomes {
		if o.RValue == nil {
			continue
		}
		r := *o.RValue
		cumR += r
		equity *= 1 + r*riskPct
		curve = append(curve, types.EquityPoint{
			Date:        o.ClosedAt,
			CumulativeR: cumR,
			Equity:      equity,
			RValue:      o.RValue,
			Result:      o.Result,
		})
	}
	return curve
}

// MaxDrawdown returns the worst peak-to-trough decline of an equity curve,
// in cumulative R units and as a fraction of the peak equity.
func MaxDrawdown(curve []types.EquityPoint) (ddR, ddPct float64) {
	var peakR, peakEq float64
	for i, p := range curve {
		if i == 0 || p.CumulativeR > peakR {
			peakR = p.CumulativeR
		}
		if i == 0 || p.Equity > peakEq {
			peakEq = p.Equity
		}
		if d := peakR - p.CumulativeR; d > ddR {
			ddR = d
		}
		if peakEq > 0 {
			if d := (peakEq - p.Equity) / peakEq; d > ddPct {
				ddPct = d
			}
		}
	}
	return ddR, ddPct
}
