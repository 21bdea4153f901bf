// Package monitor implements the price monitor worker: scanning due
// signals, fetching grouped quotes, detecting level crossings, applying
// state transitions, and rescheduling polls.
package monitor

import (
	"signal-bridge/pkg/types"
)

// DetectHit is the pure hit detector: given a signal's current status,
// direction, and the observed price, it returns the triggered event kind.
// SL is checked before TP in every state so a price that could satisfy
// both resolves conservatively to the stop.
func DetectHit(sig *types.Signal, cp float64) (types.EventType, bool) {
	long := sig.Direction == types.Long

	switch sig.Status {
	case types.StatusPending:
		if long && cp <= sig.EntryPrice || !long && cp >= sig.EntryPrice {
			return types.EventEntryHit, true
		}

	case types.StatusActive:
		if stopped(sig, cp, long) {
			return types.EventSLHit, true
		}
		if crossed(cp, sig.TP1, long) {
			return types.EventTP1Hit, true
		}

	case types.StatusTP1Hit:
		if stopped(sig, cp, long) {
			return types.EventSLHit, true
		}
		if sig.TP2 != nil && crossed(cp, *sig.TP2, long) {
			return types.EventTP2Hit, true
		}

	case types.StatusTP2Hit:
		if stopped(sig, cp, long) {
			return types.EventSLHit, true
		}
		if sig.TP3 != nil && crossed(cp, *sig.TP3, long) {
			return types.EventTP3Hit, true
		}
	}

	// TP3_HIT has nothing left to watch; terminal states never reach here.
	return "", false
}

func stopped(sig *types.Signal, cp float64, long bool) bool {
	if long {
		return cp <= sig.SL
	}
	return cp >= sig.SL
}

// crossed reports whether cp reached a take-profit level in the trade's
// favorable direction.
func crossed(cp, level float64, long bool) bool {
	if long {
		return cp >= level
	}
	return cp <= level
}
