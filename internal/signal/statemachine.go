// Package signal implements the lifecycle engine: payload normalization,
// validation, the state machine, and outcome resolution. Everything in this
// package is pure; persistence and I/O live elsewhere.
package signal

import (
	"fmt"

	"signal-bridge/pkg/types"
)

// targetStatus maps an event kind to the status it drives a signal toward.
// Event kinds absent here (ENTRY_REGISTERED, PRICE_UPDATE) never transition.
var targetStatus = map[types.EventType]types.Status{
	types.EventEntryHit:         types.StatusActive,
	types.EventTP1Hit:           types.StatusTP1Hit,
	types.EventTP2Hit:           types.StatusTP2Hit,
	types.EventTP3Hit:           types.StatusTP3Hit,
	types.EventSLHit:            types.StatusSLHit,
	types.EventManualClose:      types.StatusClosed,
	types.EventExpired:          types.StatusClosed,
	types.EventValidationFailed: types.StatusInvalid,
}

// legalEdges enumerates every permitted (from, to) pair. No edge leads
// backward and terminal states have no outgoing edges.
var legalEdges = map[types.Status]map[types.Status]bool{
	types.StatusPending: {
		types.StatusActive:  true,
		types.StatusInvalid: true,
		types.StatusClosed:  true,
	},
	types.StatusActive: {
		types.StatusTP1Hit: true,
		types.StatusSLHit:  true,
		types.StatusClosed: true,
	},
	types.StatusTP1Hit: {
		types.StatusTP2Hit: true,
		types.StatusSLHit:  true,
		types.StatusClosed: true,
	},
	types.StatusTP2Hit: {
		types.StatusTP3Hit: true,
		types.StatusSLHit:  true,
		types.StatusClosed: true,
	},
	types.StatusTP3Hit: {
		types.StatusClosed: true,
	},
}

// Apply runs the transition table for one event against the current status.
// Refusals are values, not errors: a terminal source, a repeated event, or
// an illegal edge all come back with DidTransition=false and a reason the
// caller can log.
func Apply(current types.Status, event types.EventType) types.TransitionResult {
	target, drives := targetStatus[event]
	if !drives {
		return types.TransitionResult{
			NewStatus:     current,
			DidTransition: false,
			Reason:        fmt.Sprintf("event %s does not drive a transition", event),
			IsTerminal:    current.IsTerminal(),
		}
	}

	if current.IsTerminal() {
		return types.TransitionResult{
			NewStatus:     current,
			DidTransition: false,
			Reason:        fmt.Sprintf("signal is terminal (%s), ignoring %s", current, event),
			IsTerminal:    true,
		}
	}

	if current == target {
		return types.TransitionResult{
			NewStatus:     current,
			DidTransition: false,
			Reason:        fmt.Sprintf("already in %s", current),
			IsTerminal:    current.IsTerminal(),
		}
	}

	if !legalEdges[current][target] {
		return types.TransitionResult{
			NewStatus:     current,
			DidTransition: false,
			Reason:        fmt.Sprintf("illegal transition %s -> %s (event %s)", current, target, event),
			IsTerminal:    current.IsTerminal(),
		}
	}

	return types.TransitionResult{
		NewStatus:     target,
		DidTransition: true,
		Reason:        fmt.Sprintf("%s -> %s on %s", current, target, event),
		IsTerminal:    target.IsTerminal(),
	}
}

// ValidNext returns the statuses reachable from current in one transition.
// Terminal states return nil.
func ValidNext(current types.Status) []types.Status {
	edges := legalEdges[current]
	if len(edges) == 0 {
		return nil
	}
	out := make([]types.Status, 0, len(edges))
	for _, target := range []types.Status{
		types.StatusActive, types.StatusTP1Hit, types.StatusTP2Hit,
		types.StatusTP3Hit, types.StatusSLHit, types.StatusClosed,
		types.StatusInvalid,
	} {
		if edges[target] {
			out = append(out, target)
		}
	}
	return out
}

// Replay folds an event sequence over PENDING and returns the final status.
// Used to verify that the event log reproduces the persisted state.
func Replay(events []types.EventType) types.Status {
	status := types.StatusPending
	for _, ev := range events {
		status = Apply(status, ev).NewStatus
	}
	return status
}
