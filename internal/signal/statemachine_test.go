package signal

import (
	"testing"

	"signal-bridge/pkg/types"
)

func TestApplyLegalPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		from  types.Status
		event types.EventType
		want  types.Status
	}{
		{types.StatusPending, types.EventEntryHit, types.StatusActive},
		{types.StatusActive, types.EventTP1Hit, types.StatusTP1Hit},
		{types.StatusTP1Hit, types.EventTP2Hit, types.StatusTP2Hit},
		{types.StatusTP2Hit, types.EventTP3Hit, types.StatusTP3Hit},
		{types.StatusTP3Hit, types.EventManualClose, types.StatusClosed},
	}
	for _, s := range steps {
		res := Apply(s.from, s.event)
		if !res.DidTransition {
			t.Fatalf("%s + %s: expected transition, got refusal: %s", s.from, s.event, res.Reason)
		}
		if res.NewStatus != s.want {
			t.Fatalf("%s + %s: new status = %s, want %s", s.from, s.event, res.NewStatus, s.want)
		}
	}
}

func TestApplySLFromPartials(t *testing.T) {
	t.Parallel()

	for _, from := range []types.Status{types.StatusActive, types.StatusTP1Hit, types.StatusTP2Hit} {
		res := Apply(from, types.EventSLHit)
		if !res.DidTransition || res.NewStatus != types.StatusSLHit {
			t.Errorf("%s + SL_HIT: got %+v", from, res)
		}
		if !res.IsTerminal {
			t.Errorf("%s + SL_HIT: should be terminal", from)
		}
	}

	// TP3 has no SL edge: every target is already banked or closed.
	res := Apply(types.StatusTP3Hit, types.EventSLHit)
	if res.DidTransition {
		t.Errorf("TP3_HIT + SL_HIT should refuse, got %+v", res)
	}
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()

	res := Apply(types.StatusActive, types.EventEntryHit)
	if res.DidTransition {
		t.Fatalf("repeat ENTRY_HIT should be a no-op, got %+v", res)
	}
	if res.NewStatus != types.StatusActive {
		t.Fatalf("no-op must keep status, got %s", res.NewStatus)
	}
}

func TestApplyTerminalRefusal(t *testing.T) {
	t.Parallel()

	for _, from := range []types.Status{types.StatusSLHit, types.StatusClosed, types.StatusInvalid} {
		res := Apply(from, types.EventTP1Hit)
		if res.DidTransition {
			t.Errorf("%s must refuse all events, got %+v", from, res)
		}
		if res.NewStatus != from {
			t.Errorf("%s must not change, got %s", from, res.NewStatus)
		}
	}
}

func TestApplyIllegalEdge(t *testing.T) {
	t.Parallel()

	// TP2 requires TP1 first; entry requires PENDING.
	cases := []struct {
		from  types.Status
		event types.EventType
	}{
		{types.StatusPending, types.EventTP2Hit},
		{types.StatusActive, types.EventTP2Hit},
		{types.StatusTP1Hit, types.EventTP3Hit},
		{types.StatusTP1Hit, types.EventEntryHit},
	}
	for _, c := range cases {
		res := Apply(c.from, c.event)
		if res.DidTransition {
			t.Errorf("%s + %s should refuse, got %+v", c.from, c.event, res)
		}
		if res.Reason == "" {
			t.Errorf("%s + %s: refusal needs a reason", c.from, c.event)
		}
	}
}

func TestApplyNonTransitionEvents(t *testing.T) {
	t.Parallel()

	for _, ev := range []types.EventType{types.EventPriceUpdate, types.EventEntryRegistered} {
		res := Apply(types.StatusActive, ev)
		if res.DidTransition || res.NewStatus != types.StatusActive {
			t.Errorf("%s must never transition, got %+v", ev, res)
		}
	}
}

func TestValidNext(t *testing.T) {
	t.Parallel()

	next := ValidNext(types.StatusTP3Hit)
	if len(next) != 1 || next[0] != types.StatusClosed {
		t.Errorf("ValidNext(TP3_HIT) = %v, want [CLOSED]", next)
	}

	next = ValidNext(types.StatusPending)
	if len(next) != 3 {
		t.Errorf("ValidNext(PENDING) = %v, want 3 targets", next)
	}

	for _, terminal := range []types.Status{types.StatusSLHit, types.StatusClosed, types.StatusInvalid} {
		if got := ValidNext(terminal); got != nil {
			t.Errorf("ValidNext(%s) = %v, want nil", terminal, got)
		}
	}
}

func TestReplayReproducesState(t *testing.T) {
	t.Parallel()

	events := []types.EventType{
		types.EventEntryHit,
		types.EventTP1Hit,
		types.EventTP1Hit, // duplicate from a retried monitor write
		types.EventSLHit,
	}
	if got := Replay(events); got != types.StatusSLHit {
		t.Fatalf("replay = %s, want SL_HIT", got)
	}

	if got := Replay(nil); got != types.StatusPending {
		t.Fatalf("empty replay = %s, want PENDING", got)
	}
}
