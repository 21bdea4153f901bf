package monitor

import (
	"testing"

	"signal-bridge/pkg/types"
)

func detSignal(dir types.Direction, status types.Status) *types.Signal {
	s := &types.Signal{
		Direction:  dir,
		EntryPrice: 100,
		SL:         95,
		TP1:        105,
		TP2:        types.Float64Ptr(110),
		TP3:        types.Float64Ptr(115),
		Status:     status,
	}
	if dir == types.Short {
		s.SL = 105
		s.TP1 = 95
		s.TP2 = types.Float64Ptr(90)
		s.TP3 = types.Float64Ptr(85)
	}
	s.ComputeRiskMetrics()
	return s
}

func TestDetectHitTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		dir    types.Direction
		status types.Status
		cp     float64
		want   types.EventType
		hit    bool
	}{
		{"long pending entry", types.Long, types.StatusPending, 100, types.EventEntryHit, true},
		{"long pending below entry", types.Long, types.StatusPending, 99, types.EventEntryHit, true},
		{"long pending above entry", types.Long, types.StatusPending, 101, "", false},
		{"short pending entry", types.Short, types.StatusPending, 100.5, types.EventEntryHit, true},
		{"short pending no entry", types.Short, types.StatusPending, 99, "", false},

		{"long active sl", types.Long, types.StatusActive, 94, types.EventSLHit, true},
		{"long active tp1", types.Long, types.StatusActive, 106, types.EventTP1Hit, true},
		{"long active between", types.Long, types.StatusActive, 100, "", false},
		{"short active sl", types.Short, types.StatusActive, 106, types.EventSLHit, true},
		{"short active tp1", types.Short, types.StatusActive, 94, types.EventTP1Hit, true},

		{"long tp1 to tp2", types.Long, types.StatusTP1Hit, 111, types.EventTP2Hit, true},
		{"long tp1 back to sl", types.Long, types.StatusTP1Hit, 94, types.EventSLHit, true},
		{"long tp2 to tp3", types.Long, types.StatusTP2Hit, 115, types.EventTP3Hit, true},
		{"short tp2 to tp3", types.Short, types.StatusTP2Hit, 84, types.EventTP3Hit, true},

		{"tp3 watches nothing", types.Long, types.StatusTP3Hit, 200, "", false},
	}
	for _, c := range cases {
		sig := detSignal(c.dir, c.status)
		got, hit := DetectHit(sig, c.cp)
		if hit != c.hit || got != c.want {
			t.Errorf("%s: DetectHit = (%s, %v), want (%s, %v)", c.name, got, hit, c.want, c.hit)
		}
	}
}

func TestDetectHitSLBeforeTP(t *testing.T) {
	t.Parallel()

	// Degenerate levels where one price satisfies both stop and target:
	// the stop must win.
	sig := &types.Signal{
		Direction:  types.Long,
		EntryPrice: 100,
		SL:         100,
		TP1:        100,
		Status:     types.StatusActive,
	}
	got, hit := DetectHit(sig, 100)
	if !hit || got != types.EventSLHit {
		t.Errorf("simultaneous hit = %s, want SL_HIT", got)
	}
}

func TestDetectHitMissingTP2(t *testing.T) {
	t.Parallel()

	sig := detSignal(types.Long, types.StatusTP1Hit)
	sig.TP2 = nil
	if ev, hit := DetectHit(sig, 120); hit {
		t.Errorf("no tp2: got %s, want no event", ev)
	}
}
