package types

import (
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusSLHit, StatusClosed, StatusInvalid}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.IsMonitorable() {
			t.Errorf("%s should not be monitorable", s)
		}
	}

	live := []Status{StatusPending, StatusActive, StatusTP1Hit, StatusTP2Hit, StatusTP3Hit}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.IsMonitorable() {
			t.Errorf("%s should be monitorable", s)
		}
	}
}

func TestStatusTPProgression(t *testing.T) {
	t.Parallel()

	cases := map[Status]int{
		StatusPending: 0,
		StatusActive:  0,
		StatusTP1Hit:  1,
		StatusTP2Hit:  2,
		StatusTP3Hit:  3,
		StatusSLHit:   0,
	}
	for status, want := range cases {
		if got := status.TPProgression(); got != want {
			t.Errorf("%s: progression = %d, want %d", status, got, want)
		}
	}
}

func TestComputeRiskMetrics(t *testing.T) {
	t.Parallel()

	s := &Signal{
		Direction:  Long,
		EntryPrice: 50000,
		SL:         49000,
		TP1:        52000,
	}
	s.ComputeRiskMetrics()

	if s.RiskDistance != 1000 {
		t.Errorf("risk distance = %v, want 1000", s.RiskDistance)
	}
	if s.RRRatio != 2.0 {
		t.Errorf("rr ratio = %v, want 2.0", s.RRRatio)
	}

	// Degenerate levels must not divide by zero.
	z := &Signal{EntryPrice: 100, SL: 100, TP1: 110}
	z.ComputeRiskMetrics()
	if z.RRRatio != 0 {
		t.Errorf("zero risk distance: rr ratio = %v, want 0", z.RRRatio)
	}
}

func TestTPLevels(t *testing.T) {
	t.Parallel()

	s := &Signal{TP1: 110, TP2: Float64Ptr(120)}
	levels := s.TPLevels()
	if len(levels) != 2 || levels[0] != 110 || levels[1] != 120 {
		t.Errorf("levels = %v, want [110 120]", levels)
	}
}

func TestSubscribesTo(t *testing.T) {
	t.Parallel()

	sub := &WebhookSubscription{
		EventTypes: []EventType{EventTP1Hit, EventSLHit},
		CreatedAt:  time.Now(),
	}
	if !sub.SubscribesTo(EventSLHit) {
		t.Error("should subscribe to SL_HIT")
	}
	if sub.SubscribesTo(EventEntryHit) {
		t.Error("should not subscribe to ENTRY_HIT")
	}
}
