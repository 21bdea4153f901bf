package price

import (
	"math"
	"time"

	"signal-bridge/pkg/types"
)

// SchedulerSettings are the proximity thresholds and per-zone intervals.
type SchedulerSettings struct {
	CloseThreshold float64
	MidThreshold   float64
	CloseInterval  time.Duration
	MidInterval    time.Duration
	FarInterval    time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
}

// DefaultSchedulerSettings returns the documented defaults:
// CLOSE at ratio <= 0.10 polled every 5s, MID at <= 0.30 every 15s,
// FAR every 60s, clamped to [1s, 300s].
func DefaultSchedulerSettings() SchedulerSettings {
	return SchedulerSettings{
		CloseThreshold: 0.10,
		MidThreshold:   0.30,
		CloseInterval:  5 * time.Second,
		MidInterval:    15 * time.Second,
		FarInterval:    60 * time.Second,
		MinInterval:    1 * time.Second,
		MaxInterval:    300 * time.Second,
	}
}

// Scheduler assigns each open signal a proximity zone and next poll time.
// Cost and latency both scale with how many signals approach their levels
// at once; the scheduler pays most attention to the imminent ones.
type Scheduler struct {
	settings SchedulerSettings
}

func NewScheduler(settings SchedulerSettings) *Scheduler {
	return &Scheduler{settings: settings}
}

// Zone classifies how close the current price is to the nearest exit level,
// normalized by the TP1-SL span.
func (s *Scheduler) Zone(sig *types.Signal, price float64) types.ProximityZone {
	span := math.Abs(math.Max(sig.TP1, sig.SL) - math.Min(sig.TP1, sig.SL))
	if span == 0 {
		return types.ZoneClose
	}

	minDist := math.Abs(price - sig.SL)
	for _, level := range sig.TPLevels() {
		if d := math.Abs(price - level); d < minDist {
			minDist = d
		}
	}

	ratio := minDist / span
	switch {
	case ratio <= s.settings.CloseThreshold:
		return types.ZoneClose
	case ratio <= s.settings.MidThreshold:
		return types.ZoneMid
	default:
		return types.ZoneFar
	}
}

// Interval maps a zone to its clamped poll interval.
func (s *Scheduler) Interval(zone types.ProximityZone) time.Duration {
	var iv time.Duration
	switch zone {
	case types.ZoneClose:
		iv = s.settings.CloseInterval
	case types.ZoneMid:
		iv = s.settings.MidInterval
	default:
		iv = s.settings.FarInterval
	}
	if iv < s.settings.MinInterval {
		iv = s.settings.MinInterval
	}
	if iv > s.settings.MaxInterval {
		iv = s.settings.MaxInterval
	}
	return iv
}

// NextPoll computes the zone and the absolute next poll time for a signal
// given the price just observed.
func (s *Scheduler) NextPoll(sig *types.Signal, price float64, now time.Time) (types.ProximityZone, time.Time) {
	zone := s.Zone(sig, price)
	return zone, now.Add(s.Interval(zone))
}
