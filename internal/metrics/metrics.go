// Package metrics registers the bridge's Prometheus instruments. Counters
// are package-level so any component can record without plumbing a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycles counts completed monitor cycles.
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_cycles_total",
		Help: "Completed price monitor cycles.",
	})

	// SignalsChecked counts signals examined by the monitor.
	SignalsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_signals_checked_total",
		Help: "Signals examined across all monitor cycles.",
	})

	// Hits counts detected level crossings by event kind.
	Hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_hits_total",
		Help: "Detected level crossings by event type.",
	}, []string{"event"})

	// Deliveries counts webhook delivery outcomes.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deliveries_total",
		Help: "Webhook deliveries by final outcome.",
	}, []string{"outcome"})

	// DeliveryRetries counts individual retry attempts.
	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_delivery_retries_total",
		Help: "Webhook delivery retry attempts.",
	})

	// PriceFetchErrors counts upstream price fetch failures by source.
	PriceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_price_fetch_errors_total",
		Help: "Upstream price fetch failures by source.",
	}, []string{"source"})

	// OpenSignals tracks how many signals are currently monitorable.
	OpenSignals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_open_signals",
		Help: "Signals currently in a monitorable status.",
	})
)
