// Package metrics declares the Prometheus collectors shared across the
// ingestion path. The gateway serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksProcessed counts valid ticks folded into a candle.
	TicksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "ticks_processed_total",
		Help:      "Valid ticks folded into a live candle.",
	})

	// InvalidTicks counts payloads rejected by the normalizer.
	InvalidTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "ticks_invalid_total",
		Help:      "Raw payloads rejected as malformed or incomplete.",
	})

	// StaleTicks counts ticks dropped for belonging to a closed period.
	StaleTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "ticks_stale_total",
		Help:      "Ticks dropped because their period was already closed.",
	})

	// CandlesFinalized counts candles retired by a newer period.
	CandlesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "candles_finalized_total",
		Help:      "Candles emitted as final.",
	})

	// EventsPublished counts events handed to the publication channel by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "events_published_total",
		Help:      "Events published to the fan-out hub.",
	}, []string{"type"})

	// EventsDropped counts events discarded by the drop-oldest policy.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "niftypulse",
		Name:      "events_dropped_total",
		Help:      "Events dropped across all slow subscribers.",
	})

	// ActiveSubscribers tracks currently registered hub subscriptions.
	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "niftypulse",
		Name:      "active_subscribers",
		Help:      "Currently registered fan-out subscriptions.",
	})
)
