package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "engine",
			Name:      "bars_processed_total",
			Help:      "Closed bars evaluated, by symbol",
		},
		[]string{"symbol"},
	)

	TicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "engine",
			Name:      "ticks_skipped_total",
			Help:      "Bar-close ticks skipped for missing the settle window",
		},
	)

	EvaluationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "liqsweep",
			Subsystem: "engine",
			Name:      "evaluation_latency_seconds",
			Help:      "Full detection/scoring/tracking cycle latency per bar",
			Buckets:   prometheus.DefBuckets,
		},
	)

	PatternRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "pattern",
			Name:      "rejections_total",
			Help:      "Pattern candidates rejected, by failing condition",
		},
		[]string{"condition"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "scoring",
			Name:      "signals_total",
			Help:      "Scored signals by verdict",
		},
		[]string{"verdict"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liqsweep",
			Subsystem: "tracker",
			Name:      "positions_open",
			Help:      "Currently open virtual positions",
		},
	)

	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "tracker",
			Name:      "positions_closed_total",
			Help:      "Closed positions by terminal status",
		},
		[]string{"status"},
	)

	LiquidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liqsweep",
			Subsystem: "feed",
			Name:      "liquidation_events_total",
			Help:      "Liquidation events ingested, by side",
		},
		[]string{"side"},
	)

	RestWeightUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liqsweep",
			Subsystem: "feed",
			Name:      "rest_weight_usage",
			Help:      "Fraction of the REST weight budget used in the current window",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			BarsProcessed,
			TicksSkipped,
			EvaluationLatency,
			PatternRejections,
			SignalsEmitted,
			PositionsOpen,
			PositionsClosed,
			LiquidationEvents,
			RestWeightUsage,
		)
	})
}
