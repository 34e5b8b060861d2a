package liquidation

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
)

// ErrInsufficientSamples marks a percentile request made before the rolling
// bucket series has reached the minimum count. Callers decide the fallback;
// the aggregator never silently substitutes one.
var ErrInsufficientSamples = errors.New("insufficient liquidation samples")

// Bias describes which side dominates recent forced orders
type Bias string

const (
	BiasLong  Bias = "LONG"  // Longs being flushed
	BiasShort Bias = "SHORT" // Shorts being flushed
	BiasMixed Bias = "MIXED"
)

// bucket aggregates forced-order notional within one fixed time window
type bucket struct {
	windowStart  int64
	totalUSD     float64
	longLiqUSD   float64 // SELL forced orders flush longs
	shortLiqUSD  float64 // BUY forced orders flush shorts
	count        int
}

// ClusterCheck is the outcome of a liquidation-cluster condition test
type ClusterCheck struct {
	Passed    bool    `json:"passed"`
	Fallback  bool    `json:"fallback"` // True when decided by the cold-start rule
	Notional  float64 `json:"notional"`
	Threshold float64 `json:"threshold"`
}

// Aggregator buckets forced orders into fixed windows per symbol and keeps
// a rolling horizon of bucket sums for percentile estimation.
type Aggregator struct {
	mu      sync.RWMutex
	buckets map[string][]bucket

	windowMS      int64
	maxBuckets    int
	minBuckets    int
	fallbackUSD   float64
	logger        zerolog.Logger
}

// NewAggregator creates an aggregator from strategy config
func NewAggregator(cfg config.StrategyConfig, logger zerolog.Logger) *Aggregator {
	windowMS := int64(cfg.LiqWindowMinutes) * 60_000
	if windowMS <= 0 {
		windowMS = 4 * 60_000
	}

	// Horizon in buckets: history days divided by bucket width
	maxBuckets := int(int64(cfg.LiqHistoryDays) * 24 * 60 * 60_000 / windowMS)
	if maxBuckets <= 0 {
		maxBuckets = 10_800
	}

	return &Aggregator{
		buckets:     make(map[string][]bucket),
		windowMS:    windowMS,
		maxBuckets:  maxBuckets,
		minBuckets:  cfg.LiqMinBuckets,
		fallbackUSD: cfg.LiqFallbackMinUSD,
		logger:      logger.With().Str("component", "liq-aggregator").Logger(),
	}
}

// AddEvent folds a forced order into its time bucket. Buckets are created
// in timestamp order per symbol; the oldest beyond the horizon is evicted.
func (a *Aggregator) AddEvent(e binance.LiquidationEvent) {
	windowStart := (e.Timestamp / a.windowMS) * a.windowMS
	notional := e.NotionalUSD()

	a.mu.Lock()
	defer a.mu.Unlock()

	series := a.buckets[e.Symbol]
	n := len(series)
	if n > 0 && series[n-1].windowStart == windowStart {
		series[n-1].totalUSD += notional
		series[n-1].count++
		addSide(&series[n-1], e.Side, notional)
		a.buckets[e.Symbol] = series
		return
	}
	if n > 0 && series[n-1].windowStart > windowStart {
		// Late event for an already-rolled window; fold into the last
		// bucket rather than breaking ordering.
		series[n-1].totalUSD += notional
		series[n-1].count++
		addSide(&series[n-1], e.Side, notional)
		a.buckets[e.Symbol] = series
		return
	}

	b := bucket{windowStart: windowStart, totalUSD: notional, count: 1}
	addSide(&b, e.Side, notional)
	series = append(series, b)
	if len(series) > a.maxBuckets {
		series = series[len(series)-a.maxBuckets:]
	}
	a.buckets[e.Symbol] = series
}

func addSide(b *bucket, side binance.LiquidationSide, notional float64) {
	switch side {
	case binance.LiquidationSell:
		b.longLiqUSD += notional
	case binance.LiquidationBuy:
		b.shortLiqUSD += notional
	}
}

// Percentile returns the p-th percentile of bucket notional sums over the
// rolling horizon. Returns ErrInsufficientSamples below the minimum count.
func (a *Aggregator) Percentile(symbol string, p float64) (float64, error) {
	a.mu.RLock()
	series := a.buckets[symbol]
	if len(series) < a.minBuckets {
		a.mu.RUnlock()
		return 0, ErrInsufficientSamples
	}
	sums := make([]float64, len(series))
	for i, b := range series {
		sums[i] = b.totalUSD
	}
	a.mu.RUnlock()

	sort.Float64s(sums)
	return percentileOf(sums, p), nil
}

// WindowNotional sums notional over buckets covering [now-window, now].
// windowMS should be a multiple of the bucket width; a 15m bar window is
// composed from its 4m buckets.
func (a *Aggregator) WindowNotional(symbol string, nowMS, windowMS int64) float64 {
	cutoff := nowMS - windowMS

	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0.0
	series := a.buckets[symbol]
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].windowStart+a.windowMS <= cutoff {
			break
		}
		total += series[i].totalUSD
	}
	return total
}

// PassesCluster reports whether the notional inside [nowMS-windowMS, nowMS]
// reaches the requested percentile of historical bucket sums. During cold
// start (below the minimum bucket count) the absolute notional fallback
// applies instead; that is deliberate policy so the pipeline stays live
// while percentile estimation has too little data.
func (a *Aggregator) PassesCluster(symbol string, nowMS, windowMS int64, pct float64) ClusterCheck {
	notional := a.WindowNotional(symbol, nowMS, windowMS)

	threshold, err := a.Percentile(symbol, pct)
	if errors.Is(err, ErrInsufficientSamples) {
		return ClusterCheck{
			Passed:    notional >= a.fallbackUSD,
			Fallback:  true,
			Notional:  notional,
			Threshold: a.fallbackUSD,
		}
	}

	return ClusterCheck{
		Passed:    notional >= threshold,
		Notional:  notional,
		Threshold: threshold,
	}
}

// ClusterScore maps the recent window's notional onto a 0-10 scale against
// the p95/p97 percentiles. Cold start returns the neutral score 7.
func (a *Aggregator) ClusterScore(symbol string, nowMS, windowMS int64) float64 {
	notional := a.WindowNotional(symbol, nowMS, windowMS)

	p95, err := a.Percentile(symbol, 95)
	if err != nil {
		return 7.0
	}
	p97, err := a.Percentile(symbol, 97)
	if err != nil {
		return 7.0
	}

	switch {
	case notional >= p97:
		return 10.0
	case notional >= p95 && p97 > p95:
		return 7.0 + (notional-p95)/(p97-p95)*3.0
	case p95 > 0:
		return notional / p95 * 7.0
	default:
		return 0.0
	}
}

// RecentBias reports which side dominated forced orders in the window.
// Returns BiasMixed unless one side holds at least 65% of the notional,
// and false when there were no events at all.
func (a *Aggregator) RecentBias(symbol string, nowMS, windowMS int64) (Bias, bool) {
	cutoff := nowMS - windowMS

	a.mu.RLock()
	defer a.mu.RUnlock()

	var longUSD, shortUSD float64
	series := a.buckets[symbol]
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].windowStart+a.windowMS <= cutoff {
			break
		}
		longUSD += series[i].longLiqUSD
		shortUSD += series[i].shortLiqUSD
	}

	total := longUSD + shortUSD
	if total == 0 {
		return BiasMixed, false
	}
	switch {
	case longUSD/total > 0.65:
		return BiasLong, true
	case shortUSD/total > 0.65:
		return BiasShort, true
	default:
		return BiasMixed, true
	}
}

// BucketCount returns the number of stored buckets for a symbol
func (a *Aggregator) BucketCount(symbol string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buckets[symbol])
}

// percentileOf computes the p-th percentile of a sorted series using
// linear interpolation between closest ranks.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
