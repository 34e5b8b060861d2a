package pattern

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/indicator"
	"liqsweep-bot/internal/liquidation"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/openinterest"
)

// Direction is the trade direction implied by a sweep: a sweep above
// resistance sets up a SHORT fade, a sweep below support a LONG fade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Condition names used in rejection results and logs.
const (
	CondSweep      = "sweep"
	CondWick       = "rejection_wick"
	CondLiqCluster = "liquidation_cluster"
	CondOIDrop     = "oi_drop"
	CondVolume     = "volume"
	CondReclaim    = "reclaim"
)

// bodyEpsilon floors the candle body when computing wick ratios so doji
// bars do not divide by zero.
const bodyEpsilon = 1e-9

// Candidate is a raw pattern match with the per-condition margins the
// scorer turns into a strength component.
type Candidate struct {
	Symbol    string
	Direction Direction
	Bar       binance.Kline
	ATR       float64

	SweptLevel   float64 // prior extreme that was taken out
	SweepExtreme float64 // bar's own extreme
	SweepATR     float64 // excursion beyond the swept level, in ATR units
	SweepMargin  float64 // SweepATR beyond the minimum, normalized

	WickBodyRatio float64
	WickMargin    float64

	LiqCheck liquidation.ClusterCheck
	LiqScore float64
	LiqBias  liquidation.Bias

	OIDeltaPercent float64

	Volume          float64
	VolumeThreshold float64
	VolumeMargin    float64

	ReclaimMargin float64 // how far the close recovered past the swept level, in ATR units

	DetectedAt time.Time
}

// Result carries either an accepted candidate or the first condition
// that failed. A failed condition is an expected outcome, not an error.
type Result struct {
	Candidate  *Candidate
	RejectedBy string
	Detail     string
}

// Accepted reports whether all six conditions passed.
func (r Result) Accepted() bool {
	return r.Candidate != nil && r.RejectedBy == ""
}

// Detector evaluates the six-condition sweep fakeout pattern on closed
// bars. It is stateless: every evaluation reads fresh snapshots from
// the shared store and aggregators.
type Detector struct {
	cfg    config.StrategyConfig
	store  *market.Store
	liq    *liquidation.Aggregator
	oi     *openinterest.Tracker
	logger zerolog.Logger
}

// NewDetector creates a pattern detector
func NewDetector(cfg config.StrategyConfig, store *market.Store, liq *liquidation.Aggregator, oi *openinterest.Tracker, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		store:  store,
		liq:    liq,
		oi:     oi,
		logger: logger.With().Str("component", "pattern-detector").Logger(),
	}
}

// Evaluate runs the ordered conditions against the just-closed bar.
// Conditions are checked cheapest-first and short-circuit on the first
// failure.
func (d *Detector) Evaluate(symbol string, bar binance.Kline) Result {
	lookback := d.cfg.SweepLookbackBars
	history := d.priorBars(symbol, bar, lookback)
	if len(history) < lookback {
		return d.reject(symbol, CondSweep, fmt.Sprintf("need %d prior bars, have %d", lookback, len(history)))
	}

	atr := indicator.ATR(history, lookback)
	if atr <= 0 {
		return d.reject(symbol, CondSweep, "flat history, ATR is zero")
	}

	// Condition 1: sweep beyond the prior extreme by at least SweepMinATR x ATR.
	priorHigh, priorLow := indicator.Donchian(history, lookback)

	var (
		direction    Direction
		sweptLevel   float64
		sweepExtreme float64
		excursion    float64
	)
	upExcursion := bar.High - priorHigh
	downExcursion := priorLow - bar.Low
	switch {
	case upExcursion > 0 && upExcursion >= downExcursion:
		direction = DirectionShort
		sweptLevel = priorHigh
		sweepExtreme = bar.High
		excursion = upExcursion
	case downExcursion > 0:
		direction = DirectionLong
		sweptLevel = priorLow
		sweepExtreme = bar.Low
		excursion = downExcursion
	default:
		return d.reject(symbol, CondSweep, "no excursion beyond prior extreme")
	}

	sweepATR := excursion / atr
	if sweepATR < d.cfg.SweepMinATR {
		return d.reject(symbol, CondSweep,
			fmt.Sprintf("excursion %.3f ATR below minimum %.3f", sweepATR, d.cfg.SweepMinATR))
	}

	// Condition 2: rejection wick on the sweep side.
	body := bar.Body()
	if body < bodyEpsilon {
		body = bodyEpsilon
	}
	var wick float64
	if direction == DirectionShort {
		wick = bar.UpperWick()
	} else {
		wick = bar.LowerWick()
	}
	wickRatio := wick / body
	if wickRatio < d.cfg.WickBodyRatio {
		return d.reject(symbol, CondWick,
			fmt.Sprintf("wick/body %.2f below minimum %.2f", wickRatio, d.cfg.WickBodyRatio))
	}

	// Condition 3: liquidation cluster in the bar's window.
	windowMS := bar.CloseTime - bar.OpenTime
	check := d.liq.PassesCluster(symbol, bar.CloseTime, windowMS, float64(d.cfg.LiqPercentile))
	if !check.Passed {
		return d.reject(symbol, CondLiqCluster,
			fmt.Sprintf("window notional %.0f below threshold %.0f", check.Notional, check.Threshold))
	}
	liqScore := d.liq.ClusterScore(symbol, bar.CloseTime, windowMS)
	bias, _ := d.liq.RecentBias(symbol, bar.CloseTime, windowMS)

	// Condition 4: open interest contracting, but not collapsing.
	oiDelta, err := d.oi.Delta(symbol, d.cfg.OIDeltaIntervalBars)
	if err != nil {
		// Insufficient history neutral-fails the condition rather than erroring
		return d.reject(symbol, CondOIDrop, "open interest history unavailable")
	}
	if oiDelta > d.cfg.OIDeltaMinPercent || oiDelta < d.cfg.OIDeltaMaxPercent {
		return d.reject(symbol, CondOIDrop,
			fmt.Sprintf("delta %.2f%% outside [%.2f%%, %.2f%%]", oiDelta, d.cfg.OIDeltaMaxPercent, d.cfg.OIDeltaMinPercent))
	}

	// Condition 5: volume at or above the rolling percentile.
	volWindow := history
	if n := d.cfg.VolumeLookbackBars; len(volWindow) > n {
		volWindow = volWindow[len(volWindow)-n:]
	}
	vols := make([]float64, 0, len(volWindow))
	for _, k := range volWindow {
		vols = append(vols, k.Volume)
	}
	volThreshold := indicator.Percentile(vols, float64(d.cfg.VolumePercentile))
	if bar.Volume < volThreshold {
		return d.reject(symbol, CondVolume,
			fmt.Sprintf("volume %.0f below p%d threshold %.0f", bar.Volume, d.cfg.VolumePercentile, volThreshold))
	}

	// Condition 6: close reclaims the swept level. Confirms fakeout.
	var reclaim float64
	if direction == DirectionShort {
		reclaim = sweptLevel - bar.Close
	} else {
		reclaim = bar.Close - sweptLevel
	}
	if reclaim <= 0 {
		return d.reject(symbol, CondReclaim,
			fmt.Sprintf("close %.6f did not recover past swept level %.6f", bar.Close, sweptLevel))
	}

	cand := &Candidate{
		Symbol:          symbol,
		Direction:       direction,
		Bar:             bar,
		ATR:             atr,
		SweptLevel:      sweptLevel,
		SweepExtreme:    sweepExtreme,
		SweepATR:        sweepATR,
		SweepMargin:     normalizeMargin(sweepATR, d.cfg.SweepMinATR, d.cfg.SweepMinATRStrict),
		WickBodyRatio:   wickRatio,
		WickMargin:      normalizeMargin(wickRatio, d.cfg.WickBodyRatio, d.cfg.WickBodyRatio*4),
		LiqCheck:        check,
		LiqScore:        liqScore,
		LiqBias:         bias,
		OIDeltaPercent:  oiDelta,
		Volume:          bar.Volume,
		VolumeThreshold: volThreshold,
		VolumeMargin:    volumeMargin(bar.Volume, volThreshold),
		ReclaimMargin:   reclaim / atr,
		DetectedAt:      time.Now(),
	}

	d.logger.Info().
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("sweep_atr", sweepATR).
		Float64("wick_body", wickRatio).
		Float64("oi_delta_pct", oiDelta).
		Float64("liq_score", liqScore).
		Msg("pattern candidate accepted")

	return Result{Candidate: cand}
}

// priorBars returns up to n closed bars strictly before the bar under
// evaluation, so the bar never sweeps its own extreme.
func (d *Detector) priorBars(symbol string, bar binance.Kline, n int) []binance.Kline {
	candles := d.store.Candles.LastN(symbol, n+1)
	for len(candles) > 0 && candles[len(candles)-1].OpenTime >= bar.OpenTime {
		candles = candles[:len(candles)-1]
	}
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return candles
}

func (d *Detector) reject(symbol, condition, detail string) Result {
	d.logger.Debug().
		Str("symbol", symbol).
		Str("condition", condition).
		Str("detail", detail).
		Msg("pattern rejected")
	return Result{RejectedBy: condition, Detail: detail}
}

// normalizeMargin maps value linearly from [min, strong] to [0, 1],
// clamped. Values at the threshold score 0, at or past the strong
// reference score 1.
func normalizeMargin(value, min, strong float64) float64 {
	if strong <= min {
		return 1
	}
	m := (value - min) / (strong - min)
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// volumeMargin scores how far volume sits past the percentile
// threshold, saturating at 2x.
func volumeMargin(volume, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	m := volume/threshold - 1
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}
