package zones

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/indicator"
	"liqsweep-bot/internal/market"
)

// Detector derives support/resistance zones from channel extremes, swing
// points and wick spikes, scores them 0-10 and publishes the deduplicated
// set into the zone store.
type Detector struct {
	cfg    config.StrategyConfig
	store  *market.Store
	logger zerolog.Logger
}

// NewDetector creates a zone detector
func NewDetector(cfg config.StrategyConfig, store *market.Store, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "zone-detector").Logger(),
	}
}

// UpdateZones recomputes the symbol's zone set from its candle history and
// replaces the stored set wholesale.
func (d *Detector) UpdateZones(symbol string) []market.Zone {
	candles := d.store.Candles.LastN(symbol, 200)
	if len(candles) < 50 {
		return nil
	}

	var candidates []market.Zone
	candidates = append(candidates, d.donchianZones(symbol, candles)...)
	candidates = append(candidates, d.swingZones(symbol, candles)...)
	candidates = append(candidates, d.wickZones(symbol, candles)...)

	merged := d.mergeOverlapping(candidates)
	scored := d.scoreZones(merged, candles)

	if max := d.cfg.ZoneMaxCount; max > 0 && len(scored) > max {
		// Keep the strongest zones when over budget
		sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
		scored = scored[:max]
	}

	d.store.Zones.Replace(symbol, scored)
	return scored
}

// donchianZones derives one resistance and one support band from the
// channel extremes of the configured period.
func (d *Detector) donchianZones(symbol string, candles []binance.Kline) []market.Zone {
	period := d.cfg.DonchianPeriod
	if len(candles) < period {
		return nil
	}

	high, low := indicator.Donchian(candles, period)
	atr := indicator.ATR(candles, d.cfg.ATRPeriod)
	width := atr * d.cfg.ZoneWidthATRMultiplier
	if width <= 0 {
		return nil
	}
	createdAt := candles[len(candles)-1].CloseTime

	return []market.Zone{
		{
			Symbol:    symbol,
			Kind:      market.ZoneResistance,
			Low:       high - width/2,
			High:      high + width/2,
			Score:     5.0,
			Touches:   1,
			Source:    "donchian",
			CreatedAt: createdAt,
		},
		{
			Symbol:    symbol,
			Kind:      market.ZoneSupport,
			Low:       low - width/2,
			High:      low + width/2,
			Score:     5.0,
			Touches:   1,
			Source:    "donchian",
			CreatedAt: createdAt,
		},
	}
}

// swingZones finds local extremes using a symmetric lookback/lookahead
// window: a swing high is strictly above every bar within the window.
func (d *Detector) swingZones(symbol string, candles []binance.Kline) []market.Zone {
	lookback := d.cfg.SwingLookback
	if lookback <= 0 {
		lookback = 10
	}
	if len(candles) < lookback*2+1 {
		return nil
	}

	var zones []market.Zone
	for i := lookback; i < len(candles)-lookback; i++ {
		isSwingHigh := true
		isSwingLow := true

		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isSwingHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isSwingLow = false
			}
			if !isSwingHigh && !isSwingLow {
				break
			}
		}

		if !isSwingHigh && !isSwingLow {
			continue
		}

		window := candles
		if i+1 < len(candles) {
			window = candles[:i+1]
		}
		atr := indicator.ATR(window, d.cfg.ATRPeriod)
		width := atr * d.cfg.ZoneWidthATRMultiplier
		if width <= 0 {
			continue
		}

		if isSwingHigh {
			zones = append(zones, market.Zone{
				Symbol:    symbol,
				Kind:      market.ZoneResistance,
				Low:       candles[i].High - width/2,
				High:      candles[i].High + width/2,
				Score:     6.0,
				Touches:   1,
				Source:    "swing_high",
				CreatedAt: candles[i].CloseTime,
			})
		}
		if isSwingLow {
			zones = append(zones, market.Zone{
				Symbol:    symbol,
				Kind:      market.ZoneSupport,
				Low:       candles[i].Low - width/2,
				High:      candles[i].Low + width/2,
				Score:     6.0,
				Touches:   1,
				Source:    "swing_low",
				CreatedAt: candles[i].CloseTime,
			})
		}
	}

	// Newest swings matter most; cap the tail
	if len(zones) > 20 {
		zones = zones[len(zones)-20:]
	}
	return zones
}

// wickZones marks bars whose rejection wick dwarfs the body on elevated
// volume. Those extremes tend to act as magnets on revisit.
func (d *Detector) wickZones(symbol string, candles []binance.Kline) []market.Zone {
	if len(candles) < 20 {
		return nil
	}

	var zones []market.Zone
	for i := 10; i < len(candles); i++ {
		c := candles[i]
		body := c.Body()

		volStart := i - 20
		if volStart < 0 {
			volStart = 0
		}
		vols := make([]float64, 0, i-volStart)
		for _, k := range candles[volStart:i] {
			vols = append(vols, k.Volume)
		}
		avgVolume := indicator.Mean(vols)
		if c.Volume < avgVolume*1.5 {
			continue
		}

		atr := indicator.ATR(candles[:i+1], d.cfg.ATRPeriod)
		width := atr * d.cfg.ZoneWidthATRMultiplier
		if width <= 0 {
			continue
		}

		if c.UpperWick() > body*2 {
			zones = append(zones, market.Zone{
				Symbol:    symbol,
				Kind:      market.ZoneResistance,
				Low:       c.High - width/2,
				High:      c.High + width/2,
				Score:     7.0,
				Touches:   1,
				Source:    "wick_rejection",
				CreatedAt: c.CloseTime,
			})
		}
		if c.LowerWick() > body*2 {
			zones = append(zones, market.Zone{
				Symbol:    symbol,
				Kind:      market.ZoneSupport,
				Low:       c.Low - width/2,
				High:      c.Low + width/2,
				Score:     7.0,
				Touches:   1,
				Source:    "wick_rejection",
				CreatedAt: c.CloseTime,
			})
		}
	}

	if len(zones) > 10 {
		zones = zones[len(zones)-10:]
	}
	return zones
}

// mergeOverlapping collapses same-kind zones whose bands overlap, keeping
// the highest score plus a touch bonus for the merge. Kinds are swept
// separately so an opposite-kind band sitting between two overlapping
// zones cannot break the chain.
func (d *Detector) mergeOverlapping(zones []market.Zone) []market.Zone {
	if len(zones) == 0 {
		return nil
	}

	var supports, resistances []market.Zone
	for _, z := range zones {
		if z.Kind == market.ZoneSupport {
			supports = append(supports, z)
		} else {
			resistances = append(resistances, z)
		}
	}

	merged := append(mergeSameKind(supports), mergeSameKind(resistances)...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Mid() < merged[j].Mid() })
	return merged
}

// mergeSameKind sweeps one kind's zones in mid order, folding each
// overlap into the current band.
func mergeSameKind(zones []market.Zone) []market.Zone {
	if len(zones) == 0 {
		return nil
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Mid() < zones[j].Mid() })

	merged := make([]market.Zone, 0, len(zones))
	current := zones[0]

	for _, next := range zones[1:] {
		if next.Low <= current.High {
			// Overlap: widen the band, keep the stronger score
			if next.High > current.High {
				current.High = next.High
			}
			if next.Low < current.Low {
				current.Low = next.Low
			}
			if next.Score > current.Score {
				current.Score = next.Score
			}
			current.Score++
			current.Touches += next.Touches
			if next.CreatedAt > current.CreatedAt {
				current.CreatedAt = next.CreatedAt
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	return merged
}

// scoreZones applies the touch bonus over recent bars and the age decay,
// clamping every score into [0, 10].
func (d *Detector) scoreZones(zones []market.Zone, candles []binance.Kline) []market.Zone {
	recent := candles
	if len(recent) > 50 {
		recent = recent[len(recent)-50:]
	}

	decayCutoff := time.Now().Add(-time.Duration(d.cfg.ZoneDecayDays) * 24 * time.Hour).UnixMilli()

	for i := range zones {
		z := &zones[i]

		touches := 0
		for _, c := range recent {
			if z.Contains(c.High) {
				touches++
			}
			if z.Contains(c.Low) {
				touches++
			}
		}
		if touches > z.Touches {
			z.Touches = touches
		}

		bonus := float64(touches) * 0.5
		if bonus > 3.0 {
			bonus = 3.0
		}
		z.Score += bonus

		if z.CreatedAt < decayCutoff {
			z.Score -= d.cfg.ZoneDecayScore
		}

		if z.Score > 10 {
			z.Score = 10
		}
		if z.Score < 0 {
			z.Score = 0
		}
	}

	return zones
}
