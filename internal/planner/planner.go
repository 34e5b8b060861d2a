package planner

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/pattern"
)

// ErrNoStopDistance is returned when the computed stop collapses onto
// the entry, which makes risk sizing meaningless.
var ErrNoStopDistance = errors.New("planner: stop distance is zero")

// Plan holds the price levels for a candidate, computed once at signal
// acceptance and frozen for the position's lifetime.
type Plan struct {
	Symbol    string
	Direction pattern.Direction

	Entry   float64
	Stop    float64
	Target1 float64
	Target2 float64

	RiskUnit     float64 // entry-to-stop distance, the R in nR targets
	RewardToRisk float64 // entry-to-target2 distance over RiskUnit

	TargetZone      market.Zone // opposing zone bounding target2, zero value when none
	HasTargetZone   bool
	RetracementUsed float64 // fraction of the sweep excursion retraced to reach entry
}

// Planner turns accepted pattern candidates into entry/stop/target
// plans using the sweep geometry, ATR and the nearest opposing zone.
type Planner struct {
	cfg    config.StrategyConfig
	store  *market.Store
	logger zerolog.Logger
}

// NewPlanner creates a position planner
func NewPlanner(cfg config.StrategyConfig, store *market.Store, logger zerolog.Logger) *Planner {
	return &Planner{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// BuildPlan computes the frozen price levels for a candidate. The entry
// retracement fraction is picked from the configured band to maximize
// reward-to-risk against the nearest opposing zone; without a zone the
// band midpoint is used.
func (p *Planner) BuildPlan(cand *pattern.Candidate) (Plan, error) {
	excursion := math.Abs(cand.SweepExtreme - cand.SweptLevel)

	zone, hasZone := p.opposingZone(cand)

	fraction := p.bestRetracement(cand, excursion, zone, hasZone)
	entry := retracementLevel(cand, excursion, fraction)

	stop := p.stopLevel(cand, entry)
	risk := math.Abs(entry - stop)
	if risk <= 0 {
		return Plan{}, ErrNoStopDistance
	}

	t1 := p.target1(cand.Direction, entry, risk)
	t2 := p.target2(cand.Direction, entry, risk, zone, hasZone)

	plan := Plan{
		Symbol:          cand.Symbol,
		Direction:       cand.Direction,
		Entry:           entry,
		Stop:            stop,
		Target1:         t1,
		Target2:         t2,
		RiskUnit:        risk,
		RewardToRisk:    math.Abs(t2-entry) / risk,
		TargetZone:      zone,
		HasTargetZone:   hasZone,
		RetracementUsed: fraction,
	}

	p.logger.Debug().
		Str("symbol", cand.Symbol).
		Str("direction", string(cand.Direction)).
		Float64("entry", entry).
		Float64("stop", stop).
		Float64("target1", t1).
		Float64("target2", t2).
		Float64("rr", plan.RewardToRisk).
		Msg("plan built")

	return plan, nil
}

// opposingZone finds the zone on the profit side of the trade: support
// below for shorts, resistance above for longs.
func (p *Planner) opposingZone(cand *pattern.Candidate) (market.Zone, bool) {
	if cand.Direction == pattern.DirectionShort {
		return p.store.Zones.NearestZone(cand.Symbol, cand.Bar.Close, market.ZoneSupport)
	}
	return p.store.Zones.NearestZone(cand.Symbol, cand.Bar.Close, market.ZoneResistance)
}

// bestRetracement evaluates the band edges and midpoint and keeps the
// fraction with the highest reward-to-risk.
func (p *Planner) bestRetracement(cand *pattern.Candidate, excursion float64, zone market.Zone, hasZone bool) float64 {
	mid := (p.cfg.EntryRetracementMin + p.cfg.EntryRetracementMax) / 2
	if !hasZone {
		return mid
	}

	best := mid
	bestRR := -1.0
	for _, f := range []float64{p.cfg.EntryRetracementMin, mid, p.cfg.EntryRetracementMax} {
		entry := retracementLevel(cand, excursion, f)
		stop := p.stopLevel(cand, entry)
		risk := math.Abs(entry - stop)
		if risk <= 0 {
			continue
		}
		rr := math.Abs(zone.Mid()-entry) / risk
		if rr > bestRR {
			bestRR = rr
			best = f
		}
	}
	return best
}

// retracementLevel walks the given fraction of the excursion back from
// the sweep extreme toward the pre-sweep range.
func retracementLevel(cand *pattern.Candidate, excursion, fraction float64) float64 {
	if cand.Direction == pattern.DirectionShort {
		return cand.SweepExtreme - excursion*fraction
	}
	return cand.SweepExtreme + excursion*fraction
}

// stopLevel places the stop beyond the sweep extreme by an ATR offset,
// clamped so the stop distance never exceeds SLMaxPercent of entry.
func (p *Planner) stopLevel(cand *pattern.Candidate, entry float64) float64 {
	offset := cand.ATR * p.cfg.SLATRMax
	minOffset := cand.ATR * p.cfg.SLATRMin
	maxDist := entry * p.cfg.SLMaxPercent / 100

	var stop float64
	if cand.Direction == pattern.DirectionShort {
		stop = cand.SweepExtreme + offset
		if stop-entry > maxDist {
			stop = cand.SweepExtreme + minOffset
		}
		if stop-entry > maxDist {
			stop = entry + maxDist
		}
	} else {
		stop = cand.SweepExtreme - offset
		if entry-stop > maxDist {
			stop = cand.SweepExtreme - minOffset
		}
		if entry-stop > maxDist {
			stop = entry - maxDist
		}
	}
	return stop
}

// target1 is the smaller of TP1R risk units and TP1Percent of entry.
func (p *Planner) target1(dir pattern.Direction, entry, risk float64) float64 {
	dist := p.cfg.TP1R * risk
	if pct := entry * p.cfg.TP1Percent / 100; pct < dist {
		dist = pct
	}
	if dir == pattern.DirectionShort {
		return entry - dist
	}
	return entry + dist
}

// target2 distance is the larger of the percent floor and TP2RMin risk
// units, capped by both the percent ceiling and TP2RMax, then pulled in
// to the near edge of the opposing zone when the zone sits closer.
func (p *Planner) target2(dir pattern.Direction, entry, risk float64, zone market.Zone, hasZone bool) float64 {
	floor := entry * p.cfg.TP2MinPercent / 100
	if rFloor := p.cfg.TP2RMin * risk; rFloor > floor {
		floor = rFloor
	}

	ceil := entry * p.cfg.TP2MaxPercent / 100
	if rCeil := p.cfg.TP2RMax * risk; rCeil < ceil {
		ceil = rCeil
	}

	dist := floor
	if dist > ceil {
		dist = ceil
	}

	if hasZone {
		var zoneDist float64
		if dir == pattern.DirectionShort {
			zoneDist = entry - zone.High
		} else {
			zoneDist = zone.Low - entry
		}
		if zoneDist > 0 && zoneDist < dist {
			dist = zoneDist
		}
	}

	if dir == pattern.DirectionShort {
		return entry - dist
	}
	return entry + dist
}
