package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
)

// Status is a position's lifecycle state. Transitions only move
// forward: OPEN -> PARTIAL -> CLOSED_TARGET, or OPEN/PARTIAL ->
// CLOSED_STOP / CLOSED_TIME. Terminal states are final.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusPartial      Status = "PARTIAL"
	StatusClosedTarget Status = "CLOSED_TARGET"
	StatusClosedStop   Status = "CLOSED_STOP"
	StatusClosedTime   Status = "CLOSED_TIME"
)

// Terminal reports whether the status is a closed state.
func (s Status) Terminal() bool {
	return s == StatusClosedTarget || s == StatusClosedStop || s == StatusClosedTime
}

var (
	ErrPositionExists = errors.New("tracker: symbol already has an open position")
	ErrClusterCapFull = errors.New("tracker: cluster position cap reached")
	ErrInCooldown     = errors.New("tracker: symbol in post-close cooldown")
)

// Position is a hypothetical trade tracked from signal acceptance to a
// terminal state. Price levels are frozen at open; only status, fill
// bookkeeping and PnL mutate, and only from OnBarClose.
type Position struct {
	ID        string
	Symbol    string
	Direction pattern.Direction
	ClusterID string

	Entry   float64
	Stop    float64
	Target1 float64
	Target2 float64
	RiskR   float64 // entry-to-stop distance

	Score float64

	Status       Status
	OpenedAtBar  int64 // open time of the bar the signal fired on
	OpenedAt     time.Time
	ClosedAt     time.Time
	BarsHeld     int
	MaxFavorR    float64 // best favorable excursion seen, in R units
	PnLPercent   float64 // realized, weighted across partial fills
	ExitPrice    float64
	PartialPrice float64
}

// EventType tags position lifecycle events for downstream consumers.
type EventType string

const (
	EventOpened  EventType = "opened"
	EventPartial EventType = "partial"
	EventClosed  EventType = "closed"
)

// Event is emitted on every lifecycle transition.
type Event struct {
	Type     EventType
	Position Position // snapshot, safe to retain
	Reason   string
}

// Stats summarizes closed-position performance.
type Stats struct {
	Open        int
	Closed      int
	Wins        int
	Losses      int
	TimeStops   int
	WinRate     float64
	TotalPnLPct float64
	AvgPnLPct   float64
	BestPnLPct  float64
	WorstPnLPct float64
}

// Tracker owns every virtual position. One open position per symbol, a
// hard cap per correlation cluster, and a post-close cooldown before a
// symbol can re-enter.
type Tracker struct {
	strategyCfg config.StrategyConfig
	clusterCfg  config.ClusterConfig
	logger      zerolog.Logger

	mu           sync.RWMutex
	open         map[string]*Position // by symbol
	closed       []Position
	clusterCount map[string]int
	lastClosedAt map[string]int64 // bar open time of the closing bar

	intervalMS int64

	handlers []func(Event)
}

// NewTracker creates an outcome tracker. intervalMS is the bar interval
// in milliseconds, used for cooldown accounting.
func NewTracker(strategyCfg config.StrategyConfig, clusterCfg config.ClusterConfig, intervalMS int64, logger zerolog.Logger) *Tracker {
	return &Tracker{
		strategyCfg:  strategyCfg,
		clusterCfg:   clusterCfg,
		logger:       logger.With().Str("component", "tracker").Logger(),
		open:         make(map[string]*Position),
		clusterCount: make(map[string]int),
		lastClosedAt: make(map[string]int64),
		intervalMS:   intervalMS,
	}
}

// OnPositionEvent registers a lifecycle event handler. Handlers run
// synchronously on the tracker's goroutine; keep them fast.
func (t *Tracker) OnPositionEvent(h func(Event)) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Open admits a new position if the symbol is free, out of cooldown and
// the cluster cap has room. The admission check and the counter bump
// happen under one lock so concurrent evaluations cannot overshoot the
// cap.
func (t *Tracker) Open(plan planner.Plan, clusterID string, score float64, bar binance.Kline) (*Position, error) {
	t.mu.Lock()

	if _, exists := t.open[plan.Symbol]; exists {
		t.mu.Unlock()
		return nil, ErrPositionExists
	}
	if t.inCooldownLocked(plan.Symbol, bar.OpenTime) {
		t.mu.Unlock()
		return nil, ErrInCooldown
	}
	if clusterID != cluster.Unclustered && t.clusterCount[clusterID] >= t.clusterCfg.MaxPositions {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has %d open", ErrClusterCapFull, clusterID, t.clusterCount[clusterID])
	}

	pos := &Position{
		ID:          uuid.NewString(),
		Symbol:      plan.Symbol,
		Direction:   plan.Direction,
		ClusterID:   clusterID,
		Entry:       plan.Entry,
		Stop:        plan.Stop,
		Target1:     plan.Target1,
		Target2:     plan.Target2,
		RiskR:       plan.RiskUnit,
		Score:       score,
		Status:      StatusOpen,
		OpenedAtBar: bar.OpenTime,
		OpenedAt:    time.Now(),
	}
	t.open[plan.Symbol] = pos
	if clusterID != cluster.Unclustered {
		t.clusterCount[clusterID]++
	}

	snapshot := *pos
	handlers := t.handlers
	t.mu.Unlock()

	t.logger.Info().
		Str("symbol", pos.Symbol).
		Str("direction", string(pos.Direction)).
		Str("cluster", clusterID).
		Float64("entry", pos.Entry).
		Float64("stop", pos.Stop).
		Msg("position opened")

	emit(handlers, Event{Type: EventOpened, Position: snapshot})
	return pos, nil
}

// OnBarClose advances the symbol's open position using the bar's
// high/low for touch detection. If both the stop and a target are
// touched inside the same bar, the stop wins.
func (t *Tracker) OnBarClose(symbol string, bar binance.Kline) {
	t.mu.Lock()
	pos, ok := t.open[symbol]
	if !ok || bar.OpenTime <= pos.OpenedAtBar {
		t.mu.Unlock()
		return
	}

	pos.BarsHeld++
	t.updateExcursionLocked(pos, bar)

	var (
		ev      *Event
		stopHit = t.touched(pos, bar, pos.Stop, true)
	)

	switch {
	case stopHit:
		ev = t.closeLocked(pos, StatusClosedStop, pos.Stop, bar, "stop touched")

	case pos.Status == StatusOpen && t.touched(pos, bar, pos.Target1, false):
		pos.Status = StatusPartial
		pos.PartialPrice = pos.Target1
		// Target2 inside the same bar still counts after the partial
		if t.touched(pos, bar, pos.Target2, false) {
			ev = t.closeLocked(pos, StatusClosedTarget, pos.Target2, bar, "target2 touched")
		} else {
			snapshot := *pos
			ev = &Event{Type: EventPartial, Position: snapshot, Reason: "target1 touched"}
		}

	case pos.Status == StatusPartial && t.touched(pos, bar, pos.Target2, false):
		ev = t.closeLocked(pos, StatusClosedTarget, pos.Target2, bar, "target2 touched")

	default:
		ev = t.maybeTimeStopLocked(pos, bar)
	}

	handlers := t.handlers
	t.mu.Unlock()

	if ev != nil {
		emit(handlers, *ev)
	}
}

// touched reports whether the bar's range reached the level in the
// relevant direction. adverse selects the stop side of the trade.
func (t *Tracker) touched(pos *Position, bar binance.Kline, level float64, adverse bool) bool {
	if (pos.Direction == pattern.DirectionShort) != adverse {
		// Profit side for shorts, stop side for longs: price moving down
		return bar.Low <= level
	}
	return bar.High >= level
}

func (t *Tracker) updateExcursionLocked(pos *Position, bar binance.Kline) {
	var favor float64
	if pos.Direction == pattern.DirectionShort {
		favor = pos.Entry - bar.Low
	} else {
		favor = bar.High - pos.Entry
	}
	if r := favor / pos.RiskR; r > pos.MaxFavorR {
		pos.MaxFavorR = r
	}
}

// maybeTimeStopLocked applies the forced-exit policy: at TimeStopBars
// held without TimeStopMinR of favorable excursion the position is
// closed at the bar's close; at TimeStopBarsMax it closes regardless.
func (t *Tracker) maybeTimeStopLocked(pos *Position, bar binance.Kline) *Event {
	cfg := t.strategyCfg
	stalled := pos.BarsHeld >= cfg.TimeStopBars && pos.MaxFavorR < cfg.TimeStopMinR
	expired := pos.BarsHeld >= cfg.TimeStopBarsMax
	if !stalled && !expired {
		return nil
	}
	reason := "time stop, no progress"
	if expired {
		reason = "time stop, max bars held"
	}
	return t.closeLocked(pos, StatusClosedTime, bar.Close, bar, reason)
}

func (t *Tracker) closeLocked(pos *Position, status Status, exitPrice float64, bar binance.Kline, reason string) *Event {
	pos.Status = status
	pos.ExitPrice = exitPrice
	pos.ClosedAt = time.Now()
	pos.PnLPercent = t.realizedPnL(pos, exitPrice)

	delete(t.open, pos.Symbol)
	if t.clusterCount[pos.ClusterID] > 0 {
		t.clusterCount[pos.ClusterID]--
	}
	t.lastClosedAt[pos.Symbol] = bar.OpenTime
	t.closed = append(t.closed, *pos)

	t.logger.Info().
		Str("symbol", pos.Symbol).
		Str("status", string(status)).
		Str("reason", reason).
		Float64("pnl_pct", pos.PnLPercent).
		Int("bars_held", pos.BarsHeld).
		Msg("position closed")

	snapshot := *pos
	return &Event{Type: EventClosed, Position: snapshot, Reason: reason}
}

// realizedPnL weights the exit across the partial fill: half the size
// closes at target1 when the position reached PARTIAL first.
func (t *Tracker) realizedPnL(pos *Position, exitPrice float64) float64 {
	pnl := func(exit float64) float64 {
		if pos.Direction == pattern.DirectionShort {
			return (pos.Entry - exit) / pos.Entry * 100
		}
		return (exit - pos.Entry) / pos.Entry * 100
	}
	if pos.PartialPrice != 0 {
		return 0.5*pnl(pos.PartialPrice) + 0.5*pnl(exitPrice)
	}
	return pnl(exitPrice)
}

func (t *Tracker) inCooldownLocked(symbol string, barOpenTime int64) bool {
	closedAt, ok := t.lastClosedAt[symbol]
	if !ok {
		return false
	}
	barsSince := (barOpenTime - closedAt) / t.intervalMS
	return barsSince < int64(t.strategyCfg.CooldownBars)
}

// InCooldown reports whether the symbol closed a position too recently
// to re-enter on the given bar.
func (t *Tracker) InCooldown(symbol string, barOpenTime int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inCooldownLocked(symbol, barOpenTime)
}

// HasOpen reports whether the symbol has an OPEN or PARTIAL position.
func (t *Tracker) HasOpen(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[symbol]
	return ok
}

// OpenInCluster returns the live position count for the cluster.
// Unclustered symbols share no exposure, so the sentinel id always
// reports zero.
func (t *Tracker) OpenInCluster(clusterID string) int {
	if clusterID == cluster.Unclustered {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clusterCount[clusterID]
}

// OpenPosition returns a snapshot of the symbol's live position.
func (t *Tracker) OpenPosition(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pos, ok := t.open[symbol]; ok {
		return *pos, true
	}
	return Position{}, false
}

// OpenPositions returns snapshots of all live positions.
func (t *Tracker) OpenPositions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions returns snapshots of all terminal positions.
func (t *Tracker) ClosedPositions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, len(t.closed))
	copy(out, t.closed)
	return out
}

// Restore re-seeds the tracker from persisted positions, rebuilding the
// cluster counters. Used at startup only, before any bar processing.
func (t *Tracker) Restore(open []Position, closed []Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range open {
		pos := open[i]
		t.open[pos.Symbol] = &pos
		if pos.ClusterID != cluster.Unclustered {
			t.clusterCount[pos.ClusterID]++
		}
	}
	t.closed = append(t.closed, closed...)
}

// Stats aggregates closed-position performance.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{Open: len(t.open), Closed: len(t.closed)}
	for i, pos := range t.closed {
		s.TotalPnLPct += pos.PnLPercent
		if pos.PnLPercent > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if pos.Status == StatusClosedTime {
			s.TimeStops++
		}
		if i == 0 || pos.PnLPercent > s.BestPnLPct {
			s.BestPnLPct = pos.PnLPercent
		}
		if i == 0 || pos.PnLPercent < s.WorstPnLPct {
			s.WorstPnLPct = pos.PnLPercent
		}
	}
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed) * 100
		s.AvgPnLPct = s.TotalPnLPct / float64(s.Closed)
	}
	return s
}

func emit(handlers []func(Event), ev Event) {
	for _, h := range handlers {
		h(ev)
	}
}
