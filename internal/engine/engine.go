package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/events"
	"liqsweep-bot/internal/liquidation"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/metrics"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
	"liqsweep-bot/internal/scoring"
	"liqsweep-bot/internal/tracker"
	"liqsweep-bot/internal/universe"
	"liqsweep-bot/internal/zones"
)

// SignalSink receives accepted signals for delivery or storage. The
// engine calls it off the hot path.
type SignalSink func(ctx context.Context, sig scoring.Signal)

// tick is one bar-close work item.
type tick struct {
	symbol     string
	bar        binance.Kline
	receivedAt time.Time
}

// Engine drives the per-bar pipeline: on each closed bar, after a
// settle delay for upstream aggregates to catch up, it advances open
// positions, refreshes zones and runs detection, planning and scoring.
// Bars for different symbols evaluate in parallel on a worker pool;
// a bar that misses its settle window is skipped, never retried.
type Engine struct {
	cfg    config.EngineConfig
	store  *market.Store
	liq    *liquidation.Aggregator
	zones  *zones.Detector
	detect *pattern.Detector
	plan   *planner.Planner
	score  *scoring.Scorer
	track  *tracker.Tracker
	pool   *universe.Universe
	bus    *events.Bus
	logger zerolog.Logger

	sinks []SignalSink

	ticks    chan tick
	stopChan chan struct{}
	wg       sync.WaitGroup

	settleDelay  time.Duration
	settleWindow time.Duration
}

// New creates the bar-close engine
func New(
	cfg config.EngineConfig,
	store *market.Store,
	liq *liquidation.Aggregator,
	zoneDetector *zones.Detector,
	patternDetector *pattern.Detector,
	positionPlanner *planner.Planner,
	scorer *scoring.Scorer,
	outcomes *tracker.Tracker,
	pool *universe.Universe,
	bus *events.Bus,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		store:        store,
		liq:          liq,
		zones:        zoneDetector,
		detect:       patternDetector,
		plan:         positionPlanner,
		score:        scorer,
		track:        outcomes,
		pool:         pool,
		bus:          bus,
		logger:       logger.With().Str("component", "engine").Logger(),
		ticks:        make(chan tick, 256),
		stopChan:     make(chan struct{}),
		settleDelay:  time.Duration(cfg.SettleDelaySeconds) * time.Second,
		settleWindow: time.Duration(cfg.SettleWindowSeconds) * time.Second,
	}
}

// AddSignalSink registers a consumer of accepted signals. Register
// before Start.
func (e *Engine) AddSignalSink(sink SignalSink) {
	e.sinks = append(e.sinks, sink)
}

// Start launches the worker pool. Returns after workers are up.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.bus.Publish(events.Event{Type: events.EventEngineStarted})
	e.logger.Info().Int("workers", e.cfg.WorkerCount).Msg("engine started")
}

// Stop drains the workers and waits for in-flight bars to finish.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.bus.Publish(events.Event{Type: events.EventEngineStopped})
	e.logger.Info().Msg("engine stopped")
}

// OnBarClose enqueues a closed bar for evaluation. Called from the data
// provider's stream goroutine; must not block, so a full queue drops
// the tick (picked up implicitly at the next interval).
func (e *Engine) OnBarClose(symbol string, bar binance.Kline) {
	select {
	case e.ticks <- tick{symbol: symbol, bar: bar, receivedAt: time.Now()}:
	default:
		metrics.TicksSkipped.Inc()
		e.logger.Warn().Str("symbol", symbol).Msg("tick queue full, bar dropped")
	}
}

// OnLiquidation routes a forced order into the rolling stores.
func (e *Engine) OnLiquidation(ev binance.LiquidationEvent) {
	e.store.Liquidations.Add(ev)
	e.liq.AddEvent(ev)
	metrics.LiquidationEvents.WithLabelValues(string(ev.Side)).Inc()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case t := <-e.ticks:
			e.handleTick(ctx, t)
		}
	}
}

// handleTick waits out the settle delay, then evaluates the bar unless
// the settle window already passed.
func (e *Engine) handleTick(ctx context.Context, t tick) {
	closeAt := time.UnixMilli(t.bar.CloseTime)
	settleAt := closeAt.Add(e.settleDelay)
	deadline := settleAt.Add(e.settleWindow)

	now := time.Now()
	if now.After(deadline) {
		metrics.TicksSkipped.Inc()
		e.logger.Warn().
			Str("symbol", t.symbol).
			Dur("late_by", now.Sub(deadline)).
			Msg("settle window missed, skipping bar")
		return
	}

	if wait := time.Until(settleAt); wait > 0 {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-time.After(wait):
		}
	}

	e.processBar(ctx, t.symbol, t.bar)
}

// processBar runs one full detection/scoring/tracking cycle. Failures
// are isolated per symbol: an error here never halts other symbols.
func (e *Engine) processBar(ctx context.Context, symbol string, bar binance.Kline) {
	start := time.Now()
	defer func() {
		metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	if err := e.store.AddCandle(bar); err != nil {
		if errors.Is(err, market.ErrInvalidBar) {
			// Bad bar is discarded, symbol state untouched
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("discarding invalid bar")
			return
		}
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to store bar")
		e.bus.PublishError("engine", "failed to store bar for "+symbol, err)
		return
	}
	metrics.BarsProcessed.WithLabelValues(symbol).Inc()

	// Open positions advance first so the bar that fires a new signal
	// never also closes it.
	e.track.OnBarClose(symbol, bar)
	metrics.PositionsOpen.Set(float64(len(e.track.OpenPositions())))

	e.zones.UpdateZones(symbol)

	if !e.pool.Eligible(symbol) {
		return
	}

	result := e.detect.Evaluate(symbol, bar)
	if !result.Accepted() {
		if result.RejectedBy != "" {
			metrics.PatternRejections.WithLabelValues(result.RejectedBy).Inc()
		}
		return
	}

	plan, err := e.plan.BuildPlan(result.Candidate)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("plan construction failed")
		e.bus.PublishError("planner", "plan construction failed for "+symbol, err)
		return
	}

	sig := e.score.Score(result.Candidate, plan)
	e.bus.PublishSignal(sig.Symbol, string(sig.Direction), sig.Score, sig.Accepted, sig.RejectReason)

	verdict := "accepted"
	if !sig.Accepted {
		verdict = "rejected"
	}
	metrics.SignalsEmitted.WithLabelValues(verdict).Inc()

	for _, sink := range e.sinks {
		sink(ctx, sig)
	}

	if !sig.Accepted {
		return
	}

	pos, err := e.track.Open(plan, sig.ClusterID, sig.Score, bar)
	if err != nil {
		// Lost the race against a concurrent open in the same cluster
		e.logger.Info().Err(err).Str("symbol", symbol).Msg("signal accepted but position not opened")
		return
	}

	metrics.PositionsOpen.Set(float64(len(e.track.OpenPositions())))
	e.bus.PublishPositionOpened(pos.Symbol, string(pos.Direction), pos.ClusterID, pos.Entry, pos.Stop)
}
