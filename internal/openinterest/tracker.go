package openinterest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/market"
)

// ErrInsufficientHistory marks a delta request made before enough samples
// exist. Callers treat it as a neutral-fail of the dependent condition.
var ErrInsufficientHistory = errors.New("insufficient open interest history")

// Tracker computes interval-over-interval open interest deltas from the
// finer-grained sample series and keeps the series fed via periodic polls.
type Tracker struct {
	store    *market.OIStore
	candles  *market.CandleStore
	provider binance.DataProvider
	interval time.Duration
	logger   zerolog.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewTracker creates an open interest tracker
func NewTracker(cfg config.StrategyConfig, store *market.Store, provider binance.DataProvider, logger zerolog.Logger) *Tracker {
	interval := time.Duration(cfg.OISampleMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Tracker{
		store:    store.OpenInterest,
		candles:  store.Candles,
		provider: provider,
		interval: interval,
		logger:   logger.With().Str("component", "oi-tracker").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background sampling loop
func (t *Tracker) Start(ctx context.Context) {
	go t.runSampleLoop(ctx)
	t.logger.Info().Dur("interval", t.interval).Msg("open interest tracker started")
}

// Stop shuts down the sampling loop
func (t *Tracker) Stop() {
	close(t.stopChan)
	<-t.doneChan
}

func (t *Tracker) runSampleLoop(ctx context.Context) {
	defer close(t.doneChan)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.sampleAll(ctx)

	for {
		select {
		case <-ticker.C:
			t.sampleAll(ctx)
		case <-t.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sampleAll polls open interest for every symbol with candle data. One
// symbol failing never blocks the rest.
func (t *Tracker) sampleAll(ctx context.Context) {
	symbols := t.candles.Symbols()

	updated := 0
	for _, symbol := range symbols {
		oi, err := t.provider.GetOpenInterest(ctx, symbol)
		if err != nil {
			t.logger.Debug().Err(err).Str("symbol", symbol).Msg("open interest poll failed")
			continue
		}
		t.store.Add(oi)
		updated++
	}

	if updated > 0 {
		t.logger.Debug().Int("symbols", updated).Msg("open interest sampled")
	}
}

// Delta returns the percent change between the latest sample and the
// sample intervalBars back. A 15-minute pattern bar maps to 3 samples of
// 5-minute grain.
func (t *Tracker) Delta(symbol string, intervalBars int) (float64, error) {
	if intervalBars <= 0 {
		intervalBars = 3
	}

	samples := t.store.LastN(symbol, intervalBars+1)
	if len(samples) < intervalBars+1 {
		return 0, ErrInsufficientHistory
	}

	oldVal := samples[0].Value
	newVal := samples[len(samples)-1].Value
	if oldVal == 0 {
		return 0, ErrInsufficientHistory
	}

	return (newVal - oldVal) / oldVal * 100, nil
}

// CurrentUSD returns the latest open interest in USD terms using the last
// traded price.
func (t *Tracker) CurrentUSD(symbol string) (float64, error) {
	value, ok := t.store.Current(symbol)
	if !ok {
		return 0, ErrInsufficientHistory
	}
	last, ok := t.candles.Last(symbol)
	if !ok {
		return 0, ErrInsufficientHistory
	}
	return value * last.Close, nil
}
