package universe

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/liquidation"
)

// Universe maintains the set of instruments eligible for evaluation.
// Symbols must sit inside the 24h volume and open interest bands; the
// eligible set is split into a hot pool (recent liquidation activity,
// evaluated every bar) and a cold pool (polled at lower priority).
type Universe struct {
	cfg      config.UniverseConfig
	provider binance.DataProvider
	liq      *liquidation.Aggregator
	logger   zerolog.Logger

	mu        sync.RWMutex
	eligible  map[string]bool
	hot       []string
	cold      []string
	onRefresh func(hot, cold, filtered int)

	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a universe filter
func New(cfg config.UniverseConfig, provider binance.DataProvider, liq *liquidation.Aggregator, logger zerolog.Logger) *Universe {
	return &Universe{
		cfg:      cfg,
		provider: provider,
		liq:      liq,
		logger:   logger.With().Str("component", "universe").Logger(),
		eligible: make(map[string]bool),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs an immediate refresh, then refreshes on a timer.
func (u *Universe) Start(ctx context.Context) error {
	if err := u.Refresh(ctx); err != nil {
		return err
	}
	go u.runRefreshLoop(ctx)
	return nil
}

// Stop terminates the refresh loop.
func (u *Universe) Stop() {
	close(u.stopChan)
	<-u.doneChan
}

func (u *Universe) runRefreshLoop(ctx context.Context) {
	defer close(u.doneChan)

	ticker := time.NewTicker(time.Duration(u.cfg.UpdateMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stopChan:
			return
		case <-ticker.C:
			if err := u.Refresh(ctx); err != nil {
				u.logger.Error().Err(err).Msg("universe refresh failed")
			}
		}
	}
}

// Refresh rebuilds the eligible set and pools from fresh exchange data.
func (u *Universe) Refresh(ctx context.Context) error {
	start := time.Now()

	symbols, err := u.provider.GetPerpSymbols(ctx)
	if err != nil {
		return err
	}
	tickers, err := u.provider.Get24hTickers(ctx)
	if err != nil {
		return err
	}

	tickerBySymbol := make(map[string]binance.Ticker24hr, len(tickers))
	for _, t := range tickers {
		tickerBySymbol[t.Symbol] = t
	}

	type ranked struct {
		symbol   string
		activity float64
	}
	var passed []ranked
	filtered := 0

	nowMS := time.Now().UnixMilli()
	hourMS := int64(time.Hour / time.Millisecond)

	for _, sym := range symbols {
		t, ok := tickerBySymbol[sym]
		if !ok {
			continue
		}
		if t.QuoteVolume < u.cfg.Min24hVolumeUSD || t.QuoteVolume > u.cfg.Max24hVolumeUSD {
			filtered++
			continue
		}

		oi, err := u.provider.GetOpenInterest(ctx, sym)
		if err == nil {
			oiUSD := oi.Value * t.LastPrice
			if oiUSD < u.cfg.MinOIUSD || oiUSD > u.cfg.MaxOIUSD {
				filtered++
				continue
			}
		}

		// Rank by recent liquidation notional; quiet symbols go cold
		activity := u.liq.WindowNotional(sym, nowMS, hourMS)
		passed = append(passed, ranked{symbol: sym, activity: activity})
	}

	sort.Slice(passed, func(i, j int) bool {
		if passed[i].activity != passed[j].activity {
			return passed[i].activity > passed[j].activity
		}
		return passed[i].symbol < passed[j].symbol
	})

	eligible := make(map[string]bool, len(passed))
	var hot, cold []string
	for i, r := range passed {
		eligible[r.symbol] = true
		if i < u.cfg.HotPoolSize {
			hot = append(hot, r.symbol)
		} else if len(cold) < u.cfg.ColdPoolSize {
			cold = append(cold, r.symbol)
		}
	}

	u.mu.Lock()
	u.eligible = eligible
	u.hot = hot
	u.cold = cold
	u.mu.Unlock()

	u.logger.Info().
		Int("eligible", len(eligible)).
		Int("hot", len(hot)).
		Int("cold", len(cold)).
		Int("filtered", filtered).
		Dur("took", time.Since(start)).
		Msg("universe refreshed")

	if u.onRefresh != nil {
		u.onRefresh(len(hot), len(cold), filtered)
	}
	return nil
}

// OnRefresh registers a callback invoked after every pool rebuild.
// Register before Start.
func (u *Universe) OnRefresh(h func(hot, cold, filtered int)) {
	u.onRefresh = h
}

// Eligible reports whether the symbol passed the liquidity filter.
func (u *Universe) Eligible(symbol string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.eligible[symbol]
}

// HotSymbols returns the high-priority pool.
func (u *Universe) HotSymbols() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, len(u.hot))
	copy(out, u.hot)
	return out
}

// Symbols returns the full eligible pool, hot first.
func (u *Universe) Symbols() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.hot)+len(u.cold))
	out = append(out, u.hot...)
	out = append(out, u.cold...)
	return out
}
