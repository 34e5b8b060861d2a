package market

import (
	"sync"

	"liqsweep-bot/internal/binance"
)

// LiquidationStore keeps a bounded ring of recent forced orders per symbol.
// The aggregator consumes these into fixed time buckets; this store only
// answers "what happened in the last N milliseconds" queries.
type LiquidationStore struct {
	mu     sync.RWMutex
	max    int
	events map[string][]binance.LiquidationEvent
}

// NewLiquidationStore creates a store holding up to max events per symbol
func NewLiquidationStore(max int) *LiquidationStore {
	if max <= 0 {
		max = 500
	}
	return &LiquidationStore{
		max:    max,
		events: make(map[string][]binance.LiquidationEvent),
	}
}

// Add appends an event, evicting the oldest beyond the bound
func (ls *LiquidationStore) Add(e binance.LiquidationEvent) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	series := append(ls.events[e.Symbol], e)
	if len(series) > ls.max {
		series = series[len(series)-ls.max:]
	}
	ls.events[e.Symbol] = series
}

// Since returns a copy of events with timestamp >= cutoff, oldest first
func (ls *LiquidationStore) Since(symbol string, cutoff int64) []binance.LiquidationEvent {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	series := ls.events[symbol]
	out := make([]binance.LiquidationEvent, 0, len(series))
	for _, e := range series {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// NotionalSince sums USD notional of events since cutoff, optionally
// filtered by side (empty side means both).
func (ls *LiquidationStore) NotionalSince(symbol string, cutoff int64, side binance.LiquidationSide) float64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	total := 0.0
	for _, e := range ls.events[symbol] {
		if e.Timestamp < cutoff {
			continue
		}
		if side != "" && e.Side != side {
			continue
		}
		total += e.NotionalUSD()
	}
	return total
}

// CountSince returns the number of events since cutoff
func (ls *LiquidationStore) CountSince(symbol string, cutoff int64) int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	count := 0
	for _, e := range ls.events[symbol] {
		if e.Timestamp >= cutoff {
			count++
		}
	}
	return count
}
