package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"liqsweep-bot/internal/binance"
)

// ErrInvalidBar marks a candle rejected by the monotonicity/price guards.
// The offending bar is dropped; the symbol's stored state is untouched.
var ErrInvalidBar = errors.New("invalid bar")

// Store is the bounded in-memory rolling history all analytic components
// read from. Each symbol's series is owned by that symbol's processing
// goroutine for writes; reads are safe from any goroutine. The store is
// passed explicitly at construction, never held as a global.
type Store struct {
	Candles      *CandleStore
	OpenInterest *OIStore
	Liquidations *LiquidationStore
	Zones        *ZoneStore

	logger zerolog.Logger
}

// NewStore creates a rolling market store with the given per-symbol bounds
func NewStore(maxCandles, maxOISamples, maxLiquidations int, logger zerolog.Logger) *Store {
	return &Store{
		Candles:      NewCandleStore(maxCandles),
		OpenInterest: NewOIStore(maxOISamples),
		Liquidations: NewLiquidationStore(maxLiquidations),
		Zones:        NewZoneStore(),
		logger:       logger.With().Str("component", "market-store").Logger(),
	}
}

// AddCandle validates and appends a closed candle to the symbol's series
func (s *Store) AddCandle(k binance.Kline) error {
	if err := validateBar(k); err != nil {
		s.logger.Warn().Err(err).Str("symbol", k.Symbol).Int64("open_time", k.OpenTime).Msg("discarding bar")
		return err
	}
	if last, ok := s.Candles.Last(k.Symbol); ok && k.OpenTime <= last.OpenTime {
		err := fmt.Errorf("%w: open time %d not after previous %d", ErrInvalidBar, k.OpenTime, last.OpenTime)
		s.logger.Warn().Err(err).Str("symbol", k.Symbol).Msg("discarding bar")
		return err
	}
	s.Candles.Add(k)
	return nil
}

func validateBar(k binance.Kline) error {
	if k.Open <= 0 || k.High <= 0 || k.Low <= 0 || k.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidBar)
	}
	if k.High < k.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidBar, k.High, k.Low)
	}
	if k.CloseTime <= k.OpenTime {
		return fmt.Errorf("%w: close time %d not after open time %d", ErrInvalidBar, k.CloseTime, k.OpenTime)
	}
	return nil
}

// CandleStore keeps a bounded ring of closed candles per symbol
type CandleStore struct {
	mu      sync.RWMutex
	max     int
	candles map[string][]binance.Kline
}

// NewCandleStore creates a candle store holding up to max bars per symbol
func NewCandleStore(max int) *CandleStore {
	if max <= 0 {
		max = 200
	}
	return &CandleStore{
		max:     max,
		candles: make(map[string][]binance.Kline),
	}
}

// Add appends a candle, evicting the oldest beyond the bound
func (cs *CandleStore) Add(k binance.Kline) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	series := append(cs.candles[k.Symbol], k)
	if len(series) > cs.max {
		series = series[len(series)-cs.max:]
	}
	cs.candles[k.Symbol] = series
}

// LastN returns a copy of the most recent n candles, oldest first
func (cs *CandleStore) LastN(symbol string, n int) []binance.Kline {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	series := cs.candles[symbol]
	if len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]binance.Kline, len(series))
	copy(out, series)
	return out
}

// Last returns the most recent candle
func (cs *CandleStore) Last(symbol string) (binance.Kline, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	series := cs.candles[symbol]
	if len(series) == 0 {
		return binance.Kline{}, false
	}
	return series[len(series)-1], true
}

// Count returns the number of stored candles for a symbol
func (cs *CandleStore) Count(symbol string) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.candles[symbol])
}

// Symbols returns all symbols that currently have candle data
func (cs *CandleStore) Symbols() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	symbols := make([]string, 0, len(cs.candles))
	for sym, series := range cs.candles {
		if len(series) > 0 {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}
