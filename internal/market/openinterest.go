package market

import (
	"sync"

	"liqsweep-bot/internal/binance"
)

// OIStore keeps a bounded series of open-interest samples per symbol.
// Samples arrive at a finer grain (5 minutes) than the pattern interval.
type OIStore struct {
	mu      sync.RWMutex
	max     int
	samples map[string][]binance.OpenInterest
}

// NewOIStore creates a store holding up to max samples per symbol
func NewOIStore(max int) *OIStore {
	if max <= 0 {
		max = 100
	}
	return &OIStore{
		max:     max,
		samples: make(map[string][]binance.OpenInterest),
	}
}

// Add appends a sample. Out-of-order samples (timestamp not after the
// previous) are dropped to keep the series monotonic.
func (os *OIStore) Add(sample binance.OpenInterest) {
	os.mu.Lock()
	defer os.mu.Unlock()

	series := os.samples[sample.Symbol]
	if len(series) > 0 && sample.Timestamp <= series[len(series)-1].Timestamp {
		return
	}
	series = append(series, sample)
	if len(series) > os.max {
		series = series[len(series)-os.max:]
	}
	os.samples[sample.Symbol] = series
}

// Current returns the latest sample value
func (os *OIStore) Current(symbol string) (float64, bool) {
	os.mu.RLock()
	defer os.mu.RUnlock()

	series := os.samples[symbol]
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].Value, true
}

// LastN returns a copy of the most recent n samples, oldest first
func (os *OIStore) LastN(symbol string, n int) []binance.OpenInterest {
	os.mu.RLock()
	defer os.mu.RUnlock()

	series := os.samples[symbol]
	if len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]binance.OpenInterest, len(series))
	copy(out, series)
	return out
}

// Count returns the number of stored samples for a symbol
func (os *OIStore) Count(symbol string) int {
	os.mu.RLock()
	defer os.mu.RUnlock()
	return len(os.samples[symbol])
}
