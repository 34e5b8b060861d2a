package market

import (
	"sort"
	"sync"
)

// ZoneKind distinguishes support from resistance
type ZoneKind string

const (
	ZoneSupport    ZoneKind = "support"
	ZoneResistance ZoneKind = "resistance"
)

// Zone is a support/resistance price band. Bands never invert: Low < High
// holds for every stored zone. Consumers read snapshots and never mutate.
type Zone struct {
	Symbol    string   `json:"symbol"`
	Kind      ZoneKind `json:"kind"`
	Low       float64  `json:"low"`
	High      float64  `json:"high"`
	Score     float64  `json:"score"` // Quality 0-10
	Touches   int      `json:"touches"`
	Source    string   `json:"source"` // donchian, swing_high, swing_low, wick_rejection
	CreatedAt int64    `json:"created_at"` // Epoch milliseconds of the bar that formed the zone
}

// Mid returns the center of the price band
func (z Zone) Mid() float64 {
	return (z.Low + z.High) / 2
}

// Contains reports whether price falls inside the band
func (z Zone) Contains(price float64) bool {
	return price >= z.Low && price <= z.High
}

// ZoneStore holds the current zone set per symbol, replaced wholesale on
// each detection pass.
type ZoneStore struct {
	mu    sync.RWMutex
	zones map[string][]Zone
}

// NewZoneStore creates an empty zone store
func NewZoneStore() *ZoneStore {
	return &ZoneStore{zones: make(map[string][]Zone)}
}

// Replace swaps in a freshly detected zone set, sorted by band center.
// Inverted bands are dropped rather than stored.
func (zs *ZoneStore) Replace(symbol string, zones []Zone) {
	valid := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.Low < z.High {
			valid = append(valid, z)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Mid() < valid[j].Mid() })

	zs.mu.Lock()
	zs.zones[symbol] = valid
	zs.mu.Unlock()
}

// Zones returns a copy of the symbol's zones, optionally filtered by kind
func (zs *ZoneStore) Zones(symbol string, kind ZoneKind) []Zone {
	zs.mu.RLock()
	defer zs.mu.RUnlock()

	out := make([]Zone, 0, len(zs.zones[symbol]))
	for _, z := range zs.zones[symbol] {
		if kind == "" || z.Kind == kind {
			out = append(out, z)
		}
	}
	return out
}

// NearestZone returns the closest zone of the given kind on the relevant
// side of price: supports below, resistances above. Returns false when no
// such zone exists.
func (zs *ZoneStore) NearestZone(symbol string, price float64, kind ZoneKind) (Zone, bool) {
	zs.mu.RLock()
	defer zs.mu.RUnlock()

	var best Zone
	bestDist := -1.0
	for _, z := range zs.zones[symbol] {
		if z.Kind != kind {
			continue
		}
		mid := z.Mid()
		if kind == ZoneSupport && mid >= price {
			continue
		}
		if kind == ZoneResistance && mid <= price {
			continue
		}
		dist := mid - price
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best = z
			bestDist = dist
		}
	}
	return best, bestDist >= 0
}
