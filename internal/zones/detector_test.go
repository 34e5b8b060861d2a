package zones

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/market"
)

const barMS = int64(15 * 60 * 1000)

// seedBars writes n flat bars (high 101, low 99) ending near now, with
// an optional per-bar mutation. Flat history keeps ATR at a known 2.
func seedBars(t *testing.T, store *market.Store, symbol string, n int, mutate func(i int, k *binance.Kline)) {
	t.Helper()

	start := time.Now().Add(-time.Duration(n) * 15 * time.Minute).UnixMilli()
	for i := 0; i < n; i++ {
		openTime := start + int64(i)*barMS
		close := 100.2
		if i%2 == 1 {
			close = 99.8
		}
		k := binance.Kline{
			Symbol:    symbol,
			OpenTime:  openTime,
			CloseTime: openTime + barMS,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     close,
			Volume:    1000,
		}
		if mutate != nil {
			mutate(i, &k)
		}
		if err := store.AddCandle(k); err != nil {
			t.Fatalf("seeding bar %d: %v", i, err)
		}
	}
}

func newDetector() (*Detector, *market.Store) {
	store := market.NewStore(200, 64, 4096, zerolog.Nop())
	return NewDetector(config.Default().StrategyConfig, store, zerolog.Nop()), store
}

func TestUpdateZonesNeedsHistory(t *testing.T) {
	d, store := newDetector()
	seedBars(t, store, "BTCUSDT", 30, nil)

	if zones := d.UpdateZones("BTCUSDT"); zones != nil {
		t.Errorf("expected no zones with 30 bars, got %d", len(zones))
	}
}

func TestUpdateZonesChannelExtremes(t *testing.T) {
	d, store := newDetector()
	seedBars(t, store, "BTCUSDT", 60, nil)

	zones := d.UpdateZones("BTCUSDT")
	if len(zones) == 0 {
		t.Fatal("expected zones from 60 bars of history")
	}

	var hasResistanceAtHigh, hasSupportAtLow bool
	for _, z := range zones {
		if z.Low >= z.High {
			t.Errorf("zone band inverted: [%v, %v]", z.Low, z.High)
		}
		if z.Kind == market.ZoneResistance && z.Contains(101) {
			hasResistanceAtHigh = true
		}
		if z.Kind == market.ZoneSupport && z.Contains(99) {
			hasSupportAtLow = true
		}
	}
	if !hasResistanceAtHigh {
		t.Error("expected a resistance zone on the channel high 101")
	}
	if !hasSupportAtLow {
		t.Error("expected a support zone on the channel low 99")
	}

	// Every high and low of the flat series touches its band, so the
	// touch bonus saturates on top of the base score.
	for _, z := range zones {
		if z.Kind == market.ZoneResistance && z.Contains(101) && z.Score < 8 {
			t.Errorf("expected saturated touch bonus on the channel zone, score %v", z.Score)
		}
	}

	// The detector publishes the same set it returns.
	stored := store.Zones.Zones("BTCUSDT", "")
	if len(stored) != len(zones) {
		t.Errorf("store holds %d zones, detector returned %d", len(stored), len(zones))
	}
}

func TestUpdateZonesFindsSwingHigh(t *testing.T) {
	d, store := newDetector()
	seedBars(t, store, "BTCUSDT", 60, func(i int, k *binance.Kline) {
		if i == 30 {
			k.High = 105
		}
	})

	zones := d.UpdateZones("BTCUSDT")

	found := false
	for _, z := range zones {
		if z.Kind == market.ZoneResistance && z.Contains(105) {
			found = true
			if z.Source != "swing_high" {
				t.Errorf("expected swing_high source on the spike zone, got %q", z.Source)
			}
		}
	}
	if !found {
		t.Error("expected a resistance zone at the swing high 105")
	}
}

func TestUpdateZonesFindsWickRejection(t *testing.T) {
	d, store := newDetector()
	seedBars(t, store, "BTCUSDT", 60, func(i int, k *binance.Kline) {
		if i == 30 {
			// Long lower wick on triple volume: close barely below open,
			// low far beneath the range.
			k.Open = 100
			k.Close = 99.9
			k.Low = 95
			k.Volume = 3000
		}
	})

	zones := d.UpdateZones("BTCUSDT")

	found := false
	for _, z := range zones {
		if z.Kind == market.ZoneSupport && z.Contains(95) {
			found = true
			// The wick low is also a swing low; the merge should have
			// folded both candidates into one band.
			if z.Touches < 2 {
				t.Errorf("expected merged touches >= 2, got %d", z.Touches)
			}
			if z.Score < 8 {
				t.Errorf("expected merged zone score >= 8, got %v", z.Score)
			}
		}
	}
	if !found {
		t.Error("expected a support zone at the wick low 95")
	}
}

func TestUpdateZonesAgeDecay(t *testing.T) {
	freshDet, freshStore := newDetector()
	seedBars(t, freshStore, "BTCUSDT", 60, nil)
	fresh := freshDet.UpdateZones("BTCUSDT")

	staleDet, staleStore := newDetector()
	// Same shape of history, but a month old.
	monthAgo := time.Now().Add(-30 * 24 * time.Hour).UnixMilli()
	for i := 0; i < 60; i++ {
		openTime := monthAgo + int64(i)*barMS
		close := 100.2
		if i%2 == 1 {
			close = 99.8
		}
		staleStore.AddCandle(binance.Kline{
			Symbol: "BTCUSDT", OpenTime: openTime, CloseTime: openTime + barMS,
			Open: 100, High: 101, Low: 99, Close: close, Volume: 1000,
		})
	}
	stale := staleDet.UpdateZones("BTCUSDT")

	freshScore := maxScore(fresh, market.ZoneResistance)
	staleScore := maxScore(stale, market.ZoneResistance)
	if staleScore >= freshScore {
		t.Errorf("stale zones should decay below fresh ones: stale %v, fresh %v", staleScore, freshScore)
	}
}

func maxScore(zones []market.Zone, kind market.ZoneKind) float64 {
	best := -1.0
	for _, z := range zones {
		if z.Kind == kind && z.Score > best {
			best = z.Score
		}
	}
	return best
}

func TestMergeOverlappingSpansOppositeKindBands(t *testing.T) {
	d, _ := newDetector()

	// Two overlapping supports with a resistance band sitting between
	// their mids. The supports must still collapse into one.
	merged := d.mergeOverlapping([]market.Zone{
		{Symbol: "BTCUSDT", Kind: market.ZoneSupport, Low: 99.0, High: 99.4, Score: 4, Touches: 1},
		{Symbol: "BTCUSDT", Kind: market.ZoneResistance, Low: 99.2, High: 99.6, Score: 5, Touches: 1},
		{Symbol: "BTCUSDT", Kind: market.ZoneSupport, Low: 99.3, High: 99.8, Score: 6, Touches: 2},
	})

	var supports, resistances []market.Zone
	for _, z := range merged {
		if z.Kind == market.ZoneSupport {
			supports = append(supports, z)
		} else {
			resistances = append(resistances, z)
		}
	}

	if len(supports) != 1 {
		t.Fatalf("expected overlapping supports merged into 1, got %d", len(supports))
	}
	if supports[0].Low != 99.0 || supports[0].High != 99.8 {
		t.Errorf("expected merged band [99.0, 99.8], got [%v, %v]", supports[0].Low, supports[0].High)
	}
	if supports[0].Score != 7 {
		t.Errorf("expected stronger score 6 plus the merge bonus, got %v", supports[0].Score)
	}
	if supports[0].Touches != 3 {
		t.Errorf("expected touches summed to 3, got %d", supports[0].Touches)
	}
	if len(resistances) != 1 || resistances[0].Low != 99.2 || resistances[0].High != 99.6 {
		t.Errorf("resistance band should survive untouched, got %+v", resistances)
	}
}
