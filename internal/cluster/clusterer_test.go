package cluster

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/market"
)

const (
	barMS    = int64(15 * 60 * 1000)
	baseTime = int64(1_700_000_000_000)
)

// seedReturns writes a candle series whose close-to-close returns match
// rets exactly. Square waves of different periods give known pairwise
// correlations: identical waves correlate at 1, different periods are
// orthogonal.
func seedReturns(t *testing.T, store *market.Store, symbol string, rets []float64) {
	t.Helper()

	closes := make([]float64, len(rets)+1)
	closes[0] = 100
	for i, r := range rets {
		closes[i+1] = closes[i] * (1 + r)
	}
	for i, c := range closes {
		openTime := baseTime + int64(i)*barMS
		err := store.AddCandle(binance.Kline{
			Symbol:    symbol,
			OpenTime:  openTime,
			CloseTime: openTime + barMS,
			Open:      c,
			High:      c * 1.02,
			Low:       c * 0.98,
			Close:     c,
			Volume:    1000,
		})
		if err != nil {
			t.Fatalf("seeding %s bar %d: %v", symbol, i, err)
		}
	}
}

// squareWave produces n returns flipping sign every period samples.
func squareWave(n, period int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if (i/period)%2 == 0 {
			out[i] = 0.01
		} else {
			out[i] = -0.01
		}
	}
	return out
}

func newClusterFixture(t *testing.T) (*Clusterer, []string) {
	t.Helper()

	cfg := config.Default().ClusterConfig
	store := market.NewStore(200, 64, 4096, zerolog.Nop())
	n := cfg.ReturnWindowBars

	// BTCUSDT is a configured leader; ALTUSDT moves with it tick for
	// tick. LNKAUSDT and LNKBUSDT share their own wave, orthogonal to
	// the leader's. LONERUSDT correlates with nobody.
	seedReturns(t, store, "BTCUSDT", squareWave(n, 1))
	seedReturns(t, store, "ALTUSDT", squareWave(n, 1))
	seedReturns(t, store, "LNKAUSDT", squareWave(n, 2))
	seedReturns(t, store, "LNKBUSDT", squareWave(n, 2))
	seedReturns(t, store, "LONERUSDT", squareWave(n, 4))

	symbols := []string{"BTCUSDT", "ALTUSDT", "LNKAUSDT", "LNKBUSDT", "LONERUSDT"}
	return NewClusterer(cfg, store, zerolog.Nop()), symbols
}

func TestRebuildAttachesFollowersToLeaders(t *testing.T) {
	c, symbols := newClusterFixture(t)
	c.Rebuild(symbols)

	if got := c.ClusterOf("BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("leader should anchor its own cluster, got %q", got)
	}
	if got := c.ClusterOf("ALTUSDT"); got != "BTCUSDT" {
		t.Errorf("perfectly correlated follower should join the leader cluster, got %q", got)
	}
	if got := c.LeaderOf("ALTUSDT"); got != "BTCUSDT" {
		t.Errorf("follower's leader should be BTCUSDT, got %q", got)
	}
}

func TestRebuildLinksLeaderlessGroups(t *testing.T) {
	c, symbols := newClusterFixture(t)
	c.Rebuild(symbols)

	a := c.ClusterOf("LNKAUSDT")
	b := c.ClusterOf("LNKBUSDT")
	if a != b {
		t.Errorf("mutually correlated leftovers should share a cluster: %q vs %q", a, b)
	}
	if a == Unclustered || a == "BTCUSDT" {
		t.Errorf("linkage cluster should be its own id, got %q", a)
	}
	if got := c.LeaderOf("LNKAUSDT"); got != "" {
		t.Errorf("linkage clusters carry no leader, got %q", got)
	}
}

func TestRebuildLeavesUncorrelatedSymbolsAlone(t *testing.T) {
	c, symbols := newClusterFixture(t)
	c.Rebuild(symbols)

	if got := c.ClusterOf("LONERUSDT"); got != Unclustered {
		t.Errorf("uncorrelated symbol should stay unclustered, got %q", got)
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	c, symbols := newClusterFixture(t)

	c.Rebuild(symbols)
	first := c.Assignments()
	c.Rebuild(symbols)
	second := c.Assignments()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("two rebuilds over identical history diverged:\n%v\n%v", first, second)
	}
}

func TestRebuildSkipsShortHistory(t *testing.T) {
	cfg := config.Default().ClusterConfig
	store := market.NewStore(200, 64, 4096, zerolog.Nop())
	seedReturns(t, store, "NEWUSDT", squareWave(10, 1))

	c := NewClusterer(cfg, store, zerolog.Nop())
	c.Rebuild([]string{"NEWUSDT"})

	if got := c.ClusterOf("NEWUSDT"); got != Unclustered {
		t.Errorf("symbol without enough history should be unclustered, got %q", got)
	}
}

func TestRebuildNotifiesObserver(t *testing.T) {
	c, symbols := newClusterFixture(t)

	var gotClusters, gotSymbols int
	calls := 0
	c.OnRebuilt(func(clusters, syms int) {
		gotClusters = clusters
		gotSymbols = syms
		calls++
	})

	c.Rebuild(symbols)

	if calls != 1 {
		t.Fatalf("expected one callback per rebuild, got %d", calls)
	}
	if gotSymbols != len(symbols) {
		t.Errorf("expected %d symbols assigned, got %d", len(symbols), gotSymbols)
	}
	// BTCUSDT's leader cluster plus the LNK linkage group; LONERUSDT
	// stays unclustered and is not a cluster.
	if gotClusters != 2 {
		t.Errorf("expected 2 distinct clusters, got %d", gotClusters)
	}
}
