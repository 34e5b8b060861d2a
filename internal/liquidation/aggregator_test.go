package liquidation

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
)

const baseTime = int64(1_700_000_000_000)

func newAggregator() (*Aggregator, config.StrategyConfig) {
	cfg := config.Default().StrategyConfig
	return NewAggregator(cfg, zerolog.Nop()), cfg
}

func event(ts int64, side binance.LiquidationSide, notionalUSD float64) binance.LiquidationEvent {
	return binance.LiquidationEvent{
		Symbol:    "BTCUSDT",
		Side:      side,
		Price:     100,
		Quantity:  notionalUSD / 100,
		Timestamp: ts,
	}
}

func TestPercentileRequiresMinimumBuckets(t *testing.T) {
	agg, cfg := newAggregator()

	// One bucket short of the minimum.
	windowMS := int64(cfg.LiqWindowMinutes) * 60_000
	for i := 0; i < cfg.LiqMinBuckets-1; i++ {
		agg.AddEvent(event(baseTime+int64(i)*windowMS, binance.LiquidationBuy, 50_000))
	}

	if _, err := agg.Percentile("BTCUSDT", 95); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("expected ErrInsufficientSamples, got %v", err)
	}

	// One more bucket crosses the threshold.
	agg.AddEvent(event(baseTime+int64(cfg.LiqMinBuckets-1)*windowMS, binance.LiquidationBuy, 50_000))
	if _, err := agg.Percentile("BTCUSDT", 95); err != nil {
		t.Errorf("expected percentile at minimum bucket count, got %v", err)
	}
}

func TestPassesClusterColdStartFallback(t *testing.T) {
	agg, cfg := newAggregator()
	nowMS := baseTime + 15*60_000
	windowMS := int64(15 * 60_000)

	// Nothing recorded: the fallback refuses.
	check := agg.PassesCluster("BTCUSDT", nowMS, windowMS, 95)
	if check.Passed {
		t.Error("empty window should not pass the fallback threshold")
	}
	if !check.Fallback {
		t.Error("cold aggregator must report the fallback rule")
	}
	if check.Threshold != cfg.LiqFallbackMinUSD {
		t.Errorf("expected fallback threshold %v, got %v", cfg.LiqFallbackMinUSD, check.Threshold)
	}

	// A burst past the absolute floor passes while still cold.
	agg.AddEvent(event(nowMS-60_000, binance.LiquidationBuy, 150_000))
	check = agg.PassesCluster("BTCUSDT", nowMS, windowMS, 95)
	if !check.Passed || !check.Fallback {
		t.Errorf("expected fallback pass with $150k in window, got %+v", check)
	}
	if check.Notional != 150_000 {
		t.Errorf("expected window notional 150000, got %v", check.Notional)
	}
}

func TestPassesClusterSwitchesToPercentile(t *testing.T) {
	agg, cfg := newAggregator()
	windowMS := int64(cfg.LiqWindowMinutes) * 60_000

	// Warm history: enough buckets of $10k each for a stable p95.
	for i := 0; i < cfg.LiqMinBuckets; i++ {
		agg.AddEvent(event(baseTime+int64(i)*windowMS, binance.LiquidationBuy, 10_000))
	}
	nowMS := baseTime + int64(cfg.LiqMinBuckets)*windowMS

	// $50k is well below the $100k fallback but far above the $10k p95,
	// so the percentile rule must be the one deciding.
	agg.AddEvent(event(nowMS-60_000, binance.LiquidationSell, 50_000))
	check := agg.PassesCluster("BTCUSDT", nowMS+windowMS, windowMS*2, 95)
	if check.Fallback {
		t.Error("warm aggregator must not use the fallback rule")
	}
	if !check.Passed {
		t.Errorf("expected percentile pass, got %+v", check)
	}
}

func TestWindowNotionalOnlyCountsRecentBuckets(t *testing.T) {
	agg, _ := newAggregator()

	agg.AddEvent(event(baseTime, binance.LiquidationBuy, 40_000))
	agg.AddEvent(event(baseTime+60*60_000, binance.LiquidationSell, 25_000))

	// A 15 minute window ending an hour in only sees the second event.
	got := agg.WindowNotional("BTCUSDT", baseTime+61*60_000, 15*60_000)
	if got != 25_000 {
		t.Errorf("expected 25000 in the recent window, got %v", got)
	}

	// A wide window sees both.
	got = agg.WindowNotional("BTCUSDT", baseTime+61*60_000, 2*60*60_000)
	if got != 65_000 {
		t.Errorf("expected 65000 in the wide window, got %v", got)
	}
}

func TestClusterScoreNeutralOnColdStart(t *testing.T) {
	agg, _ := newAggregator()

	agg.AddEvent(event(baseTime, binance.LiquidationBuy, 500_000))
	if got := agg.ClusterScore("BTCUSDT", baseTime+60_000, 15*60_000); got != 7.0 {
		t.Errorf("expected neutral score 7 during cold start, got %v", got)
	}
}

func TestRecentBiasReportsDominantSide(t *testing.T) {
	agg, _ := newAggregator()
	nowMS := baseTime + 15*60_000
	windowMS := int64(15 * 60_000)

	if _, ok := agg.RecentBias("BTCUSDT", nowMS, windowMS); ok {
		t.Error("no events should yield no bias")
	}

	// SELL forced orders flush longs.
	agg.AddEvent(event(nowMS-120_000, binance.LiquidationSell, 90_000))
	agg.AddEvent(event(nowMS-60_000, binance.LiquidationBuy, 10_000))

	bias, ok := agg.RecentBias("BTCUSDT", nowMS, windowMS)
	if !ok || bias != BiasLong {
		t.Errorf("expected LONG bias with 90%% sell notional, got %v ok=%v", bias, ok)
	}

	// Topping up the other side tips it to mixed.
	agg.AddEvent(event(nowMS-30_000, binance.LiquidationBuy, 80_000))
	bias, ok = agg.RecentBias("BTCUSDT", nowMS, windowMS)
	if !ok || bias != BiasMixed {
		t.Errorf("expected MIXED bias at even notional, got %v ok=%v", bias, ok)
	}
}

func TestLateEventsFoldIntoLastBucket(t *testing.T) {
	agg, cfg := newAggregator()
	windowMS := int64(cfg.LiqWindowMinutes) * 60_000

	agg.AddEvent(event(baseTime+windowMS, binance.LiquidationBuy, 30_000))
	// Arrives after its window already rolled.
	agg.AddEvent(event(baseTime, binance.LiquidationBuy, 20_000))

	if got := agg.BucketCount("BTCUSDT"); got != 1 {
		t.Errorf("late event must not break bucket ordering, have %d buckets", got)
	}
	got := agg.WindowNotional("BTCUSDT", baseTime+2*windowMS, 2*windowMS)
	if got != 50_000 {
		t.Errorf("expected folded notional 50000, got %v", got)
	}
}
