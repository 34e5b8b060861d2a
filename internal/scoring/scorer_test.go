package scoring

import (
	"testing"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
	"liqsweep-bot/internal/tracker"
)

const (
	barMS    = int64(15 * 60 * 1000)
	baseTime = int64(1_700_000_000_000)
)

type scorerFixture struct {
	cfg       *config.Config
	store     *market.Store
	clusters  *cluster.Clusterer
	positions *tracker.Tracker
	scorer    *Scorer
}

func newScorerFixture() *scorerFixture {
	cfg := config.Default()
	logger := zerolog.Nop()

	store := market.NewStore(200, 64, 4096, logger)
	clusters := cluster.NewClusterer(cfg.ClusterConfig, store, logger)
	positions := tracker.NewTracker(cfg.StrategyConfig, cfg.ClusterConfig, barMS, logger)

	return &scorerFixture{
		cfg:       cfg,
		store:     store,
		clusters:  clusters,
		positions: positions,
		scorer:    NewScorer(cfg, clusters, positions, logger),
	}
}

// strongCandidate maxes out every condition margin: the composite
// strength term alone scores 10.
func strongCandidate(symbol string, dir pattern.Direction) *pattern.Candidate {
	return &pattern.Candidate{
		Symbol:         symbol,
		Direction:      dir,
		Bar:            binance.Kline{Symbol: symbol, OpenTime: baseTime + 10*barMS, Close: 100},
		ATR:            2,
		SweepMargin:    1,
		WickMargin:     1,
		LiqScore:       10,
		OIDeltaPercent: -3,
		VolumeMargin:   1,
	}
}

func shortPlan(symbol string, rr float64) planner.Plan {
	return planner.Plan{
		Symbol:       symbol,
		Direction:    pattern.DirectionShort,
		Entry:        100,
		Stop:         102,
		Target1:      98,
		Target2:      100 - 2*rr,
		RiskUnit:     2,
		RewardToRisk: rr,
	}
}

func TestScoreAcceptsStrongCandidate(t *testing.T) {
	f := newScorerFixture()
	cand := strongCandidate("BTCUSDT", pattern.DirectionShort)

	sig := f.scorer.Score(cand, shortPlan("BTCUSDT", 3))
	if !sig.Accepted {
		t.Fatalf("expected acceptance, rejected for %q", sig.RejectReason)
	}
	if sig.Score < 9.99 {
		t.Errorf("expected composite near 10 with maxed margins, got %v", sig.Score)
	}
	if sig.ClusterID != cluster.Unclustered {
		t.Errorf("unknown symbol should score as unclustered, got %q", sig.ClusterID)
	}
}

func TestScoreBlendsZoneQuality(t *testing.T) {
	f := newScorerFixture()
	cand := strongCandidate("BTCUSDT", pattern.DirectionShort)

	plan := shortPlan("BTCUSDT", 3)
	plan.HasTargetZone = true
	plan.TargetZone = market.Zone{Symbol: "BTCUSDT", Kind: market.ZoneSupport, Low: 93, High: 94, Score: 8}

	sig := f.scorer.Score(cand, plan)
	if !sig.Accepted {
		t.Fatalf("expected acceptance, rejected for %q", sig.RejectReason)
	}
	// 0.7 * 10 + 0.3 * 8
	if sig.Score < 9.39 || sig.Score > 9.41 {
		t.Errorf("expected zone-blended score 9.4, got %v", sig.Score)
	}
	if sig.ZoneScore != 8 {
		t.Errorf("expected zone score 8 on the signal, got %v", sig.ZoneScore)
	}
}

func TestScoreGatesInOrder(t *testing.T) {
	t.Run("reward to risk below minimum", func(t *testing.T) {
		f := newScorerFixture()
		sig := f.scorer.Score(strongCandidate("BTCUSDT", pattern.DirectionShort), shortPlan("BTCUSDT", 1.0))
		if sig.Accepted || sig.RejectReason != RejectRRGate {
			t.Errorf("expected %q rejection, got accepted=%v reason=%q", RejectRRGate, sig.Accepted, sig.RejectReason)
		}
	})

	t.Run("open position on the symbol", func(t *testing.T) {
		f := newScorerFixture()
		openPosition(t, f, "BTCUSDT", "BTC", pattern.DirectionShort, 0)

		sig := f.scorer.Score(strongCandidate("BTCUSDT", pattern.DirectionShort), shortPlan("BTCUSDT", 3))
		if sig.Accepted || sig.RejectReason != RejectOpenPosition {
			t.Errorf("expected %q rejection, got accepted=%v reason=%q", RejectOpenPosition, sig.Accepted, sig.RejectReason)
		}
	})

	t.Run("symbol in cooldown", func(t *testing.T) {
		f := newScorerFixture()
		openPosition(t, f, "BTCUSDT", "BTC", pattern.DirectionShort, 0)
		// Stop out one bar later; the candidate fires on the next bar.
		f.positions.OnBarClose("BTCUSDT", binance.Kline{
			Symbol: "BTCUSDT", OpenTime: baseTime + 9*barMS, CloseTime: baseTime + 10*barMS,
			Open: 101, High: 102.5, Low: 100.5, Close: 102,
		})

		sig := f.scorer.Score(strongCandidate("BTCUSDT", pattern.DirectionShort), shortPlan("BTCUSDT", 3))
		if sig.Accepted || sig.RejectReason != RejectCooldown {
			t.Errorf("expected %q rejection, got accepted=%v reason=%q", RejectCooldown, sig.Accepted, sig.RejectReason)
		}
	})

	t.Run("cluster cap reached", func(t *testing.T) {
		f := newScorerFixture()
		seedIdenticalReturns(f, "BTCUSDT", "AAAUSDT", "BBBUSDT", "CCCUSDT")
		f.clusters.Rebuild([]string{"BTCUSDT", "AAAUSDT", "BBBUSDT", "CCCUSDT"})

		openPosition(t, f, "AAAUSDT", "BTCUSDT", pattern.DirectionShort, 0)
		openPosition(t, f, "BBBUSDT", "BTCUSDT", pattern.DirectionShort, 0)

		sig := f.scorer.Score(strongCandidate("CCCUSDT", pattern.DirectionShort), shortPlan("CCCUSDT", 3))
		if sig.Accepted || sig.RejectReason != RejectClusterCap {
			t.Errorf("expected %q rejection, got accepted=%v reason=%q", RejectClusterCap, sig.Accepted, sig.RejectReason)
		}
	})

	t.Run("unclustered positions leave the gate open", func(t *testing.T) {
		f := newScorerFixture()
		openPosition(t, f, "AAAUSDT", cluster.Unclustered, pattern.DirectionShort, 0)
		openPosition(t, f, "BBBUSDT", cluster.Unclustered, pattern.DirectionShort, 0)

		// Mutually uncorrelated symbols share no exposure: neither the
		// cap nor the cluster penalty applies.
		sig := f.scorer.Score(strongCandidate("CCCUSDT", pattern.DirectionShort), shortPlan("CCCUSDT", 3))
		if !sig.Accepted {
			t.Fatalf("expected acceptance for the unclustered candidate, rejected for %q", sig.RejectReason)
		}
		if sig.Score < 9.99 {
			t.Errorf("expected unpenalized score near 10, got %v", sig.Score)
		}
	})

	t.Run("composite below minimum score", func(t *testing.T) {
		f := newScorerFixture()
		weak := &pattern.Candidate{
			Symbol:         "BTCUSDT",
			Direction:      pattern.DirectionShort,
			Bar:            binance.Kline{Symbol: "BTCUSDT", OpenTime: baseTime + 10*barMS, Close: 100},
			ATR:            2,
			OIDeltaPercent: -0.5, // shallow edge of the band scores 0
		}
		sig := f.scorer.Score(weak, shortPlan("BTCUSDT", 3))
		if sig.Accepted || sig.RejectReason != RejectLowScore {
			t.Errorf("expected %q rejection, got accepted=%v reason=%q", RejectLowScore, sig.Accepted, sig.RejectReason)
		}
	})
}

// seedIdenticalReturns writes the same alternating return series for
// every symbol so they correlate at exactly 1 and cluster together.
func seedIdenticalReturns(f *scorerFixture, symbols ...string) {
	rets := make([]float64, f.cfg.ClusterConfig.ReturnWindowBars)
	for i := range rets {
		if i%2 == 0 {
			rets[i] = 0.01
		} else {
			rets[i] = -0.01
		}
	}
	for _, sym := range symbols {
		close := 100.0
		for i := 0; i <= len(rets); i++ {
			openTime := baseTime + int64(i)*barMS
			f.store.AddCandle(binance.Kline{
				Symbol: sym, OpenTime: openTime, CloseTime: openTime + barMS,
				Open: close, High: close * 1.02, Low: close * 0.98, Close: close, Volume: 1000,
			})
			if i < len(rets) {
				close *= 1 + rets[i]
			}
		}
	}
}

func TestScorePenalizesClusterExposureAndOpposingLeader(t *testing.T) {
	f := newScorerFixture()

	// Make ALTUSDT a follower of the BTCUSDT leader.
	seedIdenticalReturns(f, "BTCUSDT", "ALTUSDT")
	f.clusters.Rebuild([]string{"BTCUSDT", "ALTUSDT"})

	// Leader holds a SHORT; the follower candidate fades the other way.
	openPosition(t, f, "BTCUSDT", "BTCUSDT", pattern.DirectionShort, 0)

	sig := f.scorer.Score(strongCandidate("ALTUSDT", pattern.DirectionLong), shortPlan("ALTUSDT", 3))
	if !sig.Accepted {
		t.Fatalf("expected acceptance, rejected for %q", sig.RejectReason)
	}
	if sig.ClusterID != "BTCUSDT" {
		t.Errorf("expected follower in the BTCUSDT cluster, got %q", sig.ClusterID)
	}
	// 10 minus one cluster-exposure point minus the opposing-leader
	// penalty of two.
	if sig.Score < 6.99 || sig.Score > 7.01 {
		t.Errorf("expected penalized score 7, got %v", sig.Score)
	}
}

func openPosition(t *testing.T, f *scorerFixture, symbol, clusterID string, dir pattern.Direction, barIdx int) {
	t.Helper()
	plan := shortPlan(symbol, 3)
	plan.Direction = dir
	if dir == pattern.DirectionLong {
		plan.Stop = 98
		plan.Target1 = 102
		plan.Target2 = 106
	}
	bar := binance.Kline{
		Symbol:   symbol,
		OpenTime: baseTime + int64(barIdx)*barMS,
	}
	if _, err := f.positions.Open(plan, clusterID, 7.5, bar); err != nil {
		t.Fatalf("opening %s: %v", symbol, err)
	}
}
