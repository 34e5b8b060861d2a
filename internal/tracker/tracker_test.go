package tracker

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
)

const (
	barMS    = int64(15 * 60 * 1000)
	baseTime = int64(1_700_000_000_000)
)

func newTestTracker() *Tracker {
	cfg := config.Default()
	return NewTracker(cfg.StrategyConfig, cfg.ClusterConfig, barMS, zerolog.Nop())
}

// shortPlan has entry 100, stop 102, target1 98, target2 95. One R is 2.
func shortPlan(symbol string) planner.Plan {
	return planner.Plan{
		Symbol:    symbol,
		Direction: pattern.DirectionShort,
		Entry:     100,
		Stop:      102,
		Target1:   98,
		Target2:   95,
		RiskUnit:  2,
	}
}

func barAt(idx int, high, low, close float64) binance.Kline {
	openTime := baseTime + int64(idx)*barMS
	return binance.Kline{
		Symbol:    "BTCUSDT",
		OpenTime:  openTime,
		CloseTime: openTime + barMS,
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func mustOpen(t *testing.T, tr *Tracker, plan planner.Plan, clusterID string, idx int) *Position {
	t.Helper()
	pos, err := tr.Open(plan, clusterID, 7.5, barAt(idx, 100, 100, 100))
	if err != nil {
		t.Fatalf("Open(%s): %v", plan.Symbol, err)
	}
	return pos
}

func TestTargetLadderWithPartialFill(t *testing.T) {
	tr := newTestTracker()

	var events []Event
	tr.OnPositionEvent(func(ev Event) { events = append(events, ev) })

	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// Bar 1 reaches target1 but not target2 or the stop.
	tr.OnBarClose("BTCUSDT", barAt(1, 100.5, 97.5, 98.2))
	pos, ok := tr.OpenPosition("BTCUSDT")
	if !ok {
		t.Fatal("position should still be live after the partial")
	}
	if pos.Status != StatusPartial {
		t.Errorf("expected PARTIAL after target1 touch, got %s", pos.Status)
	}
	if pos.PartialPrice != 98 {
		t.Errorf("expected partial fill at 98, got %v", pos.PartialPrice)
	}

	// Bar 2 reaches target2.
	tr.OnBarClose("BTCUSDT", barAt(2, 98.0, 94.5, 95.5))
	if tr.HasOpen("BTCUSDT") {
		t.Error("position should be closed after target2 touch")
	}

	closed := tr.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	final := closed[0]
	if final.Status != StatusClosedTarget {
		t.Errorf("expected CLOSED_TARGET, got %s", final.Status)
	}
	if final.ExitPrice != 95 {
		t.Errorf("expected exit at target2 95, got %v", final.ExitPrice)
	}
	// Half closed at 98 (+2%), half at 95 (+5%).
	if final.PnLPercent < 3.49 || final.PnLPercent > 3.51 {
		t.Errorf("expected weighted PnL 3.5%%, got %v", final.PnLPercent)
	}

	wantTypes := []EventType{EventOpened, EventPartial, EventClosed}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}
}

func TestStopTakesPrecedenceOverTargets(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// The bar spans both the stop and target1; the stop must win.
	tr.OnBarClose("BTCUSDT", barAt(1, 102.5, 97.5, 99.0))

	closed := tr.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].Status != StatusClosedStop {
		t.Errorf("expected CLOSED_STOP, got %s", closed[0].Status)
	}
	if closed[0].ExitPrice != 102 {
		t.Errorf("expected exit at the stop 102, got %v", closed[0].ExitPrice)
	}
	if closed[0].PnLPercent > -1.99 || closed[0].PnLPercent < -2.01 {
		t.Errorf("expected PnL -2%%, got %v", closed[0].PnLPercent)
	}
}

func TestSignalBarNeverAdvancesItsOwnPosition(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// Same open time as the signal bar; a range that would hit the stop.
	tr.OnBarClose("BTCUSDT", barAt(0, 103, 97, 99))

	pos, ok := tr.OpenPosition("BTCUSDT")
	if !ok {
		t.Fatal("position should survive its own signal bar")
	}
	if pos.Status != StatusOpen || pos.BarsHeld != 0 {
		t.Errorf("expected untouched OPEN position, got %s after %d bars", pos.Status, pos.BarsHeld)
	}
}

func TestTimeStopOnStalledPosition(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// Six bars that never reach 0.5R of favorable excursion.
	for i := 1; i <= 6; i++ {
		tr.OnBarClose("BTCUSDT", barAt(i, 100.6, 99.2, 99.8))
	}

	closed := tr.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("expected a time stop after 6 stalled bars, have %d closed", len(closed))
	}
	if closed[0].Status != StatusClosedTime {
		t.Errorf("expected CLOSED_TIME, got %s", closed[0].Status)
	}
	if closed[0].BarsHeld != 6 {
		t.Errorf("expected 6 bars held, got %d", closed[0].BarsHeld)
	}
	if closed[0].ExitPrice != 99.8 {
		t.Errorf("expected exit at the closing bar's close, got %v", closed[0].ExitPrice)
	}
}

func TestTimeStopOnMaxBarsHeld(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// Favorable excursion past 0.5R on the first bar keeps the stalled
	// rule quiet, so only the hard cap can fire.
	tr.OnBarClose("BTCUSDT", barAt(1, 100.4, 98.9, 99.5))
	for i := 2; i <= 8; i++ {
		tr.OnBarClose("BTCUSDT", barAt(i, 100.4, 99.2, 99.8))
	}

	closed := tr.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("expected a time stop at the bar cap, have %d closed", len(closed))
	}
	if closed[0].Status != StatusClosedTime {
		t.Errorf("expected CLOSED_TIME, got %s", closed[0].Status)
	}
	if closed[0].BarsHeld != 8 {
		t.Errorf("expected 8 bars held, got %d", closed[0].BarsHeld)
	}
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	_, err := tr.Open(shortPlan("BTCUSDT"), "BTC", 7.5, barAt(1, 100, 100, 100))
	if !errors.Is(err, ErrPositionExists) {
		t.Errorf("expected ErrPositionExists, got %v", err)
	}
}

func TestOpenEnforcesClusterCap(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "MAJORS", 0)
	mustOpen(t, tr, shortPlan("ETHUSDT"), "MAJORS", 0)

	_, err := tr.Open(shortPlan("SOLUSDT"), "MAJORS", 7.5, barAt(0, 100, 100, 100))
	if !errors.Is(err, ErrClusterCapFull) {
		t.Errorf("expected ErrClusterCapFull, got %v", err)
	}
	if tr.OpenInCluster("MAJORS") != 2 {
		t.Errorf("expected 2 open in cluster, got %d", tr.OpenInCluster("MAJORS"))
	}

	// A different cluster still has room.
	if _, err := tr.Open(shortPlan("DOGEUSDT"), "MEMES", 7.5, barAt(0, 100, 100, 100)); err != nil {
		t.Errorf("unrelated cluster should admit: %v", err)
	}
}

func TestUnclusteredPositionsShareNoCap(t *testing.T) {
	tr := newTestTracker()

	// Unclustered symbols are mutually uncorrelated; admitting two must
	// not lock out the rest of the universe.
	for _, sym := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		if _, err := tr.Open(shortPlan(sym), cluster.Unclustered, 7.5, barAt(0, 100, 100, 100)); err != nil {
			t.Fatalf("unclustered %s should always admit: %v", sym, err)
		}
	}

	if n := tr.OpenInCluster(cluster.Unclustered); n != 0 {
		t.Errorf("unclustered sentinel should report zero exposure, got %d", n)
	}

	// A real cluster still enforces the cap alongside them.
	mustOpen(t, tr, shortPlan("XXXUSDT"), "MAJORS", 0)
	mustOpen(t, tr, shortPlan("YYYUSDT"), "MAJORS", 0)
	if _, err := tr.Open(shortPlan("ZZZUSDT"), "MAJORS", 7.5, barAt(0, 100, 100, 100)); !errors.Is(err, ErrClusterCapFull) {
		t.Errorf("expected ErrClusterCapFull for the full cluster, got %v", err)
	}
}

func TestCooldownAfterClose(t *testing.T) {
	tr := newTestTracker()
	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)

	// Stop out on bar 2.
	tr.OnBarClose("BTCUSDT", barAt(2, 102.5, 99.5, 101))

	if !tr.InCooldown("BTCUSDT", baseTime+3*barMS) {
		t.Error("expected cooldown one bar after the close")
	}
	_, err := tr.Open(shortPlan("BTCUSDT"), "BTC", 7.5, barAt(3, 100, 100, 100))
	if !errors.Is(err, ErrInCooldown) {
		t.Errorf("expected ErrInCooldown, got %v", err)
	}

	// Three full bars later the symbol is admissible again.
	if tr.InCooldown("BTCUSDT", baseTime+5*barMS) {
		t.Error("cooldown should have expired after 3 bars")
	}
	if _, err := tr.Open(shortPlan("BTCUSDT"), "BTC", 7.5, barAt(5, 100, 100, 100)); err != nil {
		t.Errorf("expected re-entry after cooldown: %v", err)
	}

	// The cluster slot freed by the close is usable again.
	if tr.OpenInCluster("BTC") != 1 {
		t.Errorf("expected 1 open in cluster after re-entry, got %d", tr.OpenInCluster("BTC"))
	}
}

func TestStatsAggregation(t *testing.T) {
	tr := newTestTracker()

	mustOpen(t, tr, shortPlan("BTCUSDT"), "BTC", 0)
	tr.OnBarClose("BTCUSDT", barAt(1, 100.5, 94.5, 95.5)) // full target ladder in one bar

	mustOpen(t, tr, shortPlan("ETHUSDT"), "ETH", 0)
	tr.OnBarClose("ETHUSDT", barAt(1, 102.5, 99.5, 101)) // stop out

	stats := tr.Stats()
	if stats.Closed != 2 {
		t.Fatalf("expected 2 closed, got %d", stats.Closed)
	}
	if stats.Wins != 1 || stats.Losses != 1 {
		t.Errorf("expected 1 win / 1 loss, got %d / %d", stats.Wins, stats.Losses)
	}
	if stats.WinRate != 50 {
		t.Errorf("expected 50%% win rate, got %v", stats.WinRate)
	}
	if stats.BestPnLPct <= 0 || stats.WorstPnLPct >= 0 {
		t.Errorf("expected positive best and negative worst, got %v / %v", stats.BestPnLPct, stats.WorstPnLPct)
	}
}

func TestRestoreRebuildsClusterCounters(t *testing.T) {
	tr := newTestTracker()
	tr.Restore([]Position{
		{ID: "a", Symbol: "BTCUSDT", Direction: pattern.DirectionShort, ClusterID: "BTC",
			Entry: 100, Stop: 102, Target1: 98, Target2: 95, RiskR: 2, Status: StatusOpen, OpenedAtBar: baseTime},
		{ID: "b", Symbol: "AAAUSDT", Direction: pattern.DirectionShort, ClusterID: cluster.Unclustered,
			Entry: 100, Stop: 102, Target1: 98, Target2: 95, RiskR: 2, Status: StatusOpen, OpenedAtBar: baseTime},
	}, nil)

	if !tr.HasOpen("BTCUSDT") {
		t.Error("restored position should be live")
	}
	if tr.OpenInCluster("BTC") != 1 {
		t.Errorf("expected cluster counter rebuilt to 1, got %d", tr.OpenInCluster("BTC"))
	}
	if tr.OpenInCluster(cluster.Unclustered) != 0 {
		t.Error("restored unclustered position should not count as exposure")
	}

	// The restored position still advances on bars.
	tr.OnBarClose("BTCUSDT", barAt(1, 102.5, 99.5, 101))
	if tr.HasOpen("BTCUSDT") {
		t.Error("restored position should close on a stop touch")
	}
}
