package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/indicator"
	"liqsweep-bot/internal/market"
)

// Unclustered is the cluster id for symbols correlated with nothing.
const Unclustered = "UNCLUSTERED"

// Assignment is one symbol's cluster membership after a rebuild.
type Assignment struct {
	Symbol      string
	ClusterID   string
	Leader      string  // empty for linkage-derived clusters
	Correlation float64 // correlation to the leader, 0 for linkage clusters
}

// Clusterer partitions the symbol universe into correlation clusters.
// Leader symbols each anchor a cluster; non-leader symbols attach to
// their most-correlated leader above the threshold. Symbols left over
// are merged pairwise via average linkage so mutually correlated
// groups without a leader still share exposure accounting.
//
// The assignment table is rebuilt wholesale on a timer and read-only
// between rebuilds.
type Clusterer struct {
	cfg    config.ClusterConfig
	store  *market.Store
	logger zerolog.Logger

	mu          sync.RWMutex
	assignments map[string]Assignment
	rebuiltAt   time.Time
	onRebuilt   func(clusters, symbols int)

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewClusterer creates a correlation clusterer
func NewClusterer(cfg config.ClusterConfig, store *market.Store, logger zerolog.Logger) *Clusterer {
	return &Clusterer{
		cfg:         cfg,
		store:       store,
		logger:      logger.With().Str("component", "clusterer").Logger(),
		assignments: make(map[string]Assignment),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start launches the periodic rebuild loop.
func (c *Clusterer) Start(ctx context.Context) {
	go c.runRebuildLoop(ctx)
}

// Stop terminates the rebuild loop and waits for it to exit.
func (c *Clusterer) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Clusterer) runRebuildLoop(ctx context.Context) {
	defer close(c.doneChan)

	c.Rebuild(c.store.Candles.Symbols())

	ticker := time.NewTicker(time.Duration(c.cfg.RecalcMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.Rebuild(c.store.Candles.Symbols())
		}
	}
}

// ClusterOf returns the symbol's cluster id. Symbols never seen by a
// rebuild are unclustered.
func (c *Clusterer) ClusterOf(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.assignments[symbol]; ok {
		return a.ClusterID
	}
	return Unclustered
}

// LeaderOf returns the leader symbol anchoring the symbol's cluster,
// or empty when the cluster has no leader.
func (c *Clusterer) LeaderOf(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assignments[symbol].Leader
}

// Assignments returns a snapshot of the current table.
func (c *Clusterer) Assignments() []Assignment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Assignment, 0, len(c.assignments))
	for _, a := range c.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Rebuild recomputes every assignment from current return series. The
// table is replaced in one step, never patched, so two rebuilds over
// identical history produce identical clusters.
func (c *Clusterer) Rebuild(symbols []string) {
	returns := c.collectReturns(symbols)

	fresh := make(map[string]Assignment, len(symbols))

	leaderSet := make(map[string]bool, len(c.cfg.Leaders))
	for _, l := range c.cfg.Leaders {
		leaderSet[l] = true
		if _, ok := returns[l]; ok {
			fresh[l] = Assignment{Symbol: l, ClusterID: l, Leader: l, Correlation: 1}
		}
	}

	// Pass 1: attach each non-leader to its most correlated leader.
	var leftover []string
	sorted := make([]string, 0, len(returns))
	for s := range returns {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	for _, sym := range sorted {
		if leaderSet[sym] {
			continue
		}

		bestLeader := ""
		bestCorr := 0.0
		for _, leader := range c.cfg.Leaders {
			lr, ok := returns[leader]
			if !ok {
				continue
			}
			corr := indicator.Correlation(returns[sym], lr)
			if corr > bestCorr {
				bestCorr = corr
				bestLeader = leader
			}
		}

		if bestLeader != "" && bestCorr >= c.cfg.CorrelationThreshold {
			fresh[sym] = Assignment{Symbol: sym, ClusterID: bestLeader, Leader: bestLeader, Correlation: bestCorr}
		} else {
			leftover = append(leftover, sym)
		}
	}

	// Pass 2: average linkage over the leftovers catches leaderless but
	// mutually correlated groups.
	for _, group := range c.linkLeftovers(leftover, returns) {
		if len(group) == 1 {
			fresh[group[0]] = Assignment{Symbol: group[0], ClusterID: Unclustered}
			continue
		}
		id := "LINK-" + group[0]
		for _, sym := range group {
			fresh[sym] = Assignment{Symbol: sym, ClusterID: id}
		}
	}

	c.mu.Lock()
	c.assignments = fresh
	c.rebuiltAt = time.Now()
	c.mu.Unlock()

	ids := make(map[string]bool)
	for _, a := range fresh {
		if a.ClusterID != Unclustered {
			ids[a.ClusterID] = true
		}
	}

	c.logger.Info().
		Int("symbols", len(fresh)).
		Int("clusters", len(ids)).
		Int("leftover", len(leftover)).
		Msg("cluster table rebuilt")

	if c.onRebuilt != nil {
		c.onRebuilt(len(ids), len(fresh))
	}
}

// OnRebuilt registers a callback invoked after every rebuild with the
// distinct cluster count and the number of symbols assigned. Register
// before Start.
func (c *Clusterer) OnRebuilt(h func(clusters, symbols int)) {
	c.onRebuilt = h
}

// collectReturns builds equal-length close-to-close return series for
// every symbol with enough history.
func (c *Clusterer) collectReturns(symbols []string) map[string][]float64 {
	window := c.cfg.ReturnWindowBars
	out := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		candles := c.store.Candles.LastN(sym, window+1)
		if len(candles) < window+1 {
			continue
		}
		out[sym] = indicator.Returns(candles)
	}
	return out
}

// linkLeftovers runs agglomerative average linkage on 1-|corr|
// distance, merging until no pair of groups sits closer than the
// threshold distance. Iteration order is fixed by the sorted input so
// the result is deterministic.
func (c *Clusterer) linkLeftovers(symbols []string, returns map[string][]float64) [][]string {
	sort.Strings(symbols)

	groups := make([][]string, 0, len(symbols))
	for _, s := range symbols {
		groups = append(groups, []string{s})
	}

	maxDist := 1 - c.cfg.CorrelationThreshold

	dist := func(a, b string) float64 {
		corr := indicator.Correlation(returns[a], returns[b])
		if corr < 0 {
			corr = -corr
		}
		return 1 - corr
	}

	groupDist := func(ga, gb []string) float64 {
		sum := 0.0
		for _, a := range ga {
			for _, b := range gb {
				sum += dist(a, b)
			}
		}
		return sum / float64(len(ga)*len(gb))
	}

	for {
		bestI, bestJ := -1, -1
		bestD := maxDist
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				if d := groupDist(groups[i], groups[j]); d < bestD {
					bestD = d
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break
		}

		merged := append(append([]string{}, groups[bestI]...), groups[bestJ]...)
		sort.Strings(merged)
		groups = append(groups[:bestJ], groups[bestJ+1:]...)
		groups[bestI] = merged
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// String implements fmt.Stringer for log convenience.
func (a Assignment) String() string {
	if a.Leader != "" {
		return fmt.Sprintf("%s->%s(%.2f)", a.Symbol, a.ClusterID, a.Correlation)
	}
	return fmt.Sprintf("%s->%s", a.Symbol, a.ClusterID)
}
