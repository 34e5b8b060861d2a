package scoring

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
	"liqsweep-bot/internal/tracker"
)

// Reject reasons reported on scored-but-refused candidates.
const (
	RejectOpenPosition = "open_position"
	RejectCooldown     = "cooldown"
	RejectRRGate       = "rr_below_minimum"
	RejectClusterCap   = "cluster_cap"
	RejectLowScore     = "score_below_minimum"
)

// Signal is the scored verdict for one candidate. Immutable once
// emitted.
type Signal struct {
	ID        string
	Symbol    string
	Direction pattern.Direction
	ClusterID string

	Score        float64
	ZoneScore    float64
	RewardToRisk float64

	Accepted     bool
	RejectReason string

	Plan      planner.Plan
	Candidate pattern.Candidate

	CreatedAt time.Time
}

// Scorer combines pattern margins, zone quality and cluster exposure
// into a composite 0-10 score, then applies the hard gates: one open
// position per symbol, post-close cooldown, minimum reward-to-risk,
// cluster position cap and the minimum score floor.
type Scorer struct {
	cfg        config.ScoringConfig
	strategy   config.StrategyConfig
	clusterCfg config.ClusterConfig
	clusters   *cluster.Clusterer
	positions  *tracker.Tracker
	logger     zerolog.Logger
}

// NewScorer creates a signal scorer
func NewScorer(cfg *config.Config, clusters *cluster.Clusterer, positions *tracker.Tracker, logger zerolog.Logger) *Scorer {
	return &Scorer{
		cfg:        cfg.ScoringConfig,
		strategy:   cfg.StrategyConfig,
		clusterCfg: cfg.ClusterConfig,
		clusters:   clusters,
		positions:  positions,
		logger:     logger.With().Str("component", "scorer").Logger(),
	}
}

// Score produces the final verdict for a candidate and its plan. Gates
// are checked cheapest-first; a gated candidate still carries its
// composite score for reporting.
func (s *Scorer) Score(cand *pattern.Candidate, plan planner.Plan) Signal {
	clusterID := s.clusters.ClusterOf(cand.Symbol)

	zoneScore := 0.0
	if plan.HasTargetZone {
		zoneScore = plan.TargetZone.Score
	}

	sig := Signal{
		ID:           uuid.NewString(),
		Symbol:       cand.Symbol,
		Direction:    cand.Direction,
		ClusterID:    clusterID,
		ZoneScore:    zoneScore,
		RewardToRisk: plan.RewardToRisk,
		Plan:         plan,
		Candidate:    *cand,
		CreatedAt:    time.Now(),
	}

	sig.Score = s.composite(cand, zoneScore, clusterID)

	switch {
	case s.positions.HasOpen(cand.Symbol):
		sig.RejectReason = RejectOpenPosition
	case s.positions.InCooldown(cand.Symbol, cand.Bar.OpenTime):
		sig.RejectReason = RejectCooldown
	case plan.RewardToRisk < s.strategy.MinRRToZone:
		sig.RejectReason = RejectRRGate
	case s.positions.OpenInCluster(clusterID) >= s.clusterCfg.MaxPositions:
		sig.RejectReason = RejectClusterCap
	case sig.Score < s.cfg.MinScore:
		sig.RejectReason = RejectLowScore
	default:
		sig.Accepted = true
	}

	evt := s.logger.Info()
	if !sig.Accepted {
		evt = s.logger.Debug()
	}
	evt.Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Str("cluster", clusterID).
		Float64("score", sig.Score).
		Float64("rr", sig.RewardToRisk).
		Bool("accepted", sig.Accepted).
		Str("reject_reason", sig.RejectReason).
		Msg("candidate scored")

	return sig
}

// composite blends the weighted condition margins with zone quality,
// then subtracts the exposure penalties. Result clamped to [0, 10].
func (s *Scorer) composite(cand *pattern.Candidate, zoneScore float64, clusterID string) float64 {
	strength := s.cfg.SweepWeight*cand.SweepMargin +
		s.cfg.WickWeight*cand.WickMargin +
		s.cfg.LiquidationWeight*cand.LiqScore/10 +
		s.cfg.OIWeight*s.oiMargin(cand.OIDeltaPercent) +
		s.cfg.VolumeWeight*cand.VolumeMargin

	score := 10 * strength
	if zoneScore > 0 {
		score = (1-s.cfg.ZoneQualityWeight)*score + s.cfg.ZoneQualityWeight*zoneScore
	}

	score -= s.cfg.ClusterPenalty * float64(s.positions.OpenInCluster(clusterID))

	if s.leaderOpposes(cand, clusterID) {
		score -= s.cfg.LeaderGatePenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}

// oiMargin maps the contraction depth onto [0, 1] across the accepted
// band: a drop at the shallow edge scores 0, at the deep edge 1.
func (s *Scorer) oiMargin(delta float64) float64 {
	shallow := s.strategy.OIDeltaMinPercent
	deep := s.strategy.OIDeltaMaxPercent
	if deep >= shallow {
		return 1
	}
	m := (delta - shallow) / (deep - shallow)
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// leaderOpposes reports whether the cluster's leader currently holds an
// open position in the opposite direction. Fading a move the dominant
// correlated instrument is already trading against is penalized.
func (s *Scorer) leaderOpposes(cand *pattern.Candidate, clusterID string) bool {
	leader := s.clusters.LeaderOf(cand.Symbol)
	if leader == "" || leader == cand.Symbol {
		return false
	}
	pos, ok := s.positions.OpenPosition(leader)
	if !ok {
		return false
	}
	return pos.Direction != cand.Direction
}
