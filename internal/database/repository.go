package database

import (
	"context"
	"fmt"
	"time"

	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/scoring"
	"liqsweep-bot/internal/tracker"
)

// Repository provides persistence for signals and positions. Writes are
// best-effort from the engine's point of view: a failed insert is
// logged, never blocks bar processing.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the connection pool
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveSignal records a scored candidate, accepted or rejected.
func (r *Repository) SaveSignal(ctx context.Context, sig scoring.Signal) error {
	query := `
		INSERT INTO signals (
			id, symbol, direction, cluster_id, score, zone_score,
			reward_to_risk, accepted, reject_reason,
			entry_price, stop_price, target1_price, target2_price,
			sweep_atr, wick_body_ratio, oi_delta_percent, bar_open_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.Pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Direction), sig.ClusterID, sig.Score, sig.ZoneScore,
		sig.RewardToRisk, sig.Accepted, sig.RejectReason,
		sig.Plan.Entry, sig.Plan.Stop, sig.Plan.Target1, sig.Plan.Target2,
		sig.Candidate.SweepATR, sig.Candidate.WickBodyRatio, sig.Candidate.OIDeltaPercent,
		sig.Candidate.Bar.OpenTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// SavePosition inserts a freshly opened position.
func (r *Repository) SavePosition(ctx context.Context, pos tracker.Position) error {
	query := `
		INSERT INTO positions (
			id, symbol, direction, cluster_id,
			entry_price, stop_price, target1_price, target2_price,
			score, status, opened_at_bar, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Pool.Exec(ctx, query,
		pos.ID, pos.Symbol, string(pos.Direction), pos.ClusterID,
		pos.Entry, pos.Stop, pos.Target1, pos.Target2,
		pos.Score, string(pos.Status), pos.OpenedAtBar, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// UpdatePosition writes the current lifecycle state of a position.
func (r *Repository) UpdatePosition(ctx context.Context, pos tracker.Position) error {
	query := `
		UPDATE positions
		SET status = $2, bars_held = $3, exit_price = $4, pnl_percent = $5, closed_at = $6
		WHERE id = $1`

	var closedAt *time.Time
	if pos.Status.Terminal() {
		closedAt = &pos.ClosedAt
	}

	_, err := r.db.Pool.Exec(ctx, query,
		pos.ID, string(pos.Status), pos.BarsHeld, pos.ExitPrice, pos.PnLPercent, closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	return nil
}

// LoadOpenPositions returns all non-terminal positions, used to restore
// the tracker after a restart.
func (r *Repository) LoadOpenPositions(ctx context.Context) ([]tracker.Position, error) {
	query := `
		SELECT id, symbol, direction, cluster_id,
			entry_price, stop_price, target1_price, target2_price,
			score, status, opened_at_bar, bars_held, opened_at
		FROM positions
		WHERE status IN ('OPEN', 'PARTIAL')
		ORDER BY opened_at`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []tracker.Position
	for rows.Next() {
		var pos tracker.Position
		var direction, status string
		if err := rows.Scan(
			&pos.ID, &pos.Symbol, &direction, &pos.ClusterID,
			&pos.Entry, &pos.Stop, &pos.Target1, &pos.Target2,
			&pos.Score, &status, &pos.OpenedAtBar, &pos.BarsHeld, &pos.OpenedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.Direction = pattern.Direction(direction)
		pos.Status = tracker.Status(status)
		pos.RiskR = abs(pos.Entry - pos.Stop)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// BumpDailyStats upserts the day's aggregate counters.
func (r *Repository) BumpDailyStats(ctx context.Context, signals, accepted, closed, wins int, pnlPercent float64) error {
	query := `
		INSERT INTO daily_stats (day, signals_total, signals_accepted, positions_closed, wins, total_pnl_percent)
		VALUES (CURRENT_DATE, $1, $2, $3, $4, $5)
		ON CONFLICT (day) DO UPDATE SET
			signals_total = daily_stats.signals_total + EXCLUDED.signals_total,
			signals_accepted = daily_stats.signals_accepted + EXCLUDED.signals_accepted,
			positions_closed = daily_stats.positions_closed + EXCLUDED.positions_closed,
			wins = daily_stats.wins + EXCLUDED.wins,
			total_pnl_percent = daily_stats.total_pnl_percent + EXCLUDED.total_pnl_percent,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Pool.Exec(ctx, query, signals, accepted, closed, wins, pnlPercent)
	if err != nil {
		return fmt.Errorf("failed to bump daily stats: %w", err)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
