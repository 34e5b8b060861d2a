package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With().Str("component", "database").Logger()}
	db.logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Every scored candidate, accepted or rejected
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			cluster_id VARCHAR(40),
			score DECIMAL(5, 2) NOT NULL,
			zone_score DECIMAL(5, 2),
			reward_to_risk DECIMAL(10, 4),
			accepted BOOLEAN NOT NULL,
			reject_reason VARCHAR(40),
			entry_price DECIMAL(20, 8),
			stop_price DECIMAL(20, 8),
			target1_price DECIMAL(20, 8),
			target2_price DECIMAL(20, 8),
			sweep_atr DECIMAL(10, 4),
			wick_body_ratio DECIMAL(10, 4),
			oi_delta_percent DECIMAL(10, 4),
			bar_open_time BIGINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_accepted ON signals(accepted)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		// Virtual positions across their full lifecycle
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			cluster_id VARCHAR(40),
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_price DECIMAL(20, 8) NOT NULL,
			target1_price DECIMAL(20, 8) NOT NULL,
			target2_price DECIMAL(20, 8) NOT NULL,
			score DECIMAL(5, 2),
			status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
			opened_at_bar BIGINT NOT NULL,
			bars_held INT DEFAULT 0,
			exit_price DECIMAL(20, 8),
			pnl_percent DECIMAL(10, 4),
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_opened_at ON positions(opened_at)`,

		// Daily aggregates for the stats endpoint
		`CREATE TABLE IF NOT EXISTS daily_stats (
			day DATE PRIMARY KEY,
			signals_total INT NOT NULL DEFAULT 0,
			signals_accepted INT NOT NULL DEFAULT 0,
			positions_closed INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			total_pnl_percent DECIMAL(12, 4) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_positions_updated_at ON positions`,
		`CREATE TRIGGER update_positions_updated_at BEFORE UPDATE ON positions
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
