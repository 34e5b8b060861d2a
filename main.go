package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/api"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/database"
	"liqsweep-bot/internal/engine"
	"liqsweep-bot/internal/events"
	"liqsweep-bot/internal/liquidation"
	"liqsweep-bot/internal/logging"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/metrics"
	"liqsweep-bot/internal/notification"
	"liqsweep-bot/internal/openinterest"
	"liqsweep-bot/internal/pattern"
	"liqsweep-bot/internal/planner"
	"liqsweep-bot/internal/publish"
	"liqsweep-bot/internal/scoring"
	"liqsweep-bot/internal/tracker"
	"liqsweep-bot/internal/universe"
	"liqsweep-bot/internal/zones"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval, err := time.ParseDuration(cfg.EngineConfig.Interval)
	if err != nil {
		logger.Fatal().Err(err).Str("interval", cfg.EngineConfig.Interval).Msg("invalid bar interval")
	}
	intervalMS := interval.Milliseconds()

	// Market data provider: mock or live, selected once here
	provider := binance.NewDataProvider(cfg.BinanceConfig, cfg.EngineConfig.Interval, logger)

	store := market.NewStore(cfg.EngineConfig.CandleHistory, 64, 4096, logger)
	liqAgg := liquidation.NewAggregator(cfg.StrategyConfig, logger)
	oiTracker := openinterest.NewTracker(cfg.StrategyConfig, store, provider, logger)
	zoneDetector := zones.NewDetector(cfg.StrategyConfig, store, logger)
	patternDetector := pattern.NewDetector(cfg.StrategyConfig, store, liqAgg, oiTracker, logger)
	clusterer := cluster.NewClusterer(cfg.ClusterConfig, store, logger)
	positionPlanner := planner.NewPlanner(cfg.StrategyConfig, store, logger)
	outcomes := tracker.NewTracker(cfg.StrategyConfig, cfg.ClusterConfig, intervalMS, logger)
	scorer := scoring.NewScorer(cfg, clusterer, outcomes, logger)
	pool := universe.New(cfg.UniverseConfig, provider, liqAgg, logger)
	bus := events.NewBus()

	pool.OnRefresh(bus.PublishUniverseUpdated)
	clusterer.OnRebuilt(bus.PublishClusterRebuilt)

	// Optional persistence
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migrations failed")
		}
		repo = database.NewRepository(db)
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
	}
	stateStore := database.NewRedisStateStore(redisClient, logger)

	var publisher *publish.SignalPublisher
	if cfg.KafkaConfig.Enabled {
		publisher, err = publish.NewSignalPublisher(cfg.KafkaConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka publisher setup failed")
		}
		defer publisher.Close()
	}

	notifier := notification.NewManager(cfg.NotificationConfig.Enabled)
	notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
		BotToken: cfg.NotificationConfig.Telegram.BotToken,
		ChatID:   cfg.NotificationConfig.Telegram.ChatID,
		Enabled:  cfg.NotificationConfig.Telegram.Enabled,
	}))

	restorePositions(ctx, outcomes, repo, stateStore, logger)

	// Position lifecycle fan-out: persistence, notifications, bus, metrics
	outcomes.OnPositionEvent(func(ev tracker.Event) {
		pos := ev.Position
		switch ev.Type {
		case tracker.EventOpened:
			if repo != nil {
				if err := repo.SavePosition(ctx, pos); err != nil {
					logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to persist position")
				}
			}
			stateStore.SavePosition(ctx, pos)

		case tracker.EventPartial:
			if repo != nil {
				if err := repo.UpdatePosition(ctx, pos); err != nil {
					logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to persist partial fill")
				}
			}
			stateStore.SavePosition(ctx, pos)
			bus.PublishPositionPartial(pos.Symbol, string(pos.Direction), pos.PartialPrice, pos.Target2)

		case tracker.EventClosed:
			if repo != nil {
				if err := repo.UpdatePosition(ctx, pos); err != nil {
					logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to persist close")
				}
				wins := 0
				if pos.PnLPercent > 0 {
					wins = 1
				}
				repo.BumpDailyStats(ctx, 0, 0, 1, wins, pos.PnLPercent)
			}
			stateStore.DeletePosition(ctx, pos.Symbol)
			metrics.PositionsClosed.WithLabelValues(string(pos.Status)).Inc()
			bus.PublishPositionClosed(pos.Symbol, string(pos.Status), ev.Reason, pos.PnLPercent, pos.BarsHeld)
			if err := notifier.SendPositionClose(pos.Symbol, string(pos.Status), ev.Reason, pos.Entry, pos.ExitPrice, pos.PnLPercent); err != nil {
				logger.Warn().Err(err).Msg("close notification failed")
			}
		}
	})

	eng := engine.New(cfg.EngineConfig, store, liqAgg, zoneDetector, patternDetector,
		positionPlanner, scorer, outcomes, pool, bus, logger)

	// Signal fan-out: persistence, kafka, notifications
	eng.AddSignalSink(func(ctx context.Context, sig scoring.Signal) {
		if repo != nil {
			if err := repo.SaveSignal(ctx, sig); err != nil {
				logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to persist signal")
			}
			accepted := 0
			if sig.Accepted {
				accepted = 1
			}
			repo.BumpDailyStats(ctx, 1, accepted, 0, 0, 0)
		}
		if !sig.Accepted {
			return
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, sig); err != nil {
				logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("kafka publish failed")
			}
		}
		if err := notifier.SendSignal(sig.Symbol, string(sig.Direction), sig.Score,
			sig.Plan.Entry, sig.Plan.Stop, sig.Plan.Target1, sig.Plan.Target2); err != nil {
			logger.Warn().Err(err).Msg("signal notification failed")
		}
	})

	// Universe first: the provider subscribes to the eligible set
	if err := pool.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("universe bootstrap failed")
	}
	defer pool.Stop()

	symbols := pool.Symbols()
	backfillHistory(ctx, provider, store, symbols, cfg, logger)

	provider.OnKlineClosed(func(k binance.Kline) {
		eng.OnBarClose(k.Symbol, k)
	})
	provider.OnLiquidation(eng.OnLiquidation)

	if err := provider.Start(ctx, symbols); err != nil {
		logger.Fatal().Err(err).Msg("data provider start failed")
	}
	defer provider.Stop()

	oiTracker.Start(ctx)
	defer oiTracker.Stop()

	clusterer.Start(ctx)
	defer clusterer.Stop()

	eng.Start(ctx)
	defer eng.Stop()

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, store, outcomes, clusterer, pool, bus, logger)
		server.Start()
	}

	logger.Info().
		Int("symbols", len(symbols)).
		Bool("mock", cfg.BinanceConfig.MockMode).
		Str("interval", cfg.EngineConfig.Interval).
		Msg("liquidation sweep engine running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api shutdown failed")
		}
	}
	cancel()
}

// restorePositions reloads open positions from the database when
// available, falling back to the redis snapshot.
func restorePositions(ctx context.Context, outcomes *tracker.Tracker, repo *database.Repository, stateStore *database.RedisStateStore, logger zerolog.Logger) {
	var open []tracker.Position
	var err error

	if repo != nil {
		open, err = repo.LoadOpenPositions(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load positions from database")
		}
	}
	if len(open) == 0 {
		open, err = stateStore.LoadPositions(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load positions from redis")
		}
	}
	if len(open) == 0 {
		return
	}

	outcomes.Restore(open, nil)
	logger.Info().Int("positions", len(open)).Msg("restored open positions")
}

// backfillHistory seeds candle history so detection has a full lookback
// from the first live bar.
func backfillHistory(ctx context.Context, provider binance.DataProvider, store *market.Store, symbols []string, cfg *config.Config, logger zerolog.Logger) {
	start := time.Now()
	loaded := 0
	for _, symbol := range symbols {
		klines, err := provider.GetKlines(ctx, symbol, cfg.EngineConfig.Interval, cfg.EngineConfig.CandleHistory)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("history backfill failed")
			continue
		}
		for _, k := range klines {
			if err := store.AddCandle(k); err != nil {
				break
			}
		}
		loaded++
	}
	logger.Info().
		Int("symbols", loaded).
		Dur("took", time.Since(start)).
		Msg("candle history backfilled")
}
