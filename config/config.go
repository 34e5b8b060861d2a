package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	StrategyConfig     StrategyConfig     `json:"strategy"`
	ClusterConfig      ClusterConfig      `json:"cluster"`
	ScoringConfig      ScoringConfig      `json:"scoring"`
	UniverseConfig     UniverseConfig     `json:"universe"`
	EngineConfig       EngineConfig       `json:"engine"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	KafkaConfig        KafkaConfig        `json:"kafka"`
	NotificationConfig NotificationConfig `json:"notification"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BinanceConfig holds futures market data endpoints and the REST weight budget
type BinanceConfig struct {
	RestBaseURL         string  `json:"rest_base_url"`
	WSBaseURL           string  `json:"ws_base_url"`
	MockMode            bool    `json:"mock_mode"` // Use simulated data instead of live streams
	MockSeed            int64   `json:"mock_seed"`
	WeightPerMinute     int     `json:"weight_per_minute"`
	PauseThreshold      float64 `json:"pause_threshold"` // Fraction of weight budget before low-priority pause
	RestTimeoutSeconds  int     `json:"rest_timeout_seconds"`
	WSReconnectDelaySec int     `json:"ws_reconnect_delay_seconds"`
	WSReconnectMaxSec   int     `json:"ws_reconnect_max_delay_seconds"`
	WSMaxStreamsPerConn int     `json:"ws_max_streams_per_connection"`
}

// StrategyConfig holds all LSFP-15 detection and position thresholds
type StrategyConfig struct {
	ATRPeriod int `json:"atr_period"`

	SweepMinATR       float64 `json:"sweep_min_atr"`        // Minimum sweep excursion as ATR ratio
	SweepMinATRStrict float64 `json:"sweep_min_atr_strict"` // Strict-mode threshold
	SweepLookbackBars int     `json:"sweep_lookback_bars"`

	WickBodyRatio float64 `json:"wick_body_ratio"`

	LiqPercentile     int     `json:"liq_percentile"`     // Percentile a 4m window must reach
	LiqWindowMinutes  int     `json:"liq_window_minutes"` // Bucket width
	LiqHistoryDays    int     `json:"liq_history_days"`   // Rolling horizon for percentile series
	LiqMinBuckets     int     `json:"liq_min_buckets"`    // Below this the cold-start fallback applies
	LiqFallbackMinUSD float64 `json:"liq_fallback_min_usd"`

	OIDeltaMinPercent   float64 `json:"oi_delta_min_percent"` // Delta must be at or below this (negative)
	OIDeltaMaxPercent   float64 `json:"oi_delta_max_percent"`
	OIDeltaIntervalBars int     `json:"oi_delta_interval_bars"` // 5m samples per 15m bar
	OISampleMinutes     int     `json:"oi_sample_minutes"`

	VolumePercentile   int `json:"volume_percentile"`
	VolumeLookbackBars int `json:"volume_lookback_bars"`

	DonchianPeriod int `json:"donchian_period"`

	EntryRetracementMin float64 `json:"entry_retracement_min"`
	EntryRetracementMax float64 `json:"entry_retracement_max"`

	SLATRMin     float64 `json:"sl_atr_min"`
	SLATRMax     float64 `json:"sl_atr_max"`
	SLMaxPercent float64 `json:"sl_max_percent"`

	TP1R          float64 `json:"tp1_r"`
	TP1Percent    float64 `json:"tp1_percent"`
	TP2MinPercent float64 `json:"tp2_min_percent"`
	TP2MaxPercent float64 `json:"tp2_max_percent"`
	TP2RMin       float64 `json:"tp2_r_min"`
	TP2RMax       float64 `json:"tp2_r_max"`

	TimeStopBars    int     `json:"time_stop_bars"`
	TimeStopBarsMax int     `json:"time_stop_bars_max"`
	TimeStopMinR    float64 `json:"time_stop_min_r"`

	CooldownBars int     `json:"cooldown_bars"`
	MinRRToZone  float64 `json:"min_rr_to_zone"`

	ZoneWidthATRMultiplier float64 `json:"zone_width_atr_multiplier"`
	ZoneMaxCount           int     `json:"zone_max_count"`
	ZoneDecayDays          int     `json:"zone_decay_days"`
	ZoneDecayScore         float64 `json:"zone_decay_score"`
	SwingLookback          int     `json:"swing_lookback"`
}

// ClusterConfig holds correlation clustering parameters
type ClusterConfig struct {
	Leaders              []string `json:"leaders"`
	LookbackDays         int      `json:"lookback_days"`
	ReturnWindowBars     int      `json:"return_window_bars"`
	CorrelationThreshold float64  `json:"correlation_threshold"`
	MaxPositions         int      `json:"max_positions"` // Hard open-position cap per cluster
	RecalcMinutes        int      `json:"recalc_minutes"`
}

// ScoringConfig holds composite score weights and penalties. Weights
// apply to normalized 0-1 condition margins and must sum to 1.
type ScoringConfig struct {
	SweepWeight       float64 `json:"sweep_weight"`
	WickWeight        float64 `json:"wick_weight"`
	LiquidationWeight float64 `json:"liquidation_weight"`
	OIWeight          float64 `json:"oi_weight"`
	VolumeWeight      float64 `json:"volume_weight"`

	ZoneQualityWeight float64 `json:"zone_quality_weight"` // Blend of zone score into the composite
	ClusterPenalty    float64 `json:"cluster_penalty"`     // Per open position in the same cluster
	LeaderGatePenalty float64 `json:"leader_gate_penalty"` // Leader holds an opposite open position
	MinScore          float64 `json:"min_score"`           // Composite floor on a 0-10 scale
}

// UniverseConfig holds liquidity filtering and symbol pool parameters
type UniverseConfig struct {
	Min24hVolumeUSD float64 `json:"min_24h_volume_usd"`
	Max24hVolumeUSD float64 `json:"max_24h_volume_usd"`
	MinOIUSD        float64 `json:"min_oi_usd"`
	MaxOIUSD        float64 `json:"max_oi_usd"`
	HotPoolSize     int     `json:"hot_pool_size"`
	ColdPoolSize    int     `json:"cold_pool_size"`
	UpdateMinutes   int     `json:"update_minutes"`
}

// EngineConfig holds bar processing parameters
type EngineConfig struct {
	Interval            string `json:"interval"`
	SettleDelaySeconds  int    `json:"settle_delay_seconds"`  // Wait after bar close before evaluating
	SettleWindowSeconds int    `json:"settle_window_seconds"` // Evaluations missing this window are skipped
	WorkerCount         int    `json:"worker_count"`
	CandleHistory       int    `json:"candle_history"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	Database        string `json:"database"`
	SSLMode         string `json:"ssl_mode"`
	Enabled         bool   `json:"enabled"`
	SyncIntervalMin int    `json:"sync_interval_minutes"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig holds the optional accepted-signal publisher settings
type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// Default returns a config populated with the strategy's standard thresholds
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			RestBaseURL:         "https://fapi.binance.com",
			WSBaseURL:           "wss://fstream.binance.com",
			MockMode:            true,
			MockSeed:            42,
			WeightPerMinute:     2400,
			PauseThreshold:      0.90,
			RestTimeoutSeconds:  10,
			WSReconnectDelaySec: 5,
			WSReconnectMaxSec:   60,
			WSMaxStreamsPerConn: 900,
		},
		StrategyConfig: StrategyConfig{
			ATRPeriod:              14,
			SweepMinATR:            0.05,
			SweepMinATRStrict:      0.30,
			SweepLookbackBars:      20,
			WickBodyRatio:          0.5,
			LiqPercentile:          95,
			LiqWindowMinutes:       4,
			LiqHistoryDays:         30,
			LiqMinBuckets:          200,
			LiqFallbackMinUSD:      100_000,
			OIDeltaMinPercent:      -0.5,
			OIDeltaMaxPercent:      -3.0,
			OIDeltaIntervalBars:    3,
			OISampleMinutes:        5,
			VolumePercentile:       90,
			VolumeLookbackBars:     50,
			DonchianPeriod:         20,
			EntryRetracementMin:    0.50,
			EntryRetracementMax:    0.62,
			SLATRMin:               0.15,
			SLATRMax:               0.25,
			SLMaxPercent:           2.0,
			TP1R:                   1.0,
			TP1Percent:             2.0,
			TP2MinPercent:          3.0,
			TP2MaxPercent:          5.0,
			TP2RMin:                2.0,
			TP2RMax:                3.0,
			TimeStopBars:           6,
			TimeStopBarsMax:        8,
			TimeStopMinR:           0.5,
			CooldownBars:           3,
			MinRRToZone:            1.5,
			ZoneWidthATRMultiplier: 0.25,
			ZoneMaxCount:           30,
			ZoneDecayDays:          14,
			ZoneDecayScore:         0.5,
			SwingLookback:          10,
		},
		ClusterConfig: ClusterConfig{
			Leaders: []string{
				"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "TONUSDT",
				"XRPUSDT", "DOGEUSDT", "ADAUSDT", "AVAXUSDT", "DOTUSDT",
			},
			LookbackDays:         30,
			ReturnWindowBars:     50,
			CorrelationThreshold: 0.7,
			MaxPositions:         2,
			RecalcMinutes:        60,
		},
		ScoringConfig: ScoringConfig{
			SweepWeight:       0.25,
			WickWeight:        0.20,
			LiquidationWeight: 0.25,
			OIWeight:          0.20,
			VolumeWeight:      0.10,
			ZoneQualityWeight: 0.30,
			ClusterPenalty:    1.0,
			LeaderGatePenalty: 2.0,
			MinScore:          5.0,
		},
		UniverseConfig: UniverseConfig{
			Min24hVolumeUSD: 10_000_000,
			Max24hVolumeUSD: 1_000_000_000,
			MinOIUSD:        2_000_000,
			MaxOIUSD:        5_000_000_000,
			HotPoolSize:     400,
			ColdPoolSize:    600,
			UpdateMinutes:   15,
		},
		EngineConfig: EngineConfig{
			Interval:            "15m",
			SettleDelaySeconds:  10,
			SettleWindowSeconds: 60,
			WorkerCount:         8,
			CandleHistory:       200,
		},
		DatabaseConfig: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "liqsweep",
			Database:        "liqsweep",
			SSLMode:         "disable",
			SyncIntervalMin: 5,
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		KafkaConfig: KafkaConfig{
			Topic: "lsfp.signals",
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Load reads config.json if present, then applies environment overrides
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.RestBaseURL = getEnvOrDefault("BINANCE_REST_URL", cfg.BinanceConfig.RestBaseURL)
	cfg.BinanceConfig.WSBaseURL = getEnvOrDefault("BINANCE_WS_URL", cfg.BinanceConfig.WSBaseURL)
	if v, ok := os.LookupEnv("MOCK_MODE"); ok {
		cfg.BinanceConfig.MockMode = v == "true"
	}

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	if v, ok := os.LookupEnv("DB_ENABLED"); ok {
		cfg.DatabaseConfig.Enabled = v == "true"
	}

	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	if v, ok := os.LookupEnv("REDIS_ENABLED"); ok {
		cfg.RedisConfig.Enabled = v == "true"
	}

	if v, ok := os.LookupEnv("KAFKA_ENABLED"); ok {
		cfg.KafkaConfig.Enabled = v == "true"
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		cfg.KafkaConfig.Brokers = []string{v}
	}

	if v, ok := os.LookupEnv("NOTIFICATIONS_ENABLED"); ok {
		cfg.NotificationConfig.Enabled = v == "true"
	}
	if v, ok := os.LookupEnv("TELEGRAM_ENABLED"); ok {
		cfg.NotificationConfig.Telegram.Enabled = v == "true"
	}
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	if v, ok := os.LookupEnv("LOG_JSON"); ok {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}
}

// Validate rejects out-of-range thresholds. Called once at startup; any
// error here is fatal before processing begins.
func (c *Config) Validate() error {
	s := c.StrategyConfig

	if s.ATRPeriod <= 0 {
		return fmt.Errorf("config: atr_period must be positive, got %d", s.ATRPeriod)
	}
	if s.SweepMinATR <= 0 {
		return fmt.Errorf("config: sweep_min_atr must be positive, got %v", s.SweepMinATR)
	}
	if s.SweepLookbackBars <= 0 {
		return fmt.Errorf("config: sweep_lookback_bars must be positive, got %d", s.SweepLookbackBars)
	}
	if s.WickBodyRatio <= 0 {
		return fmt.Errorf("config: wick_body_ratio must be positive, got %v", s.WickBodyRatio)
	}
	if s.LiqPercentile <= 0 || s.LiqPercentile >= 100 {
		return fmt.Errorf("config: liq_percentile must be in (0,100), got %d", s.LiqPercentile)
	}
	if s.VolumePercentile <= 0 || s.VolumePercentile >= 100 {
		return fmt.Errorf("config: volume_percentile must be in (0,100), got %d", s.VolumePercentile)
	}
	if s.OIDeltaMinPercent >= 0 {
		return fmt.Errorf("config: oi_delta_min_percent must be negative, got %v", s.OIDeltaMinPercent)
	}
	if s.EntryRetracementMin >= s.EntryRetracementMax {
		return fmt.Errorf("config: entry retracement band inverted: %v >= %v",
			s.EntryRetracementMin, s.EntryRetracementMax)
	}
	if s.SLATRMin > s.SLATRMax {
		return fmt.Errorf("config: sl_atr_min %v > sl_atr_max %v", s.SLATRMin, s.SLATRMax)
	}
	if s.SLMaxPercent <= 0 {
		return fmt.Errorf("config: sl_max_percent must be positive, got %v", s.SLMaxPercent)
	}
	if s.MinRRToZone <= 0 {
		return fmt.Errorf("config: min_rr_to_zone must be positive, got %v", s.MinRRToZone)
	}
	if s.TimeStopBars <= 0 || s.TimeStopBarsMax < s.TimeStopBars {
		return fmt.Errorf("config: time stop bars invalid: %d..%d", s.TimeStopBars, s.TimeStopBarsMax)
	}

	if c.ClusterConfig.MaxPositions < 1 {
		return fmt.Errorf("config: cluster max_positions must be at least 1, got %d", c.ClusterConfig.MaxPositions)
	}
	if c.ClusterConfig.CorrelationThreshold <= 0 || c.ClusterConfig.CorrelationThreshold >= 1 {
		return fmt.Errorf("config: cluster correlation_threshold must be in (0,1), got %v",
			c.ClusterConfig.CorrelationThreshold)
	}
	if len(c.ClusterConfig.Leaders) == 0 {
		return fmt.Errorf("config: cluster leaders list is empty")
	}

	sc := c.ScoringConfig
	weightSum := sc.SweepWeight + sc.WickWeight + sc.LiquidationWeight + sc.OIWeight + sc.VolumeWeight
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("config: scoring weights must sum to 1, got %v", weightSum)
	}
	if sc.MinScore < 0 || sc.MinScore > 10 {
		return fmt.Errorf("config: min_score must be in [0,10], got %v", sc.MinScore)
	}

	if c.EngineConfig.WorkerCount <= 0 {
		return fmt.Errorf("config: engine worker_count must be positive, got %d", c.EngineConfig.WorkerCount)
	}
	if c.EngineConfig.SettleDelaySeconds < 0 {
		return fmt.Errorf("config: settle_delay_seconds must not be negative, got %d", c.EngineConfig.SettleDelaySeconds)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
