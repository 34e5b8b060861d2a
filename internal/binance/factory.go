package binance

import (
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
)

// NewDataProvider selects the mock or live provider once at startup based
// on configuration. The bar interval drives both the stream subscriptions
// and the simulated clock. Callers hold only the DataProvider interface.
func NewDataProvider(cfg config.BinanceConfig, interval string, logger zerolog.Logger) DataProvider {
	if cfg.MockMode {
		return NewMockClient(cfg, interval, logger)
	}
	return NewClient(cfg, interval, logger)
}
