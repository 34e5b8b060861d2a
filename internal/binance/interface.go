package binance

import "context"

// KlineHandler receives closed klines from the stream
type KlineHandler func(Kline)

// LiquidationHandler receives forced orders from the stream
type LiquidationHandler func(LiquidationEvent)

// DataProvider defines the market data operations the engine consumes.
// Exactly one implementation is selected at startup (mock or live); call
// sites never branch on the mode.
type DataProvider interface {
	// Start begins streaming. Handlers must be registered before Start.
	Start(ctx context.Context, symbols []string) error
	Stop()

	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)
	Get24hTickers(ctx context.Context) ([]Ticker24hr, error)
	GetPerpSymbols(ctx context.Context) ([]string, error)

	OnKlineClosed(handler KlineHandler)
	OnLiquidation(handler LiquidationHandler)
}

// Ensure both implementations satisfy DataProvider
var _ DataProvider = (*Client)(nil)
var _ DataProvider = (*MockClient)(nil)
