package binance

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
)

// MockClient simulates the futures data feed for development and tests.
// Prices follow a seeded random walk with occasional sweep spikes so the
// detection pipeline fires end to end without touching the network.
type MockClient struct {
	mu           sync.Mutex
	rng          *rand.Rand
	prices       map[string]float64
	oi           map[string]float64
	interval     time.Duration
	intervalName string
	logger       zerolog.Logger
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	running      bool

	klineHandlers       []KlineHandler
	liquidationHandlers []LiquidationHandler
}

var mockBasePrices = map[string]float64{
	"BTCUSDT":  104500.00,
	"ETHUSDT":  3900.00,
	"BNBUSDT":  710.00,
	"SOLUSDT":  220.00,
	"XRPUSDT":  2.35,
	"ADAUSDT":  1.05,
	"DOGEUSDT": 0.40,
	"AVAXUSDT": 50.00,
	"DOTUSDT":  9.50,
	"TONUSDT":  5.60,
	"LINKUSDT": 28.00,
	"NEARUSDT": 7.00,
	"APTUSDT":  13.50,
	"ARBUSDT":  1.10,
	"OPUSDT":   2.80,
}

// NewMockClient creates a deterministic simulated provider
func NewMockClient(cfg config.BinanceConfig, interval string, logger zerolog.Logger) *MockClient {
	prices := make(map[string]float64, len(mockBasePrices))
	oi := make(map[string]float64, len(mockBasePrices))
	for sym, p := range mockBasePrices {
		prices[sym] = p
		oi[sym] = 1_000_000 / p * 50 // roughly $50M notional per symbol
	}

	return &MockClient{
		rng:          rand.New(rand.NewSource(cfg.MockSeed)),
		prices:       prices,
		oi:           oi,
		interval:     intervalDuration(interval),
		intervalName: interval,
		logger:       logger.With().Str("component", "binance-mock").Logger(),
	}
}

// OnKlineClosed registers a handler for simulated closed klines
func (mc *MockClient) OnKlineClosed(handler KlineHandler) {
	mc.klineHandlers = append(mc.klineHandlers, handler)
}

// OnLiquidation registers a handler for simulated forced orders
func (mc *MockClient) OnLiquidation(handler LiquidationHandler) {
	mc.liquidationHandlers = append(mc.liquidationHandlers, handler)
}

// Start begins emitting simulated bars. The simulated clock ticks one bar
// per second so a month of history plays out in minutes.
func (mc *MockClient) Start(ctx context.Context, symbols []string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.running {
		return fmt.Errorf("mock client already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	mc.cancel = cancel
	mc.running = true

	mc.wg.Add(1)
	go mc.emitLoop(ctx, symbols)
	mc.logger.Info().Int("symbols", len(symbols)).Msg("mock data feed starting")
	return nil
}

// Stop halts the simulated feed
func (mc *MockClient) Stop() {
	mc.mu.Lock()
	if !mc.running {
		mc.mu.Unlock()
		return
	}
	mc.running = false
	cancel := mc.cancel
	mc.mu.Unlock()

	cancel()
	mc.wg.Wait()
}

func (mc *MockClient) emitLoop(ctx context.Context, symbols []string) {
	defer mc.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	barTime := time.Now().Truncate(mc.interval).UnixMilli()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range symbols {
				k, liqs := mc.nextBar(sym, barTime)
				for _, liq := range liqs {
					for _, h := range mc.liquidationHandlers {
						h(liq)
					}
				}
				for _, h := range mc.klineHandlers {
					h(k)
				}
			}
			barTime += mc.interval.Milliseconds()
		}
	}
}

// nextBar advances one symbol's random walk by a single bar. Roughly one
// bar in forty becomes a sweep: a long wick beyond the recent range with a
// burst of forced orders behind it.
func (mc *MockClient) nextBar(symbol string, openTime int64) (Kline, []LiquidationEvent) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	price, ok := mc.prices[symbol]
	if !ok {
		price = 100.0
		mc.prices[symbol] = price
	}

	drift := (mc.rng.Float64() - 0.5) * 0.008
	open := price
	close := open * (1 + drift)
	high := math.Max(open, close) * (1 + mc.rng.Float64()*0.002)
	low := math.Min(open, close) * (1 - mc.rng.Float64()*0.002)
	volume := 500 + mc.rng.Float64()*1500

	var liqs []LiquidationEvent

	if mc.rng.Float64() < 0.025 {
		// Sweep bar: spike beyond the range, close back inside, heavy volume
		sweepUp := mc.rng.Float64() < 0.5
		spike := 1 + 0.004 + mc.rng.Float64()*0.006
		volume *= 3 + mc.rng.Float64()*2

		if sweepUp {
			high = math.Max(open, close) * spike
			close = math.Min(open, close*(1-0.001))
		} else {
			low = math.Min(open, close) / spike
			close = math.Max(open, close*(1+0.001))
		}

		side := LiquidationSell
		liqPrice := low
		if sweepUp {
			side = LiquidationBuy
			liqPrice = high
		}
		count := 3 + mc.rng.Intn(5)
		for i := 0; i < count; i++ {
			liqs = append(liqs, LiquidationEvent{
				Symbol:    symbol,
				Side:      side,
				Price:     liqPrice * (1 - mc.rng.Float64()*0.001),
				Quantity:  (50_000 + mc.rng.Float64()*150_000) / liqPrice,
				Timestamp: openTime + int64(i)*500,
			})
		}

		// Open interest contracts after a liquidation flush
		mc.oi[symbol] *= 1 - (0.01 + mc.rng.Float64()*0.02)
	} else {
		mc.oi[symbol] *= 1 + (mc.rng.Float64()-0.5)*0.004
	}

	mc.prices[symbol] = close

	return Kline{
		Symbol:    symbol,
		Interval:  mc.intervalName,
		OpenTime:  openTime,
		CloseTime: openTime + mc.interval.Milliseconds(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Closed:    true,
	}, liqs
}

// GetKlines returns a freshly generated history ending at the current price
func (mc *MockClient) GetKlines(_ context.Context, symbol, interval string, limit int) ([]Kline, error) {
	mc.mu.Lock()
	price, ok := mc.prices[symbol]
	if !ok {
		price = 100.0
	}
	seed := mc.rng.Int63()
	mc.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	step := intervalDuration(interval)
	now := time.Now().Truncate(step)
	start := now.Add(-time.Duration(limit) * step)

	klines := make([]Kline, 0, limit)
	p := price * (1 - 0.0005*float64(limit)) // walk back up toward current
	for i := 0; i < limit; i++ {
		open := p
		close := open * (1 + (rng.Float64()-0.48)*0.006)
		high := math.Max(open, close) * (1 + rng.Float64()*0.002)
		low := math.Min(open, close) * (1 - rng.Float64()*0.002)
		openTime := start.Add(time.Duration(i) * step)

		klines = append(klines, Kline{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime.UnixMilli(),
			CloseTime: openTime.Add(step).UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    500 + rng.Float64()*1500,
			Closed:    true,
		})
		p = close
	}

	return klines, nil
}

// GetOpenInterest returns the symbol's simulated open interest
func (mc *MockClient) GetOpenInterest(_ context.Context, symbol string) (OpenInterest, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	value, ok := mc.oi[symbol]
	if !ok {
		return OpenInterest{}, fmt.Errorf("unknown mock symbol %s", symbol)
	}
	return OpenInterest{
		Symbol:    symbol,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Get24hTickers returns simulated 24h stats for all mock symbols
func (mc *MockClient) Get24hTickers(_ context.Context) ([]Ticker24hr, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	tickers := make([]Ticker24hr, 0, len(mc.prices))
	for sym, price := range mc.prices {
		quoteVolume := 20_000_000 + mc.rng.Float64()*200_000_000
		tickers = append(tickers, Ticker24hr{
			Symbol:             sym,
			LastPrice:          price,
			PriceChangePercent: (mc.rng.Float64() - 0.5) * 8,
			Volume:             quoteVolume / price,
			QuoteVolume:        quoteVolume,
			CloseTime:          time.Now().UnixMilli(),
		})
	}
	return tickers, nil
}

// GetPerpSymbols returns the mock symbol universe
func (mc *MockClient) GetPerpSymbols(_ context.Context) ([]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	symbols := make([]string, 0, len(mc.prices))
	for sym := range mc.prices {
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 15 * time.Minute
	}
}
