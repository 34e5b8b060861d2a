package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/metrics"
)

// Client is the live Binance USDT-margined futures data provider. It serves
// snapshot reads over REST (rate limited by request weight) and pushes
// closed klines and forced orders from the combined websocket stream.
type Client struct {
	restBaseURL string
	wsBaseURL   string
	httpClient  *http.Client
	limiter     *RateLimiter
	logger      zerolog.Logger

	stream *streamManager

	klineHandlers       []KlineHandler
	liquidationHandlers []LiquidationHandler
}

// NewClient creates a live futures market data client
func NewClient(cfg config.BinanceConfig, interval string, logger zerolog.Logger) *Client {
	timeout := time.Duration(cfg.RestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		restBaseURL: cfg.RestBaseURL,
		wsBaseURL:   cfg.WSBaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     NewRateLimiter(cfg.WeightPerMinute, cfg.PauseThreshold),
		logger:      logger.With().Str("component", "binance").Logger(),
	}
	c.stream = newStreamManager(cfg, interval, c.dispatchKline, c.dispatchLiquidation, c.logger)
	return c
}

// OnKlineClosed registers a handler for closed klines
func (c *Client) OnKlineClosed(handler KlineHandler) {
	c.klineHandlers = append(c.klineHandlers, handler)
}

// OnLiquidation registers a handler for forced orders
func (c *Client) OnLiquidation(handler LiquidationHandler) {
	c.liquidationHandlers = append(c.liquidationHandlers, handler)
}

func (c *Client) dispatchKline(k Kline) {
	for _, h := range c.klineHandlers {
		h(k)
	}
}

func (c *Client) dispatchLiquidation(e LiquidationEvent) {
	for _, h := range c.liquidationHandlers {
		h(e)
	}
}

// Start opens websocket subscriptions for the given symbols
func (c *Client) Start(ctx context.Context, symbols []string) error {
	return c.stream.start(ctx, symbols)
}

// Stop closes all websocket connections
func (c *Client) Stop() {
	c.stream.stop()
}

// GetKlines fetches recent candlesticks for a symbol
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	// Weight scales with requested limit per the futures API docs
	weight := 1
	if limit > 100 {
		weight = 2
	}
	if limit > 500 {
		weight = 5
	}

	body, err := c.doRequest(ctx, "/fapi/v1/klines", params, weight)
	if err != nil {
		return nil, fmt.Errorf("get klines for %s: %w", symbol, err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		k, err := parseKlineRow(symbol, interval, row)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping malformed kline row")
			continue
		}
		klines = append(klines, k)
	}

	return klines, nil
}

// GetOpenInterest fetches the current open interest for a symbol
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, "/fapi/v1/openInterest", params, 1)
	if err != nil {
		return OpenInterest{}, fmt.Errorf("get open interest for %s: %w", symbol, err)
	}

	var oi OpenInterest
	if err := json.Unmarshal(body, &oi); err != nil {
		return OpenInterest{}, fmt.Errorf("parse open interest for %s: %w", symbol, err)
	}
	oi.Symbol = symbol
	return oi, nil
}

// Get24hTickers fetches 24h statistics for all symbols
func (c *Client) Get24hTickers(ctx context.Context) ([]Ticker24hr, error) {
	body, err := c.doRequest(ctx, "/fapi/v1/ticker/24hr", nil, 40)
	if err != nil {
		return nil, fmt.Errorf("get 24h tickers: %w", err)
	}

	var tickers []Ticker24hr
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("parse 24h tickers: %w", err)
	}
	return tickers, nil
}

// GetPerpSymbols returns all actively trading USDT perpetual symbols
func (c *Client) GetPerpSymbols(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, "/fapi/v1/exchangeInfo", nil, 1)
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	metrics.RestWeightUsage.Set(c.limiter.Usage())

	endpoint := c.restBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// parseKlineRow converts the REST array representation into a Kline
func parseKlineRow(symbol, interval string, row []interface{}) (Kline, error) {
	openTime, ok := row[0].(float64)
	if !ok {
		return Kline{}, fmt.Errorf("bad open time in kline row")
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return Kline{}, fmt.Errorf("bad close time in kline row")
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return Kline{}, fmt.Errorf("bad field %d in kline row", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Kline{}, fmt.Errorf("parse field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	return Kline{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  int64(openTime),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		CloseTime: int64(closeTime),
		Closed:    time.Now().UnixMilli() >= int64(closeTime),
	}, nil
}
