package binance

// Kline represents a single candlestick. Times are epoch milliseconds and
// the bar interval is half-open: [OpenTime, CloseTime).
type Kline struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
	Closed    bool    `json:"closed"`
}

// Body returns the absolute open-to-close distance
func (k Kline) Body() float64 {
	if k.Close >= k.Open {
		return k.Close - k.Open
	}
	return k.Open - k.Close
}

// UpperWick returns the distance from the body top to the high
func (k Kline) UpperWick() float64 {
	top := k.Open
	if k.Close > top {
		top = k.Close
	}
	return k.High - top
}

// LowerWick returns the distance from the body bottom to the low
func (k Kline) LowerWick() float64 {
	bottom := k.Open
	if k.Close < bottom {
		bottom = k.Close
	}
	return bottom - k.Low
}

// LiquidationSide distinguishes which side was forced out. A BUY forced
// order liquidates shorts; a SELL forced order liquidates longs.
type LiquidationSide string

const (
	LiquidationBuy  LiquidationSide = "BUY"
	LiquidationSell LiquidationSide = "SELL"
)

// LiquidationEvent represents a single forced order from the liquidation
// stream. Timestamps are monotonic per symbol.
type LiquidationEvent struct {
	Symbol    string          `json:"symbol"`
	Side      LiquidationSide `json:"side"`
	Price     float64         `json:"price,string"`
	Quantity  float64         `json:"quantity,string"`
	Timestamp int64           `json:"timestamp"`
}

// NotionalUSD returns the USD notional of the forced order
func (e LiquidationEvent) NotionalUSD() float64 {
	return e.Price * e.Quantity
}

// OpenInterest represents one open-interest sample for a symbol
type OpenInterest struct {
	Symbol    string  `json:"symbol"`
	Value     float64 `json:"openInterest,string"`
	Timestamp int64   `json:"time"`
}

// Ticker24hr represents 24hr ticker price change statistics
type Ticker24hr struct {
	Symbol             string  `json:"symbol"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	CloseTime          int64   `json:"closeTime"`
}

// ExchangeSymbol is the subset of exchange info the engine cares about
type ExchangeSymbol struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contractType"`
	QuoteAsset   string `json:"quoteAsset"`
}

// ExchangeInfo holds the futures exchange symbol listing
type ExchangeInfo struct {
	Symbols []ExchangeSymbol `json:"symbols"`
}
