package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
)

// streamManager maintains combined-stream websocket connections to the
// futures stream endpoint. Each connection carries up to the configured
// number of streams; symbols beyond that spill onto additional connections.
type streamManager struct {
	wsBaseURL      string
	interval       string
	maxStreams     int
	reconnectDelay time.Duration
	reconnectMax   time.Duration

	onKline       func(Kline)
	onLiquidation func(LiquidationEvent)
	logger        zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// streamNames builds the combined-stream subscription list: one kline
// stream at the configured interval plus one forceOrder stream per symbol.
func streamNames(symbols []string, interval string) []string {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@kline_"+interval, lower+"@forceOrder")
	}
	return streams
}

// combinedMessage is the envelope of combined stream payloads
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsKlineEvent mirrors the <symbol>@kline_<interval> payload
type wsKlineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// wsForceOrderEvent mirrors the <symbol>@forceOrder payload
type wsForceOrderEvent struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		Quantity  string `json:"q"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	} `json:"o"`
}

func newStreamManager(cfg config.BinanceConfig, interval string, onKline func(Kline), onLiquidation func(LiquidationEvent), logger zerolog.Logger) *streamManager {
	maxStreams := cfg.WSMaxStreamsPerConn
	if maxStreams <= 0 {
		maxStreams = 900
	}
	delay := time.Duration(cfg.WSReconnectDelaySec) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maxDelay := time.Duration(cfg.WSReconnectMaxSec) * time.Second
	if maxDelay < delay {
		maxDelay = 60 * time.Second
	}
	return &streamManager{
		wsBaseURL:      cfg.WSBaseURL,
		interval:       interval,
		maxStreams:     maxStreams,
		reconnectDelay: delay,
		reconnectMax:   maxDelay,
		onKline:        onKline,
		onLiquidation:  onLiquidation,
		logger:         logger.With().Str("component", "ws-stream").Logger(),
	}
}

// start opens one connection per chunk of streams
func (sm *streamManager) start(ctx context.Context, symbols []string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.running {
		return fmt.Errorf("stream manager already running")
	}

	streams := streamNames(symbols, sm.interval)

	ctx, cancel := context.WithCancel(ctx)
	sm.cancel = cancel
	sm.running = true

	for i := 0; i < len(streams); i += sm.maxStreams {
		end := i + sm.maxStreams
		if end > len(streams) {
			end = len(streams)
		}
		chunk := streams[i:end]

		sm.wg.Add(1)
		go sm.runConnection(ctx, chunk)
	}

	sm.logger.Info().Int("symbols", len(symbols)).Int("streams", len(streams)).Msg("websocket streams starting")
	return nil
}

func (sm *streamManager) stop() {
	sm.mu.Lock()
	if !sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = false
	cancel := sm.cancel
	sm.mu.Unlock()

	cancel()
	sm.wg.Wait()
}

// runConnection owns one websocket connection and reconnects on failure
// with exponential backoff up to the configured ceiling.
func (sm *streamManager) runConnection(ctx context.Context, streams []string) {
	defer sm.wg.Done()

	endpoint := sm.wsBaseURL + "/stream?streams=" + strings.Join(streams, "/")
	delay := sm.reconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			sm.logger.Warn().Err(err).Dur("retry_in", delay).Msg("websocket dial failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > sm.reconnectMax {
				delay = sm.reconnectMax
			}
			continue
		}

		delay = sm.reconnectDelay
		sm.readLoop(ctx, conn)
		conn.Close()
	}
}

func (sm *streamManager) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Close the connection when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				sm.logger.Warn().Err(err).Msg("websocket read failed, reconnecting")
			}
			return
		}
		sm.handleMessage(message)
	}
}

func (sm *streamManager) handleMessage(message []byte) {
	var env combinedMessage
	if err := json.Unmarshal(message, &env); err != nil {
		sm.logger.Debug().Err(err).Msg("unparseable stream message")
		return
	}

	switch {
	case strings.Contains(env.Stream, "@kline"):
		var ev wsKlineEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		if !ev.Kline.Closed {
			return
		}
		k := Kline{
			Symbol:    ev.Symbol,
			Interval:  ev.Kline.Interval,
			OpenTime:  ev.Kline.OpenTime,
			CloseTime: ev.Kline.CloseTime,
			Open:      parseFloat(ev.Kline.Open),
			High:      parseFloat(ev.Kline.High),
			Low:       parseFloat(ev.Kline.Low),
			Close:     parseFloat(ev.Kline.Close),
			Volume:    parseFloat(ev.Kline.Volume),
			Closed:    true,
		}
		sm.onKline(k)

	case strings.Contains(env.Stream, "@forceOrder"):
		var ev wsForceOrderEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		sm.onLiquidation(LiquidationEvent{
			Symbol:    ev.Order.Symbol,
			Side:      LiquidationSide(ev.Order.Side),
			Price:     parseFloat(ev.Order.Price),
			Quantity:  parseFloat(ev.Order.Quantity),
			Timestamp: ev.Order.TradeTime,
		})
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
