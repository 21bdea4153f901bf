// stream.go implements the Binance WebSocket feed that keeps the quote
// cache warm for crypto symbols, so monitor cycles rarely need a REST call.
//
// The feed auto-reconnects with a fixed backoff schedule (1s to 60s) and
// re-subscribes to all tracked symbols on reconnection. A read deadline
// detects silent server failures within ~2 missed pings.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-bridge/pkg/types"
)

const (
	streamPingInterval = 30 * time.Second
	streamReadTimeout  = 75 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// reconnectSchedule is the wait before each successive reconnect attempt;
// the last entry repeats.
var reconnectSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	16 * time.Second, 32 * time.Second, 60 * time.Second,
}

// BinanceStream maintains a WebSocket connection to Binance and writes
// every mini-ticker update into the quote cache.
type BinanceStream struct {
	url    string
	cache  *Cache
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // uppercase symbols

	reqID int
}

// NewBinanceStream creates a stream feeding the given cache.
func NewBinanceStream(wsURL string, cache *Cache, logger *slog.Logger) *BinanceStream {
	return &BinanceStream{
		url:        wsURL,
		cache:      cache,
		subscribed: make(map[string]bool),
		logger:     logger.With("component", "price_stream"),
	}
}

// Subscribe starts streaming quotes for the given symbols. Safe to call
// while the stream is running; already-tracked symbols are ignored.
func (s *BinanceStream) Subscribe(symbols []string) error {
	var fresh []string
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if !s.subscribed[sym] {
			s.subscribed[sym] = true
			fresh = append(fresh, sym)
		}
	}
	s.subscribedMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return s.sendSubscribe(fresh)
}

// Unsubscribe stops streaming the given symbols.
func (s *BinanceStream) Unsubscribe(symbols []string) error {
	var dropped []string
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if s.subscribed[sym] {
			delete(s.subscribed, sym)
			dropped = append(dropped, sym)
		}
	}
	s.subscribedMu.Unlock()

	if len(dropped) == 0 {
		return nil
	}
	return s.writeJSON(streamRequest{
		Method: "UNSUBSCRIBE",
		Params: tickerParams(dropped),
		ID:     s.nextID(),
	})
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (s *BinanceStream) Run(ctx context.Context) error {
	attempt := 0

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := reconnectSchedule[min(attempt, len(reconnectSchedule)-1)]
		attempt++
		s.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", wait,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close gracefully closes the connection.
func (s *BinanceStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *BinanceStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.resubscribeAll(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("stream connected", "url", s.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.handleMessage(msg)
	}
}

func (s *BinanceStream) resubscribeAll() error {
	s.subscribedMu.RLock()
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	s.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return s.sendSubscribe(symbols)
}

func (s *BinanceStream) sendSubscribe(symbols []string) error {
	return s.writeJSON(streamRequest{
		Method: "SUBSCRIBE",
		Params: tickerParams(symbols),
		ID:     s.nextID(),
	})
}

func (s *BinanceStream) handleMessage(data []byte) {
	var tick struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Close     string `json:"c"`
	}
	if err := json.Unmarshal(data, &tick); err != nil {
		s.logger.Debug("ignoring non-json stream message")
		return
	}
	if tick.EventType != "24hrMiniTicker" || tick.Symbol == "" {
		return
	}

	price, err := parseQuotePrice(tick.Close)
	if err != nil {
		s.logger.Warn("unparseable stream price", "symbol", tick.Symbol, "raw", tick.Close)
		return
	}

	s.cache.Put(types.PriceQuote{
		Symbol:     tick.Symbol,
		Price:      price,
		AssetClass: types.AssetCrypto,
		Source:     "binance_ws",
		Timestamp:  time.Now().UTC(),
	})
}

func (s *BinanceStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func tickerParams(symbols []string) []string {
	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = strings.ToLower(sym) + "@miniTicker"
	}
	return params
}

func (s *BinanceStream) nextID() int {
	s.subscribedMu.Lock()
	s.reqID++
	id := s.reqID
	s.subscribedMu.Unlock()
	return id
}

func (s *BinanceStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		// Not connected yet; Run will replay subscriptions on connect.
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *BinanceStream) writePing() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
