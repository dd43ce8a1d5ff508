// Package marketdata streams fixed-interval klines over websocket and
// answers on-demand price queries over REST.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/types"
)

const reconnectDelay = 5 * time.Second

// Stream is the live market-data collaborator. Only closed klines are
// forwarded; an in-progress bar would make trigger evaluation repeat on
// every tick.
type Stream struct {
	baseURL  string
	wsURL    string
	interval string
	http     *http.Client

	mu     sync.Mutex
	bars   chan types.Candle
	cancel context.CancelFunc
}

func NewStream(baseURL, wsURL, interval string) *Stream {
	return &Stream{
		baseURL:  baseURL,
		wsURL:    wsURL,
		interval: interval,
		http:     &http.Client{Timeout: 10 * time.Second},
		bars:     make(chan types.Candle, 128),
	}
}

var _ interfaces.MarketData = (*Stream)(nil)

func (s *Stream) Bars() <-chan types.Candle { return s.bars }

// Subscribe starts the kline stream for the given symbols. It returns
// once the first connection attempt resolves; reconnection afterwards is
// handled internally.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + s.interval
	}
	endpoint := s.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("kline stream dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(sctx, conn, endpoint)
	return nil
}

func (s *Stream) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Stream) run(ctx context.Context, conn *websocket.Conn, endpoint string) {
	defer close(s.bars)
	for {
		s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "Kline stream dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		next, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			logger.ErrorWithErr(ctx, "Kline stream reconnect failed", err)
			continue
		}
		conn = next
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if bar, ok := parseKline(payload); ok {
			select {
			case s.bars <- bar:
			case <-ctx.Done():
				return
			}
		}
	}
}

// parseKline extracts a closed kline from a combined-stream message.
func parseKline(payload []byte) (types.Candle, bool) {
	var msg struct {
		Data struct {
			EventType string `json:"e"`
			Kline     struct {
				Symbol string `json:"s"`
				Start  int64  `json:"t"`
				Open   string `json:"o"`
				High   string `json:"h"`
				Low    string `json:"l"`
				Close  string `json:"c"`
				Volume string `json:"v"`
				Closed bool   `json:"x"`
			} `json:"k"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return types.Candle{}, false
	}
	k := msg.Data.Kline
	if msg.Data.EventType != "kline" || !k.Closed {
		return types.Candle{}, false
	}
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	cls, err4 := strconv.ParseFloat(k.Close, 64)
	vol, err5 := strconv.ParseFloat(k.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return types.Candle{}, false
	}
	return types.Candle{
		Symbol: k.Symbol,
		Ts:     k.Start,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cls,
		Volume: vol,
	}, true
}

// CurrentPrice implements interfaces.PriceSource against the ticker
// endpoint.
func (s *Stream) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/fapi/v1/ticker/price?symbol="+symbol, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("ticker HTTP %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out.Price, 64)
}
