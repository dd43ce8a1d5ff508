package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
)

const (
	listenKeyKeepalive = 30 * time.Minute
	streamReconnect    = 5 * time.Second
)

// StreamAccountEvents connects the user-data websocket stream and pushes
// ACCOUNT_UPDATE position changes into the channel returned by
// AccountEvents. It reconnects with a fresh listen key until the context
// is cancelled.
func (c *Client) StreamAccountEvents(ctx context.Context) {
	defer close(c.events)
	for ctx.Err() == nil {
		if err := c.streamOnce(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorWithErr(ctx, "Account stream dropped, reconnecting", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(streamReconnect):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context) error {
	key, err := c.createListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL+"/ws/"+key, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info(ctx, "Account stream connected")

	// The listen key expires unless touched; the reader below owns the
	// connection, so keepalive runs beside it.
	kctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.keepListenKeyAlive(kctx, key)
	go func() {
		<-kctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleStreamMessage(ctx, payload)
	}
}

func (c *Client) handleStreamMessage(ctx context.Context, payload []byte) {
	var msg struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Account   struct {
			Positions []struct {
				Symbol string `json:"s"`
				Amount string `json:"pa"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.EventType != "ACCOUNT_UPDATE" {
		return
	}
	for _, p := range msg.Account.Positions {
		amt, err := strconv.ParseFloat(p.Amount, 64)
		if err != nil {
			continue
		}
		evt := interfaces.AccountEvent{Symbol: p.Symbol, PositionAmt: amt, Ts: msg.EventTime}
		select {
		case c.events <- evt:
		default:
			logger.Warn(ctx, "Account event channel full, dropping event", "symbol", p.Symbol)
		}
	}
}

func (c *Client) createListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

func (c *Client) keepListenKeyAlive(ctx context.Context, key string) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			params := url.Values{}
			params.Set("listenKey", key)
			if _, err := c.signedRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", params); err != nil {
				logger.ErrorWithErr(ctx, "Listen key keepalive failed", err)
			}
		}
	}
}
