// Package exchange implements the live USDT-margined futures client:
// signed REST calls for order placement and lookup, and the user-data
// websocket stream that pushes account updates into the reconciler.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"llm-perp-bot/internal/interfaces"
)

const recvWindowMs = 5000

// Client talks to a Binance-compatible USDT-M futures API.
type Client struct {
	baseURL   string
	wsURL     string
	apiKey    string
	apiSecret string
	http      *http.Client
	events    chan interfaces.AccountEvent
}

func NewClient(baseURL, wsURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		wsURL:     wsURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		events:    make(chan interfaces.AccountEvent, 64),
	}
}

var _ interfaces.Exchange = (*Client)(nil)

func (c *Client) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// signedRequest sends a signed request with params in the query string,
// the way the futures API expects for both GET and POST.
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("exchange error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("exchange HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type orderResponse struct {
	OrderID  int64  `json:"orderId"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	AvgPrice string `json:"avgPrice"`
}

func (r orderResponse) toOrder() interfaces.ExchangeOrder {
	avg, _ := strconv.ParseFloat(r.AvgPrice, 64)
	return interfaces.ExchangeOrder{
		OrderID:      strconv.FormatInt(r.OrderID, 10),
		Symbol:       r.Symbol,
		Status:       r.Status,
		AvgFillPrice: avg,
	}
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (interfaces.ExchangeOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return interfaces.ExchangeOrder{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return interfaces.ExchangeOrder{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return 0, err
	}
	var balances []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return strconv.ParseFloat(b.AvailableBalance, 64)
		}
	}
	return 0, fmt.Errorf("no USDT balance in account response")
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (string, error) {
	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (c *Client) PlaceMarket(ctx context.Context, symbol, side string, quantity float64) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(quantity))
	return c.placeOrder(ctx, params)
}

// PlaceTakeProfit books a reduce-only TAKE_PROFIT_MARKET order that fires
// at the given trigger price.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol, side string, quantity, price float64) (string, error) {
	return c.placeTrigger(ctx, symbol, side, "TAKE_PROFIT_MARKET", quantity, price)
}

// PlaceStopLoss books a reduce-only STOP_MARKET order that fires at the
// given trigger price.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol, side string, quantity, price float64) (string, error) {
	return c.placeTrigger(ctx, symbol, side, "STOP_MARKET", quantity, price)
}

func (c *Client) placeTrigger(ctx context.Context, symbol, side, orderType string, quantity, price float64) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", orderType)
	params.Set("quantity", formatQty(quantity))
	params.Set("stopPrice", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("reduceOnly", "true")
	return c.placeOrder(ctx, params)
}

func (c *Client) AccountEvents() <-chan interfaces.AccountEvent {
	return c.events
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
