package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry configuration for API calls
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

const (
	// FuturesBaseURL is the production Binance Futures API URL
	FuturesBaseURL = "https://fapi.binance.com"
	// FuturesTestnetURL is the testnet Binance Futures API URL
	FuturesTestnetURL = "https://testnet.binancefuture.com"
)

// LiveOptions configures the live adapter
type LiveOptions struct {
	BaseURL string        // overrides the default when non-empty
	TestNet bool
	Timeout time.Duration // per-request bound, defaults to 10s
}

// LiveAdapter places real orders against Binance Futures
type LiveAdapter struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewLiveAdapter creates a live adapter. Returns ErrCredentialsMissing
// when either key is empty.
func NewLiveAdapter(apiKey, secretKey string, opts LiveOptions) (*LiveAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	secretKey = strings.TrimSpace(secretKey)
	if apiKey == "" || secretKey == "" {
		return nil, ErrCredentialsMissing
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = FuturesBaseURL
		if opts.TestNet {
			baseURL = FuturesTestnetURL
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &LiveAdapter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type futuresOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice"`
}

type futuresUserTrade struct {
	OrderID     int64  `json:"orderId"`
	RealizedPnL string `json:"realizedPnl"`
}

// PlaceOrder submits a market order
func (c *LiveAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	params := map[string]string{
		"symbol":   req.Instrument,
		"side":     sideToBinance(req.Side),
		"type":     "MARKET",
		"quantity": strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp futuresOrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	ack := &OrderAck{
		OrderID: strconv.FormatInt(orderResp.OrderID, 10),
		Status:  AckPlaced,
	}
	if orderResp.Status == StatusRejected {
		ack.Status = AckRejected
		return ack, nil
	}

	c.placeProtectiveOrders(ctx, req)
	return ack, nil
}

// placeProtectiveOrders submits the closing TP/SL orders after the
// entry is placed. Failures are logged, not returned: the entry
// already exists and the stop levels are persisted locally regardless.
func (c *LiveAdapter) placeProtectiveOrders(ctx context.Context, req OrderRequest) {
	for _, params := range protectiveOrderParams(req) {
		if _, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params); err != nil {
			log.Printf("[EXCHANGE] Could not place %s for %s: %v", params["type"], req.Instrument, err)
		}
	}
}

// protectiveOrderParams builds the TAKE_PROFIT_MARKET and STOP_MARKET
// close orders for an entry. The close side is the opposite of the
// entry side, triggered on mark price with closePosition.
func protectiveOrderParams(req OrderRequest) []map[string]string {
	closeSide := "SELL"
	if sideToBinance(req.Side) == "SELL" {
		closeSide = "BUY"
	}

	var orders []map[string]string
	if req.TPPrice != nil && *req.TPPrice > 0 {
		orders = append(orders, map[string]string{
			"symbol":        req.Instrument,
			"side":          closeSide,
			"type":          "TAKE_PROFIT_MARKET",
			"stopPrice":     strconv.FormatFloat(*req.TPPrice, 'f', -1, 64),
			"closePosition": "true",
			"workingType":   "MARK_PRICE",
		})
	}
	if req.SLPrice != nil && *req.SLPrice > 0 {
		orders = append(orders, map[string]string{
			"symbol":        req.Instrument,
			"side":          closeSide,
			"type":          "STOP_MARKET",
			"stopPrice":     strconv.FormatFloat(*req.SLPrice, 'f', -1, 64),
			"closePosition": "true",
			"workingType":   "MARK_PRICE",
		})
	}
	return orders
}

// GetOrderDetail queries the authoritative order state. Realized P&L
// is summed from user trades best-effort; a trades-endpoint failure
// leaves profit at zero rather than failing the detail fetch.
func (c *LiveAdapter) GetOrderDetail(ctx context.Context, orderID, instrument string) (*OrderDetail, error) {
	params := map[string]string{
		"symbol":  instrument,
		"orderId": orderID,
	}
	return c.fetchOrderDetail(ctx, instrument, params)
}

// GetOrderDetailByClientOrderID resolves an order by client order id
func (c *LiveAdapter) GetOrderDetailByClientOrderID(ctx context.Context, clientOrderID, instrument string) (*OrderDetail, error) {
	params := map[string]string{
		"symbol":            instrument,
		"origClientOrderId": clientOrderID,
	}
	return c.fetchOrderDetail(ctx, instrument, params)
}

func (c *LiveAdapter) fetchOrderDetail(ctx context.Context, instrument string, params map[string]string) (*OrderDetail, error) {
	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		if strings.Contains(err.Error(), "-2013") { // Order does not exist
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var orderResp futuresOrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}

	detail := &OrderDetail{
		OrderID:     strconv.FormatInt(orderResp.OrderID, 10),
		ExecutedQty: parseFloat(orderResp.ExecutedQty),
		AvgPrice:    parseFloat(orderResp.AvgPrice),
		Status:      orderResp.Status,
	}
	if sp := parseFloat(orderResp.StopPrice); sp > 0 {
		detail.SLPrice = &sp
	}

	if detail.ExecutedQty > 0 {
		if profit, err := c.realizedProfit(ctx, instrument, orderResp.OrderID); err != nil {
			log.Printf("[EXCHANGE] Could not fetch realized pnl for order %d: %v", orderResp.OrderID, err)
		} else {
			detail.Profit = profit
		}
	}
	return detail, nil
}

func (c *LiveAdapter) realizedProfit(ctx context.Context, instrument string, orderID int64) (float64, error) {
	params := map[string]string{
		"symbol":  instrument,
		"orderId": strconv.FormatInt(orderID, 10),
	}
	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params)
	if err != nil {
		return 0, err
	}

	var trades []futuresUserTrade
	if err := json.Unmarshal(resp, &trades); err != nil {
		return 0, fmt.Errorf("error parsing user trades: %w", err)
	}

	var profit float64
	for _, t := range trades {
		if t.OrderID == orderID {
			profit += parseFloat(t.RealizedPnL)
		}
	}
	return profit, nil
}

// signedRequest performs an authenticated request with retry and
// exponential backoff. The timestamp is refreshed per attempt.
func (c *LiveAdapter) signedRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = "10000" // 10 seconds tolerance for clock skew
		query := c.signParams(params)
		reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, query)

		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			if attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				log.Printf("[EXCHANGE] %s %s failed (attempt %d/%d): %v, retrying in %v",
					method, endpoint, attempt+1, maxRetries+1, err, delay)
				time.Sleep(delay)
				continue
			}
			return nil, lastErr
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))
			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				log.Printf("[EXCHANGE] %s %s returned %d (attempt %d/%d): %s, retrying in %v",
					method, endpoint, resp.StatusCode, attempt+1, maxRetries+1, string(body), delay)
				time.Sleep(delay)
				continue
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %s", ErrUnavailable, string(body))
			}
			return nil, lastErr
		}

		return body, nil
	}

	return nil, lastErr
}

func (c *LiveAdapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams builds query string with signature appended
func (c *LiveAdapter) signParams(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	query := values.Encode()
	return query + "&signature=" + c.sign(query)
}

// isRetryableError checks if an error is transient and should be retried
func isRetryableError(statusCode int, body string) bool {
	// Retry on rate limits (429) and server errors (5xx)
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Retry on specific Binance errors that are transient
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1016") { // SERVICE_SHUTTING_DOWN
		return true
	}
	return false
}

// calculateRetryDelay returns delay with exponential backoff and jitter
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

func sideToBinance(side string) string {
	if strings.EqualFold(side, "short") {
		return "SELL"
	}
	return "BUY"
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
