package exchange

import (
	"errors"
	"strings"
	"testing"
)

// TestLiveAdapterRequiresCredentials tests the credential guard
func TestLiveAdapterRequiresCredentials(t *testing.T) {
	if _, err := NewLiveAdapter("", "secret", LiveOptions{}); !errors.Is(err, ErrCredentialsMissing) {
		t.Errorf("expected ErrCredentialsMissing for empty key, got %v", err)
	}
	if _, err := NewLiveAdapter("key", "  ", LiveOptions{}); !errors.Is(err, ErrCredentialsMissing) {
		t.Errorf("expected ErrCredentialsMissing for blank secret, got %v", err)
	}
}

// TestLiveAdapterBaseURLSelection tests testnet and override resolution
func TestLiveAdapterBaseURLSelection(t *testing.T) {
	adapter, err := NewLiveAdapter("key", "secret", LiveOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.baseURL != FuturesBaseURL {
		t.Errorf("expected production URL, got %s", adapter.baseURL)
	}

	adapter, _ = NewLiveAdapter("key", "secret", LiveOptions{TestNet: true})
	if adapter.baseURL != FuturesTestnetURL {
		t.Errorf("expected testnet URL, got %s", adapter.baseURL)
	}

	adapter, _ = NewLiveAdapter("key", "secret", LiveOptions{BaseURL: "http://localhost:9999", TestNet: true})
	if adapter.baseURL != "http://localhost:9999" {
		t.Errorf("explicit base URL must win, got %s", adapter.baseURL)
	}
}

// TestSignParamsAppendsSignature tests HMAC signing of the query string
func TestSignParamsAppendsSignature(t *testing.T) {
	adapter, err := NewLiveAdapter("key", "secret", LiveOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	query := adapter.signParams(map[string]string{"symbol": "BTCUSDT", "side": "BUY"})
	if !strings.Contains(query, "symbol=BTCUSDT") || !strings.Contains(query, "side=BUY") {
		t.Errorf("query missing params: %s", query)
	}
	idx := strings.Index(query, "&signature=")
	if idx < 0 {
		t.Fatalf("query missing signature: %s", query)
	}
	sig := query[idx+len("&signature="):]
	if len(sig) != 64 {
		t.Errorf("expected 64 hex chars of HMAC-SHA256, got %d", len(sig))
	}
	// Same params, same secret: signing is deterministic
	if query != adapter.signParams(map[string]string{"side": "BUY", "symbol": "BTCUSDT"}) {
		t.Error("signature must be independent of param insertion order")
	}
}

// TestRetryableErrorClassification tests which failures are retried
func TestRetryableErrorClassification(t *testing.T) {
	cases := []struct {
		statusCode int
		body       string
		want       bool
	}{
		{429, "", true},
		{500, "", true},
		{503, "", true},
		{400, `{"code":-1001,"msg":"DISCONNECTED"}`, true},
		{400, `{"code":-1003,"msg":"TOO_MANY_REQUESTS"}`, true},
		{400, `{"code":-1016,"msg":"SERVICE_SHUTTING_DOWN"}`, true},
		{400, `{"code":-2013,"msg":"Order does not exist"}`, false},
		{401, `{"code":-2014,"msg":"API-key format invalid"}`, false},
	}
	for _, tc := range cases {
		if got := isRetryableError(tc.statusCode, tc.body); got != tc.want {
			t.Errorf("isRetryableError(%d, %q) = %v, want %v", tc.statusCode, tc.body, got, tc.want)
		}
	}
}

// TestSideMapping tests long/short to exchange side conversion
func TestSideMapping(t *testing.T) {
	if sideToBinance("long") != "BUY" {
		t.Error("long should map to BUY")
	}
	if sideToBinance("short") != "SELL" {
		t.Error("short should map to SELL")
	}
	if sideToBinance("SHORT") != "SELL" {
		t.Error("side mapping should be case insensitive")
	}
}

// TestRetryDelayBounds tests backoff stays within limits
func TestRetryDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 6; attempt++ {
		delay := calculateRetryDelay(attempt)
		if delay <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, delay)
		}
		if delay > maxRetryDelay+maxRetryDelay/2 {
			t.Errorf("attempt %d: delay %v exceeds jittered cap", attempt, delay)
		}
	}
}

// TestProtectiveOrderParams tests the TP/SL close order construction
func TestProtectiveOrderParams(t *testing.T) {
	tp := 52000.0
	sl := 48000.0
	orders := protectiveOrderParams(OrderRequest{
		Instrument: "BTCUSDT",
		Side:       "long",
		Quantity:   0.01,
		TPPrice:    &tp,
		SLPrice:    &sl,
	})
	if len(orders) != 2 {
		t.Fatalf("expected 2 protective orders, got %d", len(orders))
	}
	if orders[0]["type"] != "TAKE_PROFIT_MARKET" || orders[0]["stopPrice"] != "52000" {
		t.Errorf("unexpected take profit order %v", orders[0])
	}
	if orders[1]["type"] != "STOP_MARKET" || orders[1]["stopPrice"] != "48000" {
		t.Errorf("unexpected stop loss order %v", orders[1])
	}
	for _, o := range orders {
		if o["side"] != "SELL" {
			t.Errorf("long entry closes with SELL, got %s", o["side"])
		}
		if o["closePosition"] != "true" {
			t.Errorf("protective orders must close the position, got %v", o)
		}
	}

	short := protectiveOrderParams(OrderRequest{Instrument: "BTCUSDT", Side: "short", SLPrice: &sl})
	if len(short) != 1 || short[0]["side"] != "BUY" {
		t.Errorf("short entry closes with BUY, got %v", short)
	}

	if got := protectiveOrderParams(OrderRequest{Instrument: "BTCUSDT", Side: "long"}); len(got) != 0 {
		t.Errorf("no protective orders without prices, got %v", got)
	}
}
