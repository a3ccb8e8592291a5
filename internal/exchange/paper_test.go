package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// TestPaperOrderFillsAtReferencePrice tests the synthetic fill
func TestPaperOrderFillsAtReferencePrice(t *testing.T) {
	adapter := NewPaperAdapter()
	ref := 50000.0

	ack, err := adapter.PlaceOrder(context.Background(), OrderRequest{
		Instrument:     "BTCUSDT",
		Side:           "long",
		Quantity:       0.01,
		ClientOrderID:  "coid-1",
		ReferencePrice: &ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != AckPlaced {
		t.Errorf("expected placed ack, got %s", ack.Status)
	}
	if !strings.HasPrefix(ack.OrderID, "PAPER-") {
		t.Errorf("expected synthetic order id, got %s", ack.OrderID)
	}

	detail, err := adapter.GetOrderDetail(context.Background(), ack.OrderID, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Status != StatusFilled {
		t.Errorf("expected immediate fill, got %s", detail.Status)
	}
	if detail.ExecutedQty != 0.01 || detail.AvgPrice != 50000 {
		t.Errorf("unexpected fill: qty=%v price=%v", detail.ExecutedQty, detail.AvgPrice)
	}
}

// TestPaperLookupByClientOrderID tests client-order-id resolution
func TestPaperLookupByClientOrderID(t *testing.T) {
	adapter := NewPaperAdapter()
	ref := 100.0
	ack, err := adapter.PlaceOrder(context.Background(), OrderRequest{
		Instrument: "ETHUSDT", Side: "short", Quantity: 1, ClientOrderID: "coid-2", ReferencePrice: &ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detail, err := adapter.GetOrderDetailByClientOrderID(context.Background(), "coid-2", "ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.OrderID != ack.OrderID {
		t.Errorf("expected order %s, got %s", ack.OrderID, detail.OrderID)
	}
}

// TestPaperUnknownOrderNotFound tests the not-found paths
func TestPaperUnknownOrderNotFound(t *testing.T) {
	adapter := NewPaperAdapter()

	if _, err := adapter.GetOrderDetail(context.Background(), "nope", "BTCUSDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := adapter.GetOrderDetailByClientOrderID(context.Background(), "nope", "BTCUSDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
