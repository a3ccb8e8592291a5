// Package exchange defines the adapter capability the engine consumes
// to place and inspect orders, with paper and live implementations
// selected by trade mode.
package exchange

import (
	"context"
	"errors"
)

// Ack statuses returned from PlaceOrder
const (
	AckPlaced   = "placed"
	AckRejected = "rejected"
)

// Exchange order statuses surfaced by GetOrderDetail. Anything not
// listed here is a still-working state.
const (
	StatusFilled    = "FILLED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusFailed    = "FAILED"
)

var (
	// ErrCredentialsMissing means no live credentials are configured;
	// only the live branch of an operation fails on it.
	ErrCredentialsMissing = errors.New("exchange credentials not configured")

	// ErrUnavailable marks transient exchange failures (timeouts,
	// 5xx); callers treat it as retryable, never as a filled/failed
	// verdict.
	ErrUnavailable = errors.New("exchange unavailable")

	// ErrOrderNotFound means the exchange has no record of the order
	ErrOrderNotFound = errors.New("order not found at exchange")
)

// OrderRequest is a quantized order ready for submission
type OrderRequest struct {
	Instrument     string
	Side           string // long or short
	Quantity       float64
	ClientOrderID  string
	TPPrice        *float64
	SLPrice        *float64
	ReferencePrice *float64 // paper fills execute at this price
}

// OrderAck is the immediate result of placing an order
type OrderAck struct {
	OrderID string
	Status  string // placed or rejected
}

// OrderDetail is the authoritative view of an order at the exchange
type OrderDetail struct {
	OrderID     string
	ExecutedQty float64
	AvgPrice    float64
	Status      string
	Profit      float64
	TPPrice     *float64
	SLPrice     *float64
}

// Adapter is the exchange capability consumed by the execution and
// reconciliation engines. All calls may block on the network; callers
// bound them with a context deadline.
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	GetOrderDetail(ctx context.Context, orderID, instrument string) (*OrderDetail, error)

	// GetOrderDetailByClientOrderID resolves an order by the client
	// order id; used only when the exchange order id was lost. Returns
	// ErrOrderNotFound when the exchange has no record.
	GetOrderDetailByClientOrderID(ctx context.Context, clientOrderID, instrument string) (*OrderDetail, error)
}
