package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperAdapter synthesizes immediate fills without touching the
// network. Every paper order carries a synthetic exchange order id so
// downstream invariants (reconciliation requires an id) hold in paper
// mode too.
type PaperAdapter struct {
	mu     sync.RWMutex
	orders map[string]*OrderDetail // orderID -> detail
	byCOID map[string]string       // clientOrderID -> orderID
}

// NewPaperAdapter creates a paper adapter
func NewPaperAdapter() *PaperAdapter {
	return &PaperAdapter{
		orders: make(map[string]*OrderDetail),
		byCOID: make(map[string]string),
	}
}

// PlaceOrder fills the order immediately at the reference price
func (p *PaperAdapter) PlaceOrder(_ context.Context, req OrderRequest) (*OrderAck, error) {
	orderID := "PAPER-" + uuid.NewString()

	avgPrice := 0.0
	if req.ReferencePrice != nil {
		avgPrice = *req.ReferencePrice
	}

	p.mu.Lock()
	p.orders[orderID] = &OrderDetail{
		OrderID:     orderID,
		ExecutedQty: req.Quantity,
		AvgPrice:    avgPrice,
		Status:      StatusFilled,
		TPPrice:     req.TPPrice,
		SLPrice:     req.SLPrice,
	}
	if req.ClientOrderID != "" {
		p.byCOID[req.ClientOrderID] = orderID
	}
	p.mu.Unlock()

	return &OrderAck{OrderID: orderID, Status: AckPlaced}, nil
}

// GetOrderDetail returns the synthesized fill
func (p *PaperAdapter) GetOrderDetail(_ context.Context, orderID, _ string) (*OrderDetail, error) {
	p.mu.RLock()
	detail, ok := p.orders[orderID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("paper order %s: %w", orderID, ErrOrderNotFound)
	}
	copied := *detail
	return &copied, nil
}

// GetOrderDetailByClientOrderID resolves a paper order by client id
func (p *PaperAdapter) GetOrderDetailByClientOrderID(ctx context.Context, clientOrderID, instrument string) (*OrderDetail, error) {
	p.mu.RLock()
	orderID, ok := p.byCOID[clientOrderID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("paper client order %s: %w", clientOrderID, ErrOrderNotFound)
	}
	return p.GetOrderDetail(ctx, orderID, instrument)
}
