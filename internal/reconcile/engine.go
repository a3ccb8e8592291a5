// Package reconcile heals divergence between local execution state and
// exchange truth: the periodic sweep re-checks every pending execution
// against the exchange and converges the trade lifecycle onto what the
// exchange says actually happened.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"binance-execution-engine/internal/database"
	"binance-execution-engine/internal/exchange"
)

// MaxOrderIDRecoveryAttempts bounds client-order-id recovery for live
// executions that never got an exchange order id. After the last
// attempt the execution is marked errored and an alert fires.
const MaxOrderIDRecoveryAttempts = 3

// Store is the persistence surface the reconciler needs
type Store interface {
	PendingExecutions(ctx context.Context, limit int) ([]*database.Execution, error)
	GetTrade(ctx context.Context, id int64) (*database.Trade, error)
	UpdateTradeMetrics(ctx context.Context, id int64, avgFillPrice, positionSize, pnl, pnlPct *float64) error
	UpdateExecutionFill(ctx context.Context, id int64, filledQty float64, avgPrice *float64, executedAt *time.Time) error
	SetExchangeOrderID(ctx context.Context, id int64, orderID string) error
	SetReconciliationStatus(ctx context.Context, id int64, status database.ReconciliationStatus, reason string) error
	BumpRecoveryAttempt(ctx context.Context, id int64) (int, error)
}

// Lifecycle applies validated state transitions with audit
type Lifecycle interface {
	TransitionTrade(ctx context.Context, tradeID int64, from, to database.TradeStatus, reason string, metadata map[string]interface{}) error
	TransitionExecution(ctx context.Context, executionID int64, from, to database.ExecutionStatus, reason string, metadata map[string]interface{}) error
}

// Alerter surfaces conditions that need operator attention
type Alerter interface {
	Alert(ctx context.Context, source, message string, details map[string]interface{})
}

// SweepResult summarizes one reconciliation pass
type SweepResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Engine reconciles pending executions against exchange truth. Paper
// executions never touch an adapter: their synthetic orders are
// authoritative locally, so only live executions query the exchange.
type Engine struct {
	store   Store
	lc      Lifecycle
	live    exchange.Adapter
	alerter Alerter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine creates a reconciliation engine. live may be nil; live
// executions then surface credential errors per item without failing
// the sweep. alerter may be nil.
func NewEngine(store Store, lc Lifecycle, live exchange.Adapter, alerter Alerter, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		lc:      lc,
		live:    live,
		alerter: alerter,
		logger:  logger.With().Str("component", "Reconciler").Logger(),
		now:     time.Now,
	}
}

// Sweep processes up to limit pending executions. Each item is
// isolated: one failure never aborts the pass, and re-running a sweep
// over already-consistent state changes nothing.
func (e *Engine) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	pending, err := e.store.PendingExecutions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending executions: %w", err)
	}

	result := &SweepResult{}
	for _, exec := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++
		updated, err := e.reconcileOne(ctx, exec)
		if err != nil {
			result.Errors++
			e.logger.Warn().Err(err).
				Int64("execution_id", exec.ID).
				Str("mode", string(exec.ExecutionMode)).
				Msg("Reconciliation failed for execution")
			continue
		}
		if updated {
			result.Updated++
		}
	}

	e.logger.Info().
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("errors", result.Errors).
		Msg("Reconciliation sweep complete")
	return result, nil
}

// reconcileOne converges a single execution onto exchange truth.
// Returns whether any state changed.
func (e *Engine) reconcileOne(ctx context.Context, exec *database.Execution) (bool, error) {
	if exec.ExchangeOrderID == nil || *exec.ExchangeOrderID == "" {
		if exec.ExecutionMode == database.ModePaper {
			// Paper orders get their id synchronously; a missing one
			// means the write path was interrupted mid-dispatch and
			// nothing can recover it.
			if err := e.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationError, "paper execution missing order id"); err != nil {
				return false, err
			}
			return true, fmt.Errorf("paper execution %d has no order id", exec.ID)
		}
		return e.recoverOrderID(ctx, exec)
	}

	if exec.ExecutionMode == database.ModePaper {
		// A paper order with an id is authoritative the moment it
		// exists; there is no network truth to consult.
		return e.settlePaperFill(ctx, exec)
	}

	adapter, err := e.liveAdapter()
	if err != nil {
		return false, err
	}

	detail, err := adapter.GetOrderDetail(ctx, *exec.ExchangeOrderID, exec.RequestedInstrument)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// The exchange disowns an id it once acknowledged. Flag it
			// rather than guessing a verdict.
			if serr := e.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationError, "exchange has no record of order"); serr != nil {
				return false, serr
			}
			e.alert(ctx, "order disowned by exchange", exec)
			return true, nil
		}
		return false, fmt.Errorf("failed to fetch order %s: %w", *exec.ExchangeOrderID, err)
	}

	return e.applyDetail(ctx, exec, detail)
}

// recoverOrderID tries to resolve a live execution with no exchange
// order id via the client order id, bounded to
// MaxOrderIDRecoveryAttempts before giving up. A not-found lookup
// counts as a failed attempt like any other: the order may have been
// placed and simply not be queryable by client order id yet, so the
// verdict is never guessed before the bound is exhausted.
func (e *Engine) recoverOrderID(ctx context.Context, exec *database.Execution) (bool, error) {
	adapter, err := e.liveAdapter()
	if err != nil {
		return false, err
	}

	attempts, err := e.store.BumpRecoveryAttempt(ctx, exec.ID)
	if err != nil {
		return false, err
	}

	detail, lookupErr := adapter.GetOrderDetailByClientOrderID(ctx, exec.ClientOrderID, exec.RequestedInstrument)
	if lookupErr != nil {
		if attempts >= MaxOrderIDRecoveryAttempts {
			if serr := e.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationError,
				fmt.Sprintf("order id recovery exhausted after %d attempts", attempts)); serr != nil {
				return false, serr
			}
			e.alert(ctx, "order id recovery exhausted", exec)
			return true, nil
		}
		if errors.Is(lookupErr, exchange.ErrOrderNotFound) {
			return false, fmt.Errorf("order id recovery attempt %d: order not yet visible: %w", attempts, lookupErr)
		}
		return false, fmt.Errorf("order id recovery attempt %d failed: %w", attempts, lookupErr)
	}

	if err := e.store.SetExchangeOrderID(ctx, exec.ID, detail.OrderID); err != nil {
		return false, err
	}
	exec.ExchangeOrderID = &detail.OrderID
	e.logger.Info().
		Int64("execution_id", exec.ID).
		Str("order_id", detail.OrderID).
		Int("attempts", attempts).
		Msg("Recovered exchange order id via client order id")

	if _, err := e.applyDetail(ctx, exec, detail); err != nil {
		return true, err
	}
	return true, nil
}

// settlePaperFill marks a paper execution authoritatively filled at
// the requested quantity and propagates the fill to the trade.
func (e *Engine) settlePaperFill(ctx context.Context, exec *database.Execution) (bool, error) {
	changed := false
	if math.Abs(exec.FilledQuantity-exec.RequestedQuantity) > 1e-9 {
		executedAt := e.now().UTC()
		if err := e.store.UpdateExecutionFill(ctx, exec.ID, exec.RequestedQuantity, exec.AveragePrice, &executedAt); err != nil {
			return false, err
		}
		exec.FilledQuantity = exec.RequestedQuantity
		changed = true
	}
	if exec.Status != database.ExecutionStatusFilled {
		if err := e.lc.TransitionExecution(ctx, exec.ID, exec.Status, database.ExecutionStatusFilled, "paper_fill_authoritative", map[string]interface{}{
			"filled_quantity": exec.RequestedQuantity,
		}); err != nil {
			return changed, err
		}
		exec.Status = database.ExecutionStatusFilled
		changed = true
	}
	if err := e.propagateToTrade(ctx, exec, database.TradeStatusFilled, "paper_fill_authoritative"); err != nil {
		return changed, err
	}
	if exec.AveragePrice != nil && *exec.AveragePrice > 0 {
		positionSize := exec.RequestedQuantity * *exec.AveragePrice
		if err := e.store.UpdateTradeMetrics(ctx, exec.TradeID, exec.AveragePrice, &positionSize, nil, nil); err != nil {
			return changed, err
		}
	}
	if exec.ReconciliationStatus != database.ReconciliationOK {
		if err := e.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationOK, ""); err != nil {
			return changed, err
		}
		exec.ReconciliationStatus = database.ReconciliationOK
		changed = true
	}
	return changed, nil
}

// applyDetail converges local state onto the exchange's view of the
// order. Returns whether anything changed.
func (e *Engine) applyDetail(ctx context.Context, exec *database.Execution, detail *exchange.OrderDetail) (bool, error) {
	target := executionStatusFor(detail)

	changed := false
	if detail.ExecutedQty > 0 && fillDiverged(exec, detail) {
		avgPrice := detail.AvgPrice
		var executedAt *time.Time
		if target == database.ExecutionStatusFilled {
			t := e.now().UTC()
			executedAt = &t
		}
		if err := e.store.UpdateExecutionFill(ctx, exec.ID, detail.ExecutedQty, &avgPrice, executedAt); err != nil {
			return false, err
		}
		exec.FilledQuantity = detail.ExecutedQty
		exec.AveragePrice = &avgPrice
		changed = true
	}

	if exec.Status != target {
		if err := e.lc.TransitionExecution(ctx, exec.ID, exec.Status, target, "reconciled_with_exchange", map[string]interface{}{
			"exchange_status": detail.Status,
			"executed_qty":    detail.ExecutedQty,
		}); err != nil {
			return changed, err
		}
		exec.Status = target
		changed = true
	}

	if err := e.propagateToTrade(ctx, exec, tradeStatusFor(target), "reconciled_with_exchange"); err != nil {
		return changed, err
	}

	if target == database.ExecutionStatusFilled {
		avgPrice := detail.AvgPrice
		positionSize := detail.ExecutedQty * detail.AvgPrice
		var pnl *float64
		if detail.Profit != 0 {
			p := detail.Profit
			pnl = &p
		}
		if err := e.store.UpdateTradeMetrics(ctx, exec.TradeID, &avgPrice, &positionSize, pnl, nil); err != nil {
			return changed, err
		}
		e.recordSlippage(exec, detail)
	}

	if target.IsTerminal() {
		if exec.ReconciliationStatus != database.ReconciliationOK {
			if err := e.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationOK, ""); err != nil {
				return changed, err
			}
			exec.ReconciliationStatus = database.ReconciliationOK
			changed = true
		}
	}
	return changed, nil
}

// propagateToTrade moves the owning trade when the execution verdict
// implies a trade status it does not already have.
func (e *Engine) propagateToTrade(ctx context.Context, exec *database.Execution, target database.TradeStatus, reason string) error {
	if target == "" {
		return nil
	}
	trade, err := e.store.GetTrade(ctx, exec.TradeID)
	if err != nil {
		return err
	}
	if trade == nil || trade.Status == target || trade.Status.IsTerminal() {
		return nil
	}
	if err := e.lc.TransitionTrade(ctx, trade.ID, trade.Status, target, reason, nil); err != nil {
		// A concurrent writer moved the trade first; the next sweep
		// re-evaluates from the fresh row.
		if errors.Is(err, database.ErrStatusConflict) {
			return nil
		}
		return err
	}
	return nil
}

// recordSlippage logs fill price deviation from the requested reference
func (e *Engine) recordSlippage(exec *database.Execution, detail *exchange.OrderDetail) {
	if exec.AveragePrice == nil || detail.AvgPrice <= 0 {
		return
	}
	// Reference price is not stored on the execution; slippage is
	// measured against the first recorded average price.
	ref := *exec.AveragePrice
	if ref <= 0 || ref == detail.AvgPrice {
		return
	}
	slippageBps := math.Abs(detail.AvgPrice-ref) / ref * 10000
	e.logger.Info().
		Int64("execution_id", exec.ID).
		Float64("slippage_bps", slippageBps).
		Msg("Fill price diverged from recorded average")
}

func (e *Engine) liveAdapter() (exchange.Adapter, error) {
	if e.live == nil {
		return nil, exchange.ErrCredentialsMissing
	}
	return e.live, nil
}

func (e *Engine) alert(ctx context.Context, message string, exec *database.Execution) {
	if e.alerter == nil {
		return
	}
	e.alerter.Alert(ctx, "reconciler", message, map[string]interface{}{
		"execution_id":    exec.ID,
		"trade_id":        exec.TradeID,
		"instrument":      exec.RequestedInstrument,
		"mode":            string(exec.ExecutionMode),
		"client_order_id": exec.ClientOrderID,
	})
}

// fillDiverged reports whether the exchange fill differs from what is
// recorded locally.
func fillDiverged(exec *database.Execution, detail *exchange.OrderDetail) bool {
	if math.Abs(exec.FilledQuantity-detail.ExecutedQty) > 1e-9 {
		return true
	}
	if exec.AveragePrice == nil {
		return detail.AvgPrice > 0
	}
	return math.Abs(*exec.AveragePrice-detail.AvgPrice) > 1e-9
}

// executionStatusFor maps an exchange order status onto the local
// execution lifecycle: FILLED is filled, any terminal rejection
// (REJECTED/CANCELLED/FAILED) is failed, and every still-working
// status is partial so the item stays in the pending sweep set.
func executionStatusFor(detail *exchange.OrderDetail) database.ExecutionStatus {
	switch detail.Status {
	case exchange.StatusFilled:
		return database.ExecutionStatusFilled
	case exchange.StatusRejected, exchange.StatusCancelled, exchange.StatusFailed:
		return database.ExecutionStatusFailed
	default:
		return database.ExecutionStatusPartial
	}
}

// tradeStatusFor maps an execution verdict onto the owning trade
func tradeStatusFor(status database.ExecutionStatus) database.TradeStatus {
	switch status {
	case database.ExecutionStatusFilled:
		return database.TradeStatusFilled
	case database.ExecutionStatusPartial:
		return database.TradeStatusPartial
	case database.ExecutionStatusFailed:
		return database.TradeStatusRejected
	default:
		return ""
	}
}
