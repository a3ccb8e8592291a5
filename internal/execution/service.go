// Package execution implements the idempotent order execution service:
// kill switch and promotion gating, allowlist and risk enforcement,
// quantization, and dispatch to the paper or live exchange adapter.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"binance-execution-engine/config"
	"binance-execution-engine/internal/database"
	"binance-execution-engine/internal/events"
	"binance-execution-engine/internal/exchange"
	"binance-execution-engine/internal/quantize"
	"binance-execution-engine/internal/risk"
)

// quantityMatchTolerance bounds float drift when comparing a replayed
// request against the stored execution.
const quantityMatchTolerance = 1e-9

// Gate rejection errors
var (
	ErrKillSwitchActive     = errors.New("execution blocked: kill switch active")
	ErrPromotionGateBlocked = errors.New("live execution blocked: paper performance below promotion thresholds")
	ErrInstrumentNotAllowed = errors.New("instrument not in allowlist")
	ErrIdempotencyKeyReuse  = errors.New("idempotency key reused with different request")
	ErrInvalidRequest       = errors.New("invalid execution request")
)

// Store is the persistence surface the service needs
type Store interface {
	CreateTrade(ctx context.Context, trade *database.Trade) error
	GetTrade(ctx context.Context, id int64) (*database.Trade, error)
	UpdateTradeMetrics(ctx context.Context, id int64, avgFillPrice, positionSize, pnl, pnlPct *float64) error
	CreateExecutionIdempotent(ctx context.Context, exec *database.Execution) (bool, error)
	GetExecutionByIdempotencyKey(ctx context.Context, key string) (*database.Execution, error)
	UpdateExecutionFill(ctx context.Context, id int64, filledQty float64, avgPrice *float64, executedAt *time.Time) error
	SetExchangeOrderID(ctx context.Context, id int64, orderID string) error
	SetReconciliationStatus(ctx context.Context, id int64, status database.ReconciliationStatus, reason string) error
	EngineControls(ctx context.Context) (*database.EngineControls, error)
	PaperPerformance(ctx context.Context) (*database.PaperPerformance, error)
	GetContractRequirements(ctx context.Context, instrument string) (*database.ContractRequirements, error)
}

// Lifecycle applies validated state transitions with audit
type Lifecycle interface {
	TransitionTrade(ctx context.Context, tradeID int64, from, to database.TradeStatus, reason string, metadata map[string]interface{}) error
	TransitionExecution(ctx context.Context, executionID int64, from, to database.ExecutionStatus, reason string, metadata map[string]interface{}) error
}

// RiskEvaluator runs the pre-trade account risk check
type RiskEvaluator interface {
	Evaluate(ctx context.Context, instrument string, quantity float64, leverage int) (*risk.Evaluation, error)
}

// Heartbeat records component liveness, best-effort
type Heartbeat interface {
	RecordFreshness(ctx context.Context, component string, at time.Time) error
}

// Request describes an order the caller wants executed. IdempotencyKey
// is mandatory: retried requests with the same key resolve to the same
// execution row.
type Request struct {
	Instrument     string
	Side           string // long or short
	Quantity       float64
	Mode           database.ExecutionMode
	Leverage       int
	TPPrice        *float64
	SLPrice        *float64
	ReferencePrice *float64
	ClientOrderID  string // optional; generated when empty
	IdempotencyKey string
	Actor          string
}

// Result is the outcome of an execution request. Created is false when
// the request replayed an existing idempotency key.
type Result struct {
	Trade     *database.Trade
	Execution *database.Execution
	Created   bool
}

// Service executes trades through the gate pipeline
type Service struct {
	store     Store
	lifecycle Lifecycle
	risk      RiskEvaluator
	paper     exchange.Adapter
	live      exchange.Adapter
	bus       *events.EventBus
	heartbeat Heartbeat
	engineCfg config.EngineConfig
	riskCfg   config.RiskConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates an execution service. live may be nil when no live
// credentials are configured; live requests then fail with
// exchange.ErrCredentialsMissing. heartbeat may be nil.
func NewService(store Store, lc Lifecycle, riskEval RiskEvaluator, paper, live exchange.Adapter, bus *events.EventBus, heartbeat Heartbeat, engineCfg config.EngineConfig, riskCfg config.RiskConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		lifecycle: lc,
		risk:      riskEval,
		paper:     paper,
		live:      live,
		bus:       bus,
		heartbeat: heartbeat,
		engineCfg: engineCfg,
		riskCfg:   riskCfg,
		logger:    logger.With().Str("component", "ExecutionService").Logger(),
		now:       time.Now,
	}
}

// ExecuteTrade runs the full gate pipeline and dispatches the order.
// Gate rejections persist a rejected trade with the violated reason in
// its audit trail; only the idempotency replay path mutates nothing.
func (s *Service) ExecuteTrade(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Idempotency replay: same key resolves to the stored execution
	// without touching any state.
	if existing, err := s.store.GetExecutionByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	} else if existing != nil {
		return s.resolveReplay(ctx, req, existing)
	}

	if err := s.checkKillSwitch(ctx); err != nil {
		trade, rejErr := s.persistRejection(ctx, req, "kill_switch_active", nil)
		if rejErr != nil {
			return nil, rejErr
		}
		return &Result{Trade: trade}, err
	}

	if err := s.checkAllowlist(req.Instrument); err != nil {
		trade, rejErr := s.persistRejection(ctx, req, "instrument_not_allowed", nil)
		if rejErr != nil {
			return nil, rejErr
		}
		return &Result{Trade: trade}, err
	}

	if req.Mode == database.ModeLive {
		if err := s.checkPromotionGate(ctx); err != nil {
			trade, rejErr := s.persistRejection(ctx, req, "promotion_gate_blocked", nil)
			if rejErr != nil {
				return nil, rejErr
			}
			return &Result{Trade: trade}, err
		}
	}

	eval, err := s.risk.Evaluate(ctx, req.Instrument, notionalOf(req), req.Leverage)
	if err != nil {
		return nil, fmt.Errorf("risk evaluation failed: %w", err)
	}
	if !eval.Allowed {
		s.bus.PublishRiskRejected(req.Instrument, eval.Reasons)
		trade, rejErr := s.persistRejection(ctx, req, "risk_rejected", map[string]interface{}{
			"reasons": eval.Reasons,
		})
		if rejErr != nil {
			return nil, rejErr
		}
		return &Result{Trade: trade}, fmt.Errorf("%w: %s", risk.ErrRiskRejected, strings.Join(eval.Reasons, ", "))
	}

	if req.Leverage > 1 {
		margin := risk.EvaluateMarginFeasibility(risk.MarginInput{
			ProjectedNotional:       notionalOf(req),
			TotalExposure:           eval.Snapshot.TotalExposure,
			Leverage:                req.Leverage,
			MaxTotalExposure:        s.riskCfg.MaxTotalExposure,
			MaxLeverage:             s.riskCfg.MaxLeverage,
			MinLiquidationBufferBps: s.riskCfg.MinLiquidationBufferBps,
		})
		if !margin.Allowed {
			s.bus.PublishRiskRejected(req.Instrument, margin.Reasons)
			trade, rejErr := s.persistRejection(ctx, req, "margin_infeasible", map[string]interface{}{
				"reasons":                margin.Reasons,
				"liquidation_buffer_bps": margin.LiquidationBufferBps,
			})
			if rejErr != nil {
				return nil, rejErr
			}
			return &Result{Trade: trade}, fmt.Errorf("%w: %s", risk.ErrRiskRejected, strings.Join(margin.Reasons, ", "))
		}
	}

	quantized, err := s.quantizeRequest(ctx, req)
	if err != nil {
		trade, rejErr := s.persistRejection(ctx, req, "quantization_failed", map[string]interface{}{
			"error": err.Error(),
		})
		if rejErr != nil {
			return nil, rejErr
		}
		return &Result{Trade: trade}, err
	}

	return s.dispatch(ctx, req, quantized)
}

// dispatch persists the trade and execution, then sends the order to
// the mode's adapter.
func (s *Service) dispatch(ctx context.Context, req Request, quantized quantize.Result) (*Result, error) {
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	trade := &database.Trade{
		Instrument:    req.Instrument,
		Side:          req.Side,
		Quantity:      quantized.Quantity,
		Status:        database.TradeStatusProposed,
		Mode:          req.Mode,
		ClientOrderID: clientOrderID,
		TPPrice:       quantized.TPPrice,
		SLPrice:       quantized.SLPrice,
	}
	if req.Leverage > 0 {
		lev := req.Leverage
		trade.Leverage = &lev
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	exec := &database.Execution{
		TradeID:              trade.ID,
		ClientOrderID:        clientOrderID,
		IdempotencyKey:       req.IdempotencyKey,
		ExecutionMode:        req.Mode,
		RequestedInstrument:  req.Instrument,
		RequestedSide:        req.Side,
		RequestedQuantity:    req.Quantity,
		Status:               database.ExecutionStatusSubmitted,
		ReconciliationStatus: database.ReconciliationPending,
	}
	created, err := s.store.CreateExecutionIdempotent(ctx, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	if !created {
		// A concurrent request with the same key won the insert race.
		// Cancel this trade and resolve to the winner.
		if err := s.lifecycle.TransitionTrade(ctx, trade.ID, database.TradeStatusProposed, database.TradeStatusCancelled, "duplicate_request", nil); err != nil {
			s.logger.Warn().Err(err).Int64("trade_id", trade.ID).Msg("Failed to cancel duplicate trade")
		}
		winner, err := s.store.GetExecutionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve idempotency winner: %w", err)
		}
		if winner == nil {
			return nil, fmt.Errorf("execution insert conflicted but no row found for key %s", req.IdempotencyKey)
		}
		return s.resolveReplay(ctx, req, winner)
	}

	if err := s.lifecycle.TransitionTrade(ctx, trade.ID, database.TradeStatusProposed, database.TradeStatusPlaced, "execution_created", nil); err != nil {
		return nil, err
	}
	trade.Status = database.TradeStatusPlaced

	s.bus.PublishExecutionCreated(exec.ID, trade.ID, req.Instrument, string(req.Mode), req.IdempotencyKey)

	var dispatchErr error
	switch req.Mode {
	case database.ModeLive:
		dispatchErr = s.dispatchLive(ctx, req, trade, exec, quantized)
	default:
		dispatchErr = s.dispatchPaper(ctx, req, trade, exec, quantized)
	}

	s.recordHeartbeat(ctx)

	if dispatchErr != nil {
		return &Result{Trade: trade, Execution: exec, Created: true}, dispatchErr
	}
	return &Result{Trade: trade, Execution: exec, Created: true}, nil
}

// dispatchPaper fills immediately through the paper adapter
func (s *Service) dispatchPaper(ctx context.Context, req Request, trade *database.Trade, exec *database.Execution, quantized quantize.Result) error {
	ack, err := s.paper.PlaceOrder(ctx, orderRequest(req, trade, quantized))
	if err != nil {
		return s.failExecution(ctx, trade, exec, "paper_dispatch_failed", err)
	}
	if err := s.store.SetExchangeOrderID(ctx, exec.ID, ack.OrderID); err != nil {
		return err
	}
	exec.ExchangeOrderID = &ack.OrderID

	detail, err := s.paper.GetOrderDetail(ctx, ack.OrderID, req.Instrument)
	if err != nil {
		// Unresolvable now; the reconciliation sweep settles it.
		s.logger.Warn().Err(err).Str("order_id", ack.OrderID).Msg("Paper fill detail unavailable, left for reconciliation")
		return nil
	}
	return s.applyFill(ctx, trade, exec, detail)
}

// dispatchLive places the order at the exchange. An ambiguous transport
// failure leaves the execution pending: the order may exist, and only
// the reconciliation sweep may decide.
func (s *Service) dispatchLive(ctx context.Context, req Request, trade *database.Trade, exec *database.Execution, quantized quantize.Result) error {
	if s.live == nil {
		return s.failExecution(ctx, trade, exec, "live_credentials_missing", exchange.ErrCredentialsMissing)
	}

	ack, err := s.live.PlaceOrder(ctx, orderRequest(req, trade, quantized))
	if err != nil {
		if errors.Is(err, exchange.ErrUnavailable) {
			s.logger.Warn().Err(err).Int64("execution_id", exec.ID).
				Msg("Live dispatch outcome unknown, left pending for reconciliation")
			return nil
		}
		return s.failExecution(ctx, trade, exec, "live_dispatch_rejected", err)
	}
	if ack.Status == exchange.AckRejected {
		return s.failExecution(ctx, trade, exec, "exchange_rejected", fmt.Errorf("order rejected by exchange"))
	}

	if err := s.store.SetExchangeOrderID(ctx, exec.ID, ack.OrderID); err != nil {
		return err
	}
	exec.ExchangeOrderID = &ack.OrderID

	// Best-effort immediate settle; the sweep covers anything left open.
	detail, err := s.live.GetOrderDetail(ctx, ack.OrderID, req.Instrument)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", ack.OrderID).Msg("Order detail unavailable after placement, left for reconciliation")
		return nil
	}
	if detail.Status == exchange.StatusFilled {
		return s.applyFill(ctx, trade, exec, detail)
	}
	if detail.ExecutedQty > 0 {
		return s.applyPartialFill(ctx, trade, exec, detail)
	}
	return nil
}

// applyFill settles a fully filled execution and propagates to the trade
func (s *Service) applyFill(ctx context.Context, trade *database.Trade, exec *database.Execution, detail *exchange.OrderDetail) error {
	executedAt := s.now().UTC()
	avgPrice := detail.AvgPrice
	if err := s.store.UpdateExecutionFill(ctx, exec.ID, detail.ExecutedQty, &avgPrice, &executedAt); err != nil {
		return err
	}
	if err := s.lifecycle.TransitionExecution(ctx, exec.ID, exec.Status, database.ExecutionStatusFilled, "order_filled", map[string]interface{}{
		"filled_quantity": detail.ExecutedQty,
		"average_price":   detail.AvgPrice,
	}); err != nil {
		return err
	}
	exec.Status = database.ExecutionStatusFilled
	exec.FilledQuantity = detail.ExecutedQty
	exec.AveragePrice = &avgPrice

	if err := s.lifecycle.TransitionTrade(ctx, trade.ID, trade.Status, database.TradeStatusFilled, "execution_filled", nil); err != nil {
		return err
	}
	trade.Status = database.TradeStatusFilled

	positionSize := detail.ExecutedQty * detail.AvgPrice
	if err := s.store.UpdateTradeMetrics(ctx, trade.ID, &avgPrice, &positionSize, nil, nil); err != nil {
		return err
	}
	if err := s.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationOK, ""); err != nil {
		return err
	}
	exec.ReconciliationStatus = database.ReconciliationOK

	s.logger.Info().
		Int64("trade_id", trade.ID).
		Int64("execution_id", exec.ID).
		Float64("filled_quantity", detail.ExecutedQty).
		Float64("average_price", detail.AvgPrice).
		Msg("Execution filled")
	return nil
}

// applyPartialFill records a partial fill and leaves reconciliation pending
func (s *Service) applyPartialFill(ctx context.Context, trade *database.Trade, exec *database.Execution, detail *exchange.OrderDetail) error {
	avgPrice := detail.AvgPrice
	if err := s.store.UpdateExecutionFill(ctx, exec.ID, detail.ExecutedQty, &avgPrice, nil); err != nil {
		return err
	}
	if err := s.lifecycle.TransitionExecution(ctx, exec.ID, exec.Status, database.ExecutionStatusPartial, "order_partially_filled", map[string]interface{}{
		"filled_quantity": detail.ExecutedQty,
	}); err != nil {
		return err
	}
	exec.Status = database.ExecutionStatusPartial
	exec.FilledQuantity = detail.ExecutedQty
	exec.AveragePrice = &avgPrice

	if err := s.lifecycle.TransitionTrade(ctx, trade.ID, trade.Status, database.TradeStatusPartial, "execution_partially_filled", nil); err != nil {
		return err
	}
	trade.Status = database.TradeStatusPartial
	return nil
}

// failExecution marks the execution failed and the trade rejected
func (s *Service) failExecution(ctx context.Context, trade *database.Trade, exec *database.Execution, reason string, cause error) error {
	if err := s.lifecycle.TransitionExecution(ctx, exec.ID, exec.Status, database.ExecutionStatusFailed, reason, map[string]interface{}{
		"error": cause.Error(),
	}); err != nil {
		return err
	}
	exec.Status = database.ExecutionStatusFailed
	if err := s.lifecycle.TransitionTrade(ctx, trade.ID, trade.Status, database.TradeStatusRejected, reason, nil); err != nil {
		return err
	}
	trade.Status = database.TradeStatusRejected
	if err := s.store.SetReconciliationStatus(ctx, exec.ID, database.ReconciliationOK, reason); err != nil {
		return err
	}
	exec.ReconciliationStatus = database.ReconciliationOK
	return fmt.Errorf("execution failed (%s): %w", reason, cause)
}

// resolveReplay validates a replayed idempotency key against the stored
// execution and returns the stored row untouched. A key reuse with a
// different request is an error and mutates nothing.
func (s *Service) resolveReplay(ctx context.Context, req Request, existing *database.Execution) (*Result, error) {
	if !matchesRequest(req, existing) {
		return nil, fmt.Errorf("%w: key %s", ErrIdempotencyKeyReuse, req.IdempotencyKey)
	}
	trade, err := s.store.GetTrade(ctx, existing.TradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade for replayed execution: %w", err)
	}
	s.logger.Debug().
		Str("idempotency_key", req.IdempotencyKey).
		Int64("execution_id", existing.ID).
		Msg("Idempotent replay resolved to existing execution")
	return &Result{Trade: trade, Execution: existing, Created: false}, nil
}

// persistRejection records a gate rejection as a proposed trade
// immediately transitioned to rejected, so the audit trail carries the
// violated reason.
func (s *Service) persistRejection(ctx context.Context, req Request, reason string, metadata map[string]interface{}) (*database.Trade, error) {
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	trade := &database.Trade{
		Instrument:    req.Instrument,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        database.TradeStatusProposed,
		Mode:          req.Mode,
		ClientOrderID: clientOrderID,
		TPPrice:       req.TPPrice,
		SLPrice:       req.SLPrice,
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist rejected trade: %w", err)
	}
	if err := s.lifecycle.TransitionTrade(ctx, trade.ID, database.TradeStatusProposed, database.TradeStatusRejected, reason, metadata); err != nil {
		return nil, err
	}
	trade.Status = database.TradeStatusRejected
	return trade, nil
}

// checkKillSwitch re-reads the engine controls row; the switch state is
// never cached in process.
func (s *Service) checkKillSwitch(ctx context.Context) error {
	controls, err := s.store.EngineControls(ctx)
	if err != nil {
		return fmt.Errorf("failed to read engine controls: %w", err)
	}
	if controls.KillSwitchActive {
		return fmt.Errorf("%w: %s", ErrKillSwitchActive, controls.KillSwitchReason)
	}
	return nil
}

func (s *Service) checkAllowlist(instrument string) error {
	if len(s.engineCfg.InstrumentAllowlist) == 0 {
		return nil
	}
	for _, allowed := range s.engineCfg.InstrumentAllowlist {
		if strings.EqualFold(allowed, instrument) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInstrumentNotAllowed, instrument)
}

// checkPromotionGate blocks live executions until paper performance
// clears the configured thresholds.
func (s *Service) checkPromotionGate(ctx context.Context) error {
	if !s.engineCfg.PromotionGateRequired {
		return nil
	}
	perf, err := s.store.PaperPerformance(ctx)
	if err != nil {
		return fmt.Errorf("failed to load paper performance: %w", err)
	}

	var failures []string
	if perf.TradeCount < s.engineCfg.MinPaperTrades {
		failures = append(failures, fmt.Sprintf("trades %d < %d", perf.TradeCount, s.engineCfg.MinPaperTrades))
	}
	if perf.WinRate < s.engineCfg.MinPaperWinRate {
		failures = append(failures, fmt.Sprintf("win rate %.2f < %.2f", perf.WinRate, s.engineCfg.MinPaperWinRate))
	}
	if perf.NetPnL < s.engineCfg.MinPaperNetPnL {
		failures = append(failures, fmt.Sprintf("net pnl %.2f < %.2f", perf.NetPnL, s.engineCfg.MinPaperNetPnL))
	}
	if s.engineCfg.MaxPaperDrawdown > 0 && perf.MaxDrawdown > s.engineCfg.MaxPaperDrawdown {
		failures = append(failures, fmt.Sprintf("drawdown %.2f > %.2f", perf.MaxDrawdown, s.engineCfg.MaxPaperDrawdown))
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %s", ErrPromotionGateBlocked, strings.Join(failures, "; "))
	}
	return nil
}

// quantizeRequest normalizes the order against stored contract
// requirements. An instrument without contract metadata passes through
// unquantized.
func (s *Service) quantizeRequest(ctx context.Context, req Request) (quantize.Result, error) {
	contract, err := s.store.GetContractRequirements(ctx, req.Instrument)
	if err != nil {
		return quantize.Result{}, fmt.Errorf("failed to load contract requirements: %w", err)
	}
	if contract == nil {
		s.logger.Warn().Str("instrument", req.Instrument).Msg("No contract requirements, skipping quantization")
		return quantize.Result{Quantity: req.Quantity, TPPrice: req.TPPrice, SLPrice: req.SLPrice}, nil
	}

	result, err := quantize.Quantize(quantize.Request{
		Quantity:       req.Quantity,
		TPPrice:        req.TPPrice,
		SLPrice:        req.SLPrice,
		ReferencePrice: req.ReferencePrice,
	}, quantize.Contract{
		Instrument:        contract.Instrument,
		PriceStep:         contract.PriceStep,
		QuantityStep:      contract.QuantityStep,
		MinQuantity:       contract.MinQuantity,
		MinNotional:       contract.MinNotional,
		PricePrecision:    contract.PricePrecision,
		QuantityPrecision: contract.QuantityPrecision,
	})
	if err != nil {
		return quantize.Result{}, err
	}
	if result.QuantityAdjusted {
		s.logger.Debug().
			Str("instrument", req.Instrument).
			Float64("requested", req.Quantity).
			Float64("quantized", result.Quantity).
			Msg("Quantity adjusted to contract step")
	}
	return *result, nil
}

func (s *Service) recordHeartbeat(ctx context.Context) {
	if s.heartbeat == nil {
		return
	}
	if err := s.heartbeat.RecordFreshness(ctx, "execution", s.now().UTC()); err != nil {
		s.logger.Debug().Err(err).Msg("Heartbeat not recorded")
	}
}

func validateRequest(req Request) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key required", ErrInvalidRequest)
	}
	if req.Instrument == "" {
		return fmt.Errorf("%w: instrument required", ErrInvalidRequest)
	}
	if req.Side != database.SideLong && req.Side != database.SideShort {
		return fmt.Errorf("%w: side must be long or short", ErrInvalidRequest)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if req.Mode != database.ModePaper && req.Mode != database.ModeLive {
		return fmt.Errorf("%w: mode must be paper or live", ErrInvalidRequest)
	}
	return nil
}

// matchesRequest compares a replayed request against the stored
// execution on the fields that define the order. The client order id
// is caller-optional; a supplied one must match the stored value.
func matchesRequest(req Request, exec *database.Execution) bool {
	if req.ClientOrderID != "" && exec.ClientOrderID != req.ClientOrderID {
		return false
	}
	return exec.RequestedInstrument == req.Instrument &&
		exec.RequestedSide == req.Side &&
		exec.ExecutionMode == req.Mode &&
		math.Abs(exec.RequestedQuantity-req.Quantity) < quantityMatchTolerance
}

// notionalOf estimates the quote-currency notional for risk checks,
// falling back to raw quantity when no reference price is known.
func notionalOf(req Request) float64 {
	if req.ReferencePrice != nil && *req.ReferencePrice > 0 {
		return req.Quantity * *req.ReferencePrice
	}
	return req.Quantity
}

// orderRequest maps an execution request onto the adapter order shape
func orderRequest(req Request, trade *database.Trade, quantized quantize.Result) exchange.OrderRequest {
	return exchange.OrderRequest{
		Instrument:     req.Instrument,
		Side:           req.Side,
		Quantity:       quantized.Quantity,
		ClientOrderID:  trade.ClientOrderID,
		TPPrice:        quantized.TPPrice,
		SLPrice:        quantized.SLPrice,
		ReferencePrice: req.ReferencePrice,
	}
}
