package database

import (
	"time"
)

// TradeStatus is the lifecycle status of a Trade
type TradeStatus string

const (
	TradeStatusProposed  TradeStatus = "proposed"
	TradeStatusPlaced    TradeStatus = "placed"
	TradeStatusPartial   TradeStatus = "partial"
	TradeStatusFilled    TradeStatus = "filled"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusRejected  TradeStatus = "rejected"
)

// ExecutionStatus is the lifecycle status of an Execution
type ExecutionStatus string

const (
	ExecutionStatusSubmitted ExecutionStatus = "submitted"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFilled    ExecutionStatus = "filled"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionMode selects the paper or live exchange adapter
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// ReconciliationStatus tracks whether an Execution has been resolved
// against exchange truth
type ReconciliationStatus string

const (
	ReconciliationOK      ReconciliationStatus = "ok"
	ReconciliationPending ReconciliationStatus = "pending"
	ReconciliationError   ReconciliationStatus = "error"
)

// Trade side constants
const (
	SideLong  = "long"
	SideShort = "short"
)

// Risk state status constants
const (
	RiskStatusOK       = "ok"
	RiskStatusCooldown = "cooldown"
)

// Trade represents a requested position-changing action.
// Owned exclusively by the engine once created; status is mutated only
// through the lifecycle state machine.
type Trade struct {
	ID            int64         `json:"id"`
	Instrument    string        `json:"instrument"`
	Side          string        `json:"side"` // long or short
	Quantity      float64       `json:"quantity"`
	Status        TradeStatus   `json:"status"`
	Mode          ExecutionMode `json:"mode"`
	ClientOrderID string        `json:"client_order_id"`
	AvgFillPrice  *float64      `json:"avg_fill_price,omitempty"`
	PositionSize  *float64      `json:"position_size,omitempty"`
	PnL           *float64      `json:"pnl,omitempty"`
	PnLPct        *float64      `json:"pnl_pct,omitempty"`
	TPPrice       *float64      `json:"tp_price,omitempty"`
	SLPrice       *float64      `json:"sl_price,omitempty"`
	Leverage      *int          `json:"leverage,omitempty"`
	MarginType    *string       `json:"margin_type,omitempty"` // CROSSED or ISOLATED
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Execution represents one attempt to fill a Trade at the exchange.
// IdempotencyKey carries a unique constraint: two requests with the same
// key must resolve to the same row, never create two.
type Execution struct {
	ID                   int64                `json:"id"`
	TradeID              int64                `json:"trade_id"`
	TradeDecisionID      *int64               `json:"trade_decision_id,omitempty"`
	ExchangeOrderID      *string              `json:"exchange_order_id,omitempty"`
	ClientOrderID        string               `json:"client_order_id"`
	IdempotencyKey       string               `json:"idempotency_key"`
	ExecutionMode        ExecutionMode        `json:"execution_mode"`
	RequestedInstrument  string               `json:"requested_instrument"`
	RequestedSide        string               `json:"requested_side"`
	RequestedQuantity    float64              `json:"requested_quantity"`
	FilledQuantity       float64              `json:"filled_quantity"`
	AveragePrice         *float64             `json:"average_price,omitempty"`
	Status               ExecutionStatus      `json:"status"`
	StatusReason         *string              `json:"status_reason,omitempty"`
	ReconciliationStatus ReconciliationStatus `json:"reconciliation_status"`
	AttemptCount         int                  `json:"attempt_count"`
	LastAttemptAt        *time.Time           `json:"last_attempt_at,omitempty"`
	ExecutedAt           *time.Time           `json:"executed_at,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// AccountRiskPolicy holds versioned account-level risk limits.
// Exactly one policy is active at evaluation time: the most recent by
// effective_from among rows with active = true.
type AccountRiskPolicy struct {
	ID                    int64     `json:"id"`
	MaxTotalExposure      float64   `json:"max_total_exposure"`
	MaxInstrumentExposure float64   `json:"max_instrument_exposure"`
	MaxOpenPositions      int       `json:"max_open_positions"`
	MaxDailyLoss          float64   `json:"max_daily_loss"`
	CircuitBreakerLoss    float64   `json:"circuit_breaker_loss"`
	CooldownMinutes       int       `json:"cooldown_minutes"`
	MaxLeverage           int       `json:"max_leverage"`
	Active                bool      `json:"active"`
	EffectiveFrom         time.Time `json:"effective_from"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// AccountRiskState is the singleton mutable circuit-breaker state for
// the account (latest row by updated_at); created lazily as ok.
type AccountRiskState struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"` // ok or cooldown
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerReason   *string    `json:"trigger_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TradeStateEvent is an append-only audit row recorded for every
// successful lifecycle transition. Never mutated or deleted.
type TradeStateEvent struct {
	ID         int64                  `json:"id"`
	EntityType string                 `json:"entity_type"` // trade or execution
	EntityID   int64                  `json:"entity_id"`
	FromStatus string                 `json:"from_status"`
	ToStatus   string                 `json:"to_status"`
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// ContractRequirements holds exchange contract metadata used by the
// quantization layer (step sizes, minimums, precisions).
type ContractRequirements struct {
	Instrument        string    `json:"instrument"`
	PriceStep         float64   `json:"price_step"`
	QuantityStep      float64   `json:"quantity_step"`
	MinQuantity       float64   `json:"min_quantity"`
	MinNotional       float64   `json:"min_notional"`
	PricePrecision    int       `json:"price_precision"`
	QuantityPrecision int       `json:"quantity_precision"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EngineControls is the versioned global kill switch record, re-read
// per evaluation rather than cached in process.
type EngineControls struct {
	ID               int64     `json:"id"`
	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchReason string    `json:"kill_switch_reason"`
	KillSwitchActor  string    `json:"kill_switch_actor"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PaperPerformance aggregates paper-mode trading results for the live
// promotion gate.
type PaperPerformance struct {
	TradeCount  int     `json:"trade_count"`
	WinRate     float64 `json:"win_rate"` // fraction of closed trades with pnl > 0
	NetPnL      float64 `json:"net_pnl"`
	MaxDrawdown float64 `json:"max_drawdown"` // worst cumulative loss, positive number
}

// IsTerminal reports whether a trade status has no outgoing edges
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusFilled || s == TradeStatusCancelled || s == TradeStatusRejected
}

// IsTerminal reports whether an execution status has no outgoing edges
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusFilled || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}
