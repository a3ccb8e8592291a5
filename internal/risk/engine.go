// Package risk implements the account-level risk engine: exposure and
// loss limits, the circuit breaker driving the global kill switch, and
// margin feasibility for leveraged orders.
package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-execution-engine/internal/database"
)

// Violated-limit reason strings, stable across releases: they surface
// to callers and land in audit metadata.
const (
	ReasonMaxTotalExposure      = "max_total_exposure"
	ReasonMaxInstrumentExposure = "max_instrument_exposure"
	ReasonMaxOpenPositions      = "max_open_positions"
	ReasonMaxDailyLoss          = "max_daily_loss"
	ReasonMaxLeverage           = "max_leverage"
	ReasonCircuitBreaker        = "circuit_breaker"
	ReasonCooldownActive        = "cooldown_active"
)

// KillSwitchReasonCircuitBreaker marks a kill switch armed by the
// breaker, as opposed to an operator. Cooldown clearing disarms the
// switch only when this reason still matches.
const KillSwitchReasonCircuitBreaker = "account_risk_circuit_breaker"

// tripAuditDedupeWindow suppresses duplicate trip audit events from
// concurrent evaluations; the trip itself stays idempotent.
const tripAuditDedupeWindow = 30 * time.Second

// ErrRiskRejected is wrapped by every enforcement rejection
var ErrRiskRejected = errors.New("trade rejected by account risk policy")

// PolicyStore persists versioned risk policies
type PolicyStore interface {
	ActiveRiskPolicy(ctx context.Context) (*database.AccountRiskPolicy, error)
	CreateRiskPolicy(ctx context.Context, policy *database.AccountRiskPolicy) error
}

// StateStore persists the circuit-breaker state
type StateStore interface {
	CurrentRiskState(ctx context.Context) (*database.AccountRiskState, error)
	SaveRiskState(ctx context.Context, state *database.AccountRiskState) error
}

// ControlsStore arms and disarms the global kill switch
type ControlsStore interface {
	ArmKillSwitch(ctx context.Context, reason, actor string) error
	DisarmKillSwitch(ctx context.Context, reason string) error
}

// AuditRecorder receives best-effort ops audit records
type AuditRecorder interface {
	RecordOpsAudit(ctx context.Context, actor, action, resourceType string, resourceID string, metadata map[string]interface{})
}

// TripDeduper suppresses duplicate trip audits across processes.
// Implementations should fail open: when the dedupe store is down the
// audit simply repeats.
type TripDeduper interface {
	FirstTripInWindow(ctx context.Context, reason string, window time.Duration) bool
}

// Defaults is the baseline policy created lazily when none exists
type Defaults struct {
	MaxTotalExposure        float64
	MaxInstrumentExposure   float64
	MaxOpenPositions        int
	MaxDailyLoss            float64
	CircuitBreakerLoss      float64
	CooldownMinutes         int
	MaxLeverage             int
	MinLiquidationBufferBps float64
}

// Evaluation is the outcome of a pre-trade risk check
type Evaluation struct {
	Allowed  bool              `json:"allowed"`
	Reasons  []string          `json:"reasons,omitempty"`
	Snapshot *ExposureSnapshot `json:"snapshot"`
}

// Engine evaluates account risk and drives the circuit breaker
type Engine struct {
	policies PolicyStore
	states   StateStore
	trades   TradeSource
	controls ControlsStore
	audit    AuditRecorder
	deduper  TripDeduper
	defaults Defaults
	logger   zerolog.Logger
	now      func() time.Time

	mu             sync.Mutex
	lastTripAudit  time.Time
}

// NewEngine creates a risk engine. deduper may be nil; trip audits then
// dedupe only within this process.
func NewEngine(policies PolicyStore, states StateStore, trades TradeSource, controls ControlsStore, audit AuditRecorder, deduper TripDeduper, defaults Defaults, logger zerolog.Logger) *Engine {
	return &Engine{
		policies: policies,
		states:   states,
		trades:   trades,
		controls: controls,
		audit:    audit,
		deduper:  deduper,
		defaults: defaults,
		logger:   logger.With().Str("component", "RiskEngine").Logger(),
		now:      time.Now,
	}
}

// Evaluate runs the pre-trade account risk check for a prospective
// order. Each limit is checked independently; all violated limits are
// reported, not just the first.
func (e *Engine) Evaluate(ctx context.Context, instrument string, quantity float64, leverage int) (*Evaluation, error) {
	state, err := e.currentState(ctx)
	if err != nil {
		return nil, err
	}
	state, err = e.clearExpiredCooldown(ctx, state)
	if err != nil {
		return nil, err
	}

	policy, err := e.activePolicy(ctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := computeSnapshot(ctx, e.trades, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to compute exposure snapshot: %w", err)
	}

	var reasons []string
	if policy.MaxTotalExposure > 0 && snapshot.TotalExposure+quantity > policy.MaxTotalExposure {
		reasons = append(reasons, ReasonMaxTotalExposure)
	}
	if policy.MaxInstrumentExposure > 0 && snapshot.InstrumentExposure[instrument]+quantity > policy.MaxInstrumentExposure {
		reasons = append(reasons, ReasonMaxInstrumentExposure)
	}
	if policy.MaxOpenPositions > 0 && snapshot.OpenPositions+1 > policy.MaxOpenPositions {
		reasons = append(reasons, ReasonMaxOpenPositions)
	}
	if policy.MaxDailyLoss > 0 && snapshot.DailyLoss > policy.MaxDailyLoss {
		reasons = append(reasons, ReasonMaxDailyLoss)
	}
	if leverage > 0 && policy.MaxLeverage > 0 && leverage > policy.MaxLeverage {
		reasons = append(reasons, ReasonMaxLeverage)
	}

	if policy.CircuitBreakerLoss > 0 && snapshot.DailyLoss >= policy.CircuitBreakerLoss {
		state, err = e.tripBreaker(ctx, state, policy, snapshot.DailyLoss)
		if err != nil {
			return nil, err
		}
		reasons = append(reasons, ReasonCircuitBreaker)
	}

	if state.Status == database.RiskStatusCooldown {
		reasons = append(reasons, ReasonCooldownActive)
	}

	return &Evaluation{
		Allowed:  len(reasons) == 0,
		Reasons:  reasons,
		Snapshot: snapshot,
	}, nil
}

// Enforce rejects with all violated reasons joined when the evaluation
// does not allow the order.
func (e *Engine) Enforce(ctx context.Context, instrument string, quantity float64, leverage int) error {
	eval, err := e.Evaluate(ctx, instrument, quantity, leverage)
	if err != nil {
		return err
	}
	if !eval.Allowed {
		return fmt.Errorf("%w: %s", ErrRiskRejected, strings.Join(eval.Reasons, ", "))
	}
	return nil
}

// currentState loads the risk state, creating it lazily as ok
func (e *Engine) currentState(ctx context.Context) (*database.AccountRiskState, error) {
	state, err := e.states.CurrentRiskState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk state: %w", err)
	}
	if state == nil {
		state = &database.AccountRiskState{Status: database.RiskStatusOK}
		if err := e.states.SaveRiskState(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to create risk state: %w", err)
		}
	}
	return state, nil
}

// activePolicy loads the active policy, creating the baseline default
// lazily when none exists
func (e *Engine) activePolicy(ctx context.Context) (*database.AccountRiskPolicy, error) {
	policy, err := e.policies.ActiveRiskPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk policy: %w", err)
	}
	if policy == nil {
		policy = &database.AccountRiskPolicy{
			MaxTotalExposure:      e.defaults.MaxTotalExposure,
			MaxInstrumentExposure: e.defaults.MaxInstrumentExposure,
			MaxOpenPositions:      e.defaults.MaxOpenPositions,
			MaxDailyLoss:          e.defaults.MaxDailyLoss,
			CircuitBreakerLoss:    e.defaults.CircuitBreakerLoss,
			CooldownMinutes:       e.defaults.CooldownMinutes,
			MaxLeverage:           e.defaults.MaxLeverage,
			Active:                true,
		}
		if err := e.policies.CreateRiskPolicy(ctx, policy); err != nil {
			return nil, fmt.Errorf("failed to create baseline risk policy: %w", err)
		}
		e.logger.Info().Msg("created baseline account risk policy")
	}
	return policy, nil
}

// clearExpiredCooldown transitions an expired cooldown back to ok and
// disarms the kill switch iff the breaker armed it. Idempotent under
// concurrent evaluation.
func (e *Engine) clearExpiredCooldown(ctx context.Context, state *database.AccountRiskState) (*database.AccountRiskState, error) {
	if state.Status != database.RiskStatusCooldown {
		return state, nil
	}
	if state.CooldownUntil == nil || e.now().Before(*state.CooldownUntil) {
		return state, nil
	}

	state.Status = database.RiskStatusOK
	state.CooldownUntil = nil
	state.TriggerReason = nil
	if err := e.states.SaveRiskState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to clear cooldown: %w", err)
	}
	if err := e.controls.DisarmKillSwitch(ctx, KillSwitchReasonCircuitBreaker); err != nil {
		return nil, fmt.Errorf("failed to disarm kill switch after cooldown: %w", err)
	}

	e.logger.Info().Msg("risk cooldown expired, state cleared to ok")
	if e.audit != nil {
		e.audit.RecordOpsAudit(ctx, "engine", "risk_cooldown_cleared", "account_risk_state", "", nil)
	}
	return state, nil
}

// tripBreaker puts the account into cooldown and forces the global
// kill switch on. Re-tripping while already in cooldown is a safe
// repeat of the same effect, never a duplicate alert storm.
func (e *Engine) tripBreaker(ctx context.Context, state *database.AccountRiskState, policy *database.AccountRiskPolicy, dailyLoss float64) (*database.AccountRiskState, error) {
	now := e.now()
	until := now.Add(time.Duration(policy.CooldownMinutes) * time.Minute)
	reason := fmt.Sprintf("daily loss %.2f breached circuit breaker threshold %.2f", dailyLoss, policy.CircuitBreakerLoss)

	state.Status = database.RiskStatusCooldown
	state.CooldownUntil = &until
	state.LastTriggeredAt = &now
	state.TriggerReason = &reason
	if err := e.states.SaveRiskState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist breaker trip: %w", err)
	}
	if err := e.controls.ArmKillSwitch(ctx, KillSwitchReasonCircuitBreaker, "risk_engine"); err != nil {
		return nil, fmt.Errorf("failed to arm kill switch: %w", err)
	}

	e.logger.Warn().
		Float64("daily_loss", dailyLoss).
		Float64("threshold", policy.CircuitBreakerLoss).
		Time("cooldown_until", until).
		Msg("account risk circuit breaker tripped")

	if e.shouldAuditTrip(ctx) && e.audit != nil {
		e.audit.RecordOpsAudit(ctx, "engine", "circuit_breaker_tripped", "account_risk_state", "", map[string]interface{}{
			"daily_loss":     dailyLoss,
			"threshold":      policy.CircuitBreakerLoss,
			"cooldown_until": until,
		})
	}
	return state, nil
}

// shouldAuditTrip dedupes trip audit events within a short window;
// concurrent evaluations may both trip, only one should audit.
func (e *Engine) shouldAuditTrip(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if now.Sub(e.lastTripAudit) < tripAuditDedupeWindow {
		return false
	}
	if e.deduper != nil && !e.deduper.FirstTripInWindow(ctx, KillSwitchReasonCircuitBreaker, tripAuditDedupeWindow) {
		e.lastTripAudit = now
		return false
	}
	e.lastTripAudit = now
	return true
}
