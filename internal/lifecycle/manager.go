package lifecycle

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"binance-execution-engine/internal/database"
)

// TransitionStore persists a validated transition and its audit event
// as one atomic unit. The database implementation uses a conditional
// update inside a transaction; failing the condition returns
// database.ErrStatusConflict.
type TransitionStore interface {
	ApplyTradeTransition(ctx context.Context, tradeID int64, from, to database.TradeStatus, reason string, metadata map[string]interface{}) error
	ApplyExecutionTransition(ctx context.Context, executionID int64, from, to database.ExecutionStatus, reason string, metadata map[string]interface{}) error
}

// AuditRecorder receives best-effort operational audit records.
// Recording failures are logged and swallowed; auditing never blocks a
// transition.
type AuditRecorder interface {
	RecordOpsAudit(ctx context.Context, actor, action, resourceType string, resourceID string, metadata map[string]interface{})
}

// Manager validates and applies lifecycle transitions
type Manager struct {
	store  TransitionStore
	audit  AuditRecorder
	logger zerolog.Logger
}

// NewManager creates a lifecycle manager
func NewManager(store TransitionStore, audit AuditRecorder, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		audit:  audit,
		logger: logger.With().Str("component", "Lifecycle").Logger(),
	}
}

// TransitionTrade validates and applies a trade status change. A
// self-transition is a safe no-op: the caller may patch data fields
// separately without re-validating the edge.
func (m *Manager) TransitionTrade(ctx context.Context, tradeID int64, from, to database.TradeStatus, reason string, metadata map[string]interface{}) error {
	if from == to {
		return nil
	}
	if err := CanTransitionTrade(from, to); err != nil {
		return err
	}
	if err := m.store.ApplyTradeTransition(ctx, tradeID, from, to, reason, metadata); err != nil {
		return err
	}

	m.logger.Info().
		Int64("trade_id", tradeID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("trade transitioned")

	if m.audit != nil {
		m.audit.RecordOpsAudit(ctx, "engine", "trade_status_change", "trade",
			formatID(tradeID), map[string]interface{}{
				"from":   string(from),
				"to":     string(to),
				"reason": reason,
			})
	}
	return nil
}

// TransitionExecution validates and applies an execution status change
func (m *Manager) TransitionExecution(ctx context.Context, executionID int64, from, to database.ExecutionStatus, reason string, metadata map[string]interface{}) error {
	if from == to {
		return nil
	}
	if err := CanTransitionExecution(from, to); err != nil {
		return err
	}
	if err := m.store.ApplyExecutionTransition(ctx, executionID, from, to, reason, metadata); err != nil {
		return err
	}

	m.logger.Info().
		Int64("execution_id", executionID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("execution transitioned")

	if m.audit != nil {
		m.audit.RecordOpsAudit(ctx, "engine", "execution_status_change", "execution",
			formatID(executionID), map[string]interface{}{
				"from":   string(from),
				"to":     string(to),
				"reason": reason,
			})
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
