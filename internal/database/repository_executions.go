package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const executionColumns = `id, trade_id, trade_decision_id, exchange_order_id, client_order_id,
	idempotency_key, execution_mode, requested_instrument, requested_side, requested_quantity,
	filled_quantity, average_price, status, status_reason, reconciliation_status,
	attempt_count, last_attempt_at, executed_at, created_at, updated_at`

func scanExecution(row pgx.Row) (*Execution, error) {
	e := &Execution{}
	err := row.Scan(
		&e.ID, &e.TradeID, &e.TradeDecisionID, &e.ExchangeOrderID, &e.ClientOrderID,
		&e.IdempotencyKey, &e.ExecutionMode, &e.RequestedInstrument, &e.RequestedSide, &e.RequestedQuantity,
		&e.FilledQuantity, &e.AveragePrice, &e.Status, &e.StatusReason, &e.ReconciliationStatus,
		&e.AttemptCount, &e.LastAttemptAt, &e.ExecutedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateExecutionIdempotent inserts an execution guarded by the unique
// idempotency_key constraint. First write wins: when the key already
// exists the insert is a no-op, created is false, and the caller reads
// back the winner's row.
func (db *DB) CreateExecutionIdempotent(ctx context.Context, exec *Execution) (created bool, err error) {
	if exec.Status == "" {
		exec.Status = ExecutionStatusSubmitted
	}
	if exec.ReconciliationStatus == "" {
		exec.ReconciliationStatus = ReconciliationPending
	}
	query := `
		INSERT INTO executions (
			trade_id, trade_decision_id, exchange_order_id, client_order_id,
			idempotency_key, execution_mode, requested_instrument, requested_side,
			requested_quantity, status, reconciliation_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at, updated_at`

	err = db.Pool.QueryRow(ctx, query,
		exec.TradeID, exec.TradeDecisionID, exec.ExchangeOrderID, exec.ClientOrderID,
		exec.IdempotencyKey, exec.ExecutionMode, exec.RequestedInstrument, exec.RequestedSide,
		exec.RequestedQuantity, exec.Status, exec.ReconciliationStatus,
	).Scan(&exec.ID, &exec.CreatedAt, &exec.UpdatedAt)

	if err == pgx.ErrNoRows {
		// Lost the insert race; the winner's row is read back by the caller
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create execution: %w", err)
	}
	return true, nil
}

// GetExecutionByIdempotencyKey returns the execution for a key, or nil
func (db *DB) GetExecutionByIdempotencyKey(ctx context.Context, key string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE idempotency_key = $1`
	exec, err := scanExecution(db.Pool.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution by idempotency key: %w", err)
	}
	return exec, nil
}

// GetExecution retrieves an execution by id. Returns nil if not found.
func (db *DB) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	exec, err := scanExecution(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %d: %w", id, err)
	}
	return exec, nil
}

// PendingExecutions lists executions the reconciliation sweep should
// visit: not reconciled yet and either non-terminal or never resolved.
func (db *DB) PendingExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE reconciliation_status = 'pending'
		ORDER BY created_at
		LIMIT $1`

	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// UpdateExecutionFill patches fill data on an execution without
// touching its status
func (db *DB) UpdateExecutionFill(ctx context.Context, id int64, filledQty float64, avgPrice *float64, executedAt *time.Time) error {
	query := `
		UPDATE executions SET
			filled_quantity = $2,
			average_price = COALESCE($3, average_price),
			executed_at = COALESCE($4, executed_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	_, err := db.Pool.Exec(ctx, query, id, filledQty, avgPrice, executedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution %d fill: %w", id, err)
	}
	return nil
}

// SetExchangeOrderID records a resolved exchange order id
func (db *DB) SetExchangeOrderID(ctx context.Context, id int64, orderID string) error {
	query := `UPDATE executions SET exchange_order_id = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, id, orderID)
	if err != nil {
		return fmt.Errorf("failed to set exchange order id on execution %d: %w", id, err)
	}
	return nil
}

// SetReconciliationStatus updates the reconciliation marker and reason
func (db *DB) SetReconciliationStatus(ctx context.Context, id int64, status ReconciliationStatus, reason string) error {
	query := `
		UPDATE executions SET
			reconciliation_status = $2,
			status_reason = CASE WHEN $3 <> '' THEN $3 ELSE status_reason END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	_, err := db.Pool.Exec(ctx, query, id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to set reconciliation status on execution %d: %w", id, err)
	}
	return nil
}

// BumpRecoveryAttempt increments attempt_count and stamps
// last_attempt_at, returning the new count. Incremented on every
// recovery attempt regardless of outcome so the retry bound holds
// across sweeps.
func (db *DB) BumpRecoveryAttempt(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE executions SET
			attempt_count = attempt_count + 1,
			last_attempt_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING attempt_count`

	var count int
	if err := db.Pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to bump recovery attempt on execution %d: %w", id, err)
	}
	return count, nil
}
