package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStatusConflict is returned when a conditional status update hits a
// row whose current status no longer matches the expected one — a
// concurrent transition won the race.
var ErrStatusConflict = errors.New("entity status changed concurrently")

// ApplyTradeTransition persists a trade status change and appends the
// lifecycle audit event in one transaction. The UPDATE is conditional
// on the expected current status so two concurrent transitions on the
// same trade cannot both succeed.
func (db *DB) ApplyTradeTransition(ctx context.Context, tradeID int64, from, to TradeStatus, reason string, metadata map[string]interface{}) error {
	return db.applyTransition(ctx, "trades", "trade", tradeID, string(from), string(to), reason, metadata)
}

// ApplyExecutionTransition is the execution counterpart of
// ApplyTradeTransition.
func (db *DB) ApplyExecutionTransition(ctx context.Context, executionID int64, from, to ExecutionStatus, reason string, metadata map[string]interface{}) error {
	return db.applyTransition(ctx, "executions", "execution", executionID, string(from), string(to), reason, metadata)
}

func (db *DB) applyTransition(ctx context.Context, table, entityType string, entityID int64, from, to, reason string, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := fmt.Sprintf(
		`UPDATE %s SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3`, table)
	tag, err := tx.Exec(ctx, updateQuery, to, entityID, from)
	if err != nil {
		return fmt.Errorf("failed to update %s %d status: %w", entityType, entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d expected status %q: %w", entityType, entityID, from, ErrStatusConflict)
	}

	eventQuery := `
		INSERT INTO trade_state_events (entity_type, entity_id, from_status, to_status, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, eventQuery, entityType, entityID, from, to, reason, metadataJSON); err != nil {
		return fmt.Errorf("failed to record state event for %s %d: %w", entityType, entityID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition for %s %d: %w", entityType, entityID, err)
	}
	return nil
}

// StateEvents returns the audit trail for an entity, oldest first
func (db *DB) StateEvents(ctx context.Context, entityType string, entityID int64) ([]TradeStateEvent, error) {
	query := `
		SELECT id, entity_type, entity_id, from_status, to_status, reason, metadata, recorded_at
		FROM trade_state_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY recorded_at, id`

	rows, err := db.Pool.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list state events: %w", err)
	}
	defer rows.Close()

	var events []TradeStateEvent
	for rows.Next() {
		var ev TradeStateEvent
		var metadataJSON []byte
		if err := rows.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.FromStatus, &ev.ToStatus, &ev.Reason, &metadataJSON, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ev.Metadata); err != nil {
				ev.Metadata = nil
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
