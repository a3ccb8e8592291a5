package database

import (
	"context"
	"fmt"
)

// EngineControls retrieves the global kill switch record. The singleton
// row is seeded by migrations, so this never returns nil on a migrated
// database.
func (db *DB) EngineControls(ctx context.Context) (*EngineControls, error) {
	query := `
		SELECT id, kill_switch_active, kill_switch_reason, kill_switch_actor, version, updated_at
		FROM engine_controls WHERE id = 1`

	controls := &EngineControls{}
	err := db.Pool.QueryRow(ctx, query).Scan(
		&controls.ID, &controls.KillSwitchActive, &controls.KillSwitchReason,
		&controls.KillSwitchActor, &controls.Version, &controls.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get engine controls: %w", err)
	}
	return controls, nil
}

// ArmKillSwitch forces the global kill switch on with the given reason.
// Arming an already-armed switch is a no-op that preserves the original
// reason, so a concurrent re-trip does not clobber an operator-set arm.
func (db *DB) ArmKillSwitch(ctx context.Context, reason, actor string) error {
	query := `
		UPDATE engine_controls SET
			kill_switch_active = TRUE,
			kill_switch_reason = CASE WHEN kill_switch_active THEN kill_switch_reason ELSE $1 END,
			kill_switch_actor = CASE WHEN kill_switch_active THEN kill_switch_actor ELSE $2 END,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`

	_, err := db.Pool.Exec(ctx, query, reason, actor)
	if err != nil {
		return fmt.Errorf("failed to arm kill switch: %w", err)
	}
	return nil
}

// DisarmKillSwitch clears the kill switch only if it is currently armed
// with the given reason. An operator-armed switch is never cleared by
// an automated caller passing a different reason.
func (db *DB) DisarmKillSwitch(ctx context.Context, reason string) error {
	query := `
		UPDATE engine_controls SET
			kill_switch_active = FALSE,
			kill_switch_reason = '',
			kill_switch_actor = '',
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1 AND kill_switch_active = TRUE AND kill_switch_reason = $1`

	_, err := db.Pool.Exec(ctx, query, reason)
	if err != nil {
		return fmt.Errorf("failed to disarm kill switch: %w", err)
	}
	return nil
}
