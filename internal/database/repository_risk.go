package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ActiveRiskPolicy retrieves the currently active risk policy: most
// recent by effective_from among active rows. Returns nil if none
// exists (caller creates the baseline default lazily).
func (db *DB) ActiveRiskPolicy(ctx context.Context) (*AccountRiskPolicy, error) {
	query := `
		SELECT id, max_total_exposure, max_instrument_exposure, max_open_positions,
			max_daily_loss, circuit_breaker_loss, cooldown_minutes, max_leverage,
			active, effective_from, created_at, updated_at
		FROM account_risk_policies
		WHERE active = TRUE
		ORDER BY effective_from DESC
		LIMIT 1`

	policy := &AccountRiskPolicy{}
	err := db.Pool.QueryRow(ctx, query).Scan(
		&policy.ID, &policy.MaxTotalExposure, &policy.MaxInstrumentExposure, &policy.MaxOpenPositions,
		&policy.MaxDailyLoss, &policy.CircuitBreakerLoss, &policy.CooldownMinutes, &policy.MaxLeverage,
		&policy.Active, &policy.EffectiveFrom, &policy.CreatedAt, &policy.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active risk policy: %w", err)
	}
	return policy, nil
}

// CreateRiskPolicy inserts a new policy version
func (db *DB) CreateRiskPolicy(ctx context.Context, policy *AccountRiskPolicy) error {
	query := `
		INSERT INTO account_risk_policies (
			max_total_exposure, max_instrument_exposure, max_open_positions,
			max_daily_loss, circuit_breaker_loss, cooldown_minutes, max_leverage,
			active, effective_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, CURRENT_TIMESTAMP))
		RETURNING id, effective_from, created_at, updated_at`

	var effectiveFrom interface{}
	if !policy.EffectiveFrom.IsZero() {
		effectiveFrom = policy.EffectiveFrom
	}
	err := db.Pool.QueryRow(ctx, query,
		policy.MaxTotalExposure, policy.MaxInstrumentExposure, policy.MaxOpenPositions,
		policy.MaxDailyLoss, policy.CircuitBreakerLoss, policy.CooldownMinutes, policy.MaxLeverage,
		policy.Active, effectiveFrom,
	).Scan(&policy.ID, &policy.EffectiveFrom, &policy.CreatedAt, &policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create risk policy: %w", err)
	}
	return nil
}

// CurrentRiskState retrieves the current circuit-breaker state (latest
// by updated_at). Returns nil if none exists yet.
func (db *DB) CurrentRiskState(ctx context.Context) (*AccountRiskState, error) {
	query := `
		SELECT id, status, cooldown_until, last_triggered_at, trigger_reason, created_at, updated_at
		FROM account_risk_states
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`

	state := &AccountRiskState{}
	err := db.Pool.QueryRow(ctx, query).Scan(
		&state.ID, &state.Status, &state.CooldownUntil, &state.LastTriggeredAt,
		&state.TriggerReason, &state.CreatedAt, &state.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk state: %w", err)
	}
	return state, nil
}

// SaveRiskState creates or updates the circuit-breaker state row
func (db *DB) SaveRiskState(ctx context.Context, state *AccountRiskState) error {
	if state.ID == 0 {
		query := `
			INSERT INTO account_risk_states (status, cooldown_until, last_triggered_at, trigger_reason)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`
		err := db.Pool.QueryRow(ctx, query,
			state.Status, state.CooldownUntil, state.LastTriggeredAt, state.TriggerReason,
		).Scan(&state.ID, &state.CreatedAt, &state.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create risk state: %w", err)
		}
		return nil
	}

	query := `
		UPDATE account_risk_states SET
			status = $2,
			cooldown_until = $3,
			last_triggered_at = $4,
			trigger_reason = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := db.Pool.QueryRow(ctx, query,
		state.ID, state.Status, state.CooldownUntil, state.LastTriggeredAt, state.TriggerReason,
	).Scan(&state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update risk state %d: %w", state.ID, err)
	}
	return nil
}
