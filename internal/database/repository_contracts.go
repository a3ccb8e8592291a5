package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetContractRequirements retrieves contract metadata for an
// instrument. Returns nil if the instrument is unknown.
func (db *DB) GetContractRequirements(ctx context.Context, instrument string) (*ContractRequirements, error) {
	query := `
		SELECT instrument, price_step, quantity_step, min_quantity, min_notional,
			price_precision, quantity_precision, updated_at
		FROM contract_requirements
		WHERE instrument = $1`

	req := &ContractRequirements{}
	err := db.Pool.QueryRow(ctx, query, instrument).Scan(
		&req.Instrument, &req.PriceStep, &req.QuantityStep, &req.MinQuantity, &req.MinNotional,
		&req.PricePrecision, &req.QuantityPrecision, &req.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract requirements for %s: %w", instrument, err)
	}
	return req, nil
}

// UpsertContractRequirements saves contract metadata synced from the
// exchange
func (db *DB) UpsertContractRequirements(ctx context.Context, req *ContractRequirements) error {
	query := `
		INSERT INTO contract_requirements (
			instrument, price_step, quantity_step, min_quantity, min_notional,
			price_precision, quantity_precision
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument) DO UPDATE SET
			price_step = EXCLUDED.price_step,
			quantity_step = EXCLUDED.quantity_step,
			min_quantity = EXCLUDED.min_quantity,
			min_notional = EXCLUDED.min_notional,
			price_precision = EXCLUDED.price_precision,
			quantity_precision = EXCLUDED.quantity_precision,
			updated_at = CURRENT_TIMESTAMP`

	_, err := db.Pool.Exec(ctx, query,
		req.Instrument, req.PriceStep, req.QuantityStep, req.MinQuantity, req.MinNotional,
		req.PricePrecision, req.QuantityPrecision,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contract requirements for %s: %w", req.Instrument, err)
	}
	return nil
}
