package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, instrument, side, quantity, status, mode, client_order_id,
	avg_fill_price, position_size, pnl, pnl_pct, tp_price, sl_price,
	leverage, margin_type, closed_at, created_at, updated_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(
		&t.ID, &t.Instrument, &t.Side, &t.Quantity, &t.Status, &t.Mode, &t.ClientOrderID,
		&t.AvgFillPrice, &t.PositionSize, &t.PnL, &t.PnLPct, &t.TPPrice, &t.SLPrice,
		&t.Leverage, &t.MarginType, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTrade inserts a new trade in proposed status
func (db *DB) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.Status == "" {
		trade.Status = TradeStatusProposed
	}
	query := `
		INSERT INTO trades (
			instrument, side, quantity, status, mode, client_order_id,
			tp_price, sl_price, leverage, margin_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := db.Pool.QueryRow(ctx, query,
		trade.Instrument, trade.Side, trade.Quantity, trade.Status, trade.Mode,
		trade.ClientOrderID, trade.TPPrice, trade.SLPrice, trade.Leverage, trade.MarginType,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a trade by id. Returns nil if not found.
func (db *DB) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	trade, err := scanTrade(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return trade, nil
}

// OpenTrades returns trades counted toward exposure: status in
// {placed, partial, filled} with no closed_at.
func (db *DB) OpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE status IN ('placed', 'partial', 'filled') AND closed_at IS NULL`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TradesCreatedSince returns trades created at or after the given time,
// used for the daily loss computation.
func (db *DB) TradesCreatedSince(ctx context.Context, since time.Time) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE created_at >= $1`

	rows, err := db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpdateTradeMetrics patches fill metrics on a trade without touching
// its status (status changes go through the state machine).
func (db *DB) UpdateTradeMetrics(ctx context.Context, id int64, avgFillPrice, positionSize, pnl, pnlPct *float64) error {
	query := `
		UPDATE trades SET
			avg_fill_price = COALESCE($2, avg_fill_price),
			position_size = COALESCE($3, position_size),
			pnl = COALESCE($4, pnl),
			pnl_pct = COALESCE($5, pnl_pct),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	_, err := db.Pool.Exec(ctx, query, id, avgFillPrice, positionSize, pnl, pnlPct)
	if err != nil {
		return fmt.Errorf("failed to update trade %d metrics: %w", id, err)
	}
	return nil
}

// CloseTrade stamps closed_at on a trade
func (db *DB) CloseTrade(ctx context.Context, id int64, closedAt time.Time) error {
	query := `UPDATE trades SET closed_at = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, id, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", id, err)
	}
	return nil
}

// PaperPerformance aggregates paper-mode results for the promotion gate.
// Max drawdown is the worst cumulative realized loss over closed paper
// trades ordered by creation time.
func (db *DB) PaperPerformance(ctx context.Context) (*PaperPerformance, error) {
	query := `
		SELECT COALESCE(pnl, 0)
		FROM trades
		WHERE mode = 'paper' AND status = 'filled' AND pnl IS NOT NULL
		ORDER BY created_at`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate paper performance: %w", err)
	}
	defer rows.Close()

	perf := &PaperPerformance{}
	wins := 0
	var cumulative, peak float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("failed to scan paper pnl: %w", err)
		}
		perf.TradeCount++
		perf.NetPnL += pnl
		if pnl > 0 {
			wins++
		}
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if drawdown := peak - cumulative; drawdown > perf.MaxDrawdown {
			perf.MaxDrawdown = drawdown
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if perf.TradeCount > 0 {
		perf.WinRate = float64(wins) / float64(perf.TradeCount)
	}
	return perf, nil
}
