package risk

import (
	"context"
	"time"

	"binance-execution-engine/internal/database"
)

// ExposureSnapshot is computed fresh for every risk evaluation, never
// cached, so concurrent evaluations see storage truth.
type ExposureSnapshot struct {
	TotalExposure      float64            `json:"total_exposure"`
	InstrumentExposure map[string]float64 `json:"instrument_exposure"`
	OpenPositions      int                `json:"open_positions"`
	DailyLoss          float64            `json:"daily_loss"` // positive magnitude
}

// TradeSource provides the trades a snapshot is computed from
type TradeSource interface {
	OpenTrades(ctx context.Context) ([]*database.Trade, error)
	TradesCreatedSince(ctx context.Context, since time.Time) ([]*database.Trade, error)
}

// computeSnapshot sums exposure across open trades (position_size,
// falling back to quantity) and daily loss across trades created since
// 00:00 UTC.
func computeSnapshot(ctx context.Context, trades TradeSource, now time.Time) (*ExposureSnapshot, error) {
	open, err := trades.OpenTrades(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &ExposureSnapshot{
		InstrumentExposure: make(map[string]float64),
	}
	for _, t := range open {
		size := t.Quantity
		if t.PositionSize != nil && *t.PositionSize > 0 {
			size = *t.PositionSize
		}
		snapshot.InstrumentExposure[t.Instrument] += size
		snapshot.TotalExposure += size
		snapshot.OpenPositions++
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := trades.TradesCreatedSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	for _, t := range today {
		if t.PnL != nil && *t.PnL < 0 {
			snapshot.DailyLoss += -*t.PnL
		}
	}
	return snapshot, nil
}
