package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepSink receives the summary of each completed sweep, best-effort
type SweepSink interface {
	StoreSweepSummary(ctx context.Context, summary interface{}) error
}

// Runner drives periodic reconciliation sweeps
type Runner struct {
	engine   *Engine
	interval time.Duration
	limit    int
	sink     SweepSink
	logger   zerolog.Logger
}

// NewRunner creates a sweep runner. sink may be nil.
func NewRunner(engine *Engine, interval time.Duration, limit int, sink SweepSink, logger zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		limit:    limit,
		sink:     sink,
		logger:   logger.With().Str("component", "ReconcileRunner").Logger(),
	}
}

// Run sweeps on a fixed interval until the context is cancelled. An
// immediate sweep runs on startup so a restart converges divergence
// without waiting a full interval.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info().
		Dur("interval", r.interval).
		Int("limit", r.limit).
		Msg("Reconciliation runner started")

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciliation runner stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	result, err := r.engine.Sweep(ctx, r.limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error().Err(err).Msg("Sweep failed")
		return
	}
	if r.sink != nil {
		if err := r.sink.StoreSweepSummary(ctx, result); err != nil {
			r.logger.Debug().Err(err).Msg("Sweep summary not stored")
		}
	}
}
