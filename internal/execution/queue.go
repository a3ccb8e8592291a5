package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"binance-execution-engine/internal/database"
)

// Redis list keys for the execution request queue
const (
	RequestQueueKey = "engine:execution:requests"
	ResultListKey   = "engine:execution:results"
	resultListMax   = 1000
	popTimeout      = 5 * time.Second
)

// queuedRequest is the wire shape of an intake request
type queuedRequest struct {
	Instrument     string   `json:"instrument"`
	Side           string   `json:"side"`
	Quantity       float64  `json:"quantity"`
	Mode           string   `json:"mode"`
	Leverage       int      `json:"leverage,omitempty"`
	TPPrice        *float64 `json:"tp_price,omitempty"`
	SLPrice        *float64 `json:"sl_price,omitempty"`
	ReferencePrice *float64 `json:"reference_price,omitempty"`
	ClientOrderID  string   `json:"client_order_id,omitempty"`
	IdempotencyKey string   `json:"idempotency_key"`
	Actor          string   `json:"actor,omitempty"`
}

// queuedResult is the wire shape pushed back after each request
type queuedResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	TradeID        int64  `json:"trade_id,omitempty"`
	ExecutionID    int64  `json:"execution_id,omitempty"`
	Status         string `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
	Replayed       bool   `json:"replayed,omitempty"`
}

// QueueConsumer pulls execution requests off a Redis list and runs them
// through the service. Malformed payloads are dropped with a log line,
// never retried.
type QueueConsumer struct {
	client  *redis.Client
	service *Service
	logger  zerolog.Logger
}

// NewQueueConsumer creates a queue consumer
func NewQueueConsumer(client *redis.Client, service *Service, logger zerolog.Logger) *QueueConsumer {
	return &QueueConsumer{
		client:  client,
		service: service,
		logger:  logger.With().Str("component", "ExecutionQueue").Logger(),
	}
}

// Run consumes requests until the context is cancelled
func (qc *QueueConsumer) Run(ctx context.Context) {
	qc.logger.Info().Str("queue", RequestQueueKey).Msg("Execution queue consumer started")

	for {
		if ctx.Err() != nil {
			qc.logger.Info().Msg("Execution queue consumer stopped")
			return
		}

		vals, err := qc.client.BRPop(ctx, popTimeout, RequestQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			qc.logger.Warn().Err(err).Msg("Queue pop failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}
		if len(vals) < 2 {
			continue
		}

		qc.handle(ctx, []byte(vals[1]))
	}
}

func (qc *QueueConsumer) handle(ctx context.Context, payload []byte) {
	var req queuedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		qc.logger.Warn().Err(err).Msg("Dropping malformed execution request")
		return
	}

	result, err := qc.service.ExecuteTrade(ctx, Request{
		Instrument:     req.Instrument,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Mode:           database.ExecutionMode(req.Mode),
		Leverage:       req.Leverage,
		TPPrice:        req.TPPrice,
		SLPrice:        req.SLPrice,
		ReferencePrice: req.ReferencePrice,
		ClientOrderID:  req.ClientOrderID,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
	})

	out := queuedResult{IdempotencyKey: req.IdempotencyKey}
	if result != nil {
		if result.Trade != nil {
			out.TradeID = result.Trade.ID
			out.Status = string(result.Trade.Status)
		}
		if result.Execution != nil {
			out.ExecutionID = result.Execution.ID
		}
		out.Replayed = result.Execution != nil && !result.Created
	}
	if err != nil {
		out.Error = err.Error()
		qc.logger.Warn().Err(err).
			Str("idempotency_key", req.IdempotencyKey).
			Str("instrument", req.Instrument).
			Msg("Execution request rejected")
	}

	qc.pushResult(ctx, out)
}

// pushResult records the outcome on a capped list, best-effort
func (qc *QueueConsumer) pushResult(ctx context.Context, out queuedResult) {
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	pipe := qc.client.Pipeline()
	pipe.LPush(ctx, ResultListKey, data)
	pipe.LTrim(ctx, ResultListKey, 0, resultListMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		qc.logger.Debug().Err(err).Msg("Result not recorded")
	}
}
