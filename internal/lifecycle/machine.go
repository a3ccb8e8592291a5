// Package lifecycle owns the trade/execution status state machine.
// Every status change in the engine goes through it so the allowed-edge
// tables and the append-only audit trail stay authoritative.
package lifecycle

import (
	"errors"
	"fmt"

	"binance-execution-engine/internal/database"
)

// EntityKind selects which edge table applies
type EntityKind string

const (
	KindTrade     EntityKind = "trade"
	KindExecution EntityKind = "execution"
)

// ErrInvalidTransition is wrapped by every edge-table rejection
var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError names the rejected edge
type InvalidTransitionError struct {
	Kind EntityKind
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s transition %q -> %q not permitted", e.Kind, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Allowed edges. Statuses absent from the map are terminal.
var tradeEdges = map[database.TradeStatus][]database.TradeStatus{
	database.TradeStatusProposed: {database.TradeStatusPlaced, database.TradeStatusRejected, database.TradeStatusCancelled},
	database.TradeStatusPlaced:   {database.TradeStatusPartial, database.TradeStatusFilled, database.TradeStatusCancelled, database.TradeStatusRejected},
	database.TradeStatusPartial:  {database.TradeStatusFilled, database.TradeStatusCancelled, database.TradeStatusRejected},
}

var executionEdges = map[database.ExecutionStatus][]database.ExecutionStatus{
	database.ExecutionStatusSubmitted: {database.ExecutionStatusPartial, database.ExecutionStatusFilled, database.ExecutionStatusFailed, database.ExecutionStatusCancelled},
	database.ExecutionStatusPartial:   {database.ExecutionStatusFilled, database.ExecutionStatusFailed, database.ExecutionStatusCancelled},
}

// CanTransitionTrade validates a trade edge. Self-transitions are
// allowed as no-op patches and skip the edge table.
func CanTransitionTrade(from, to database.TradeStatus) error {
	if from == to {
		return nil
	}
	for _, next := range tradeEdges[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{Kind: KindTrade, From: string(from), To: string(to)}
}

// CanTransitionExecution validates an execution edge
func CanTransitionExecution(from, to database.ExecutionStatus) error {
	if from == to {
		return nil
	}
	for _, next := range executionEdges[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{Kind: KindExecution, From: string(from), To: string(to)}
}
