package database

import "testing"

// TestTradeStatusTerminal tests the terminal status set
func TestTradeStatusTerminal(t *testing.T) {
	terminal := []TradeStatus{TradeStatusFilled, TradeStatusCancelled, TradeStatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []TradeStatus{TradeStatusProposed, TradeStatusPlaced, TradeStatusPartial}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// TestExecutionStatusTerminal tests the execution terminal set
func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionStatusFilled, ExecutionStatusFailed, ExecutionStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []ExecutionStatus{ExecutionStatusSubmitted, ExecutionStatusPartial}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
