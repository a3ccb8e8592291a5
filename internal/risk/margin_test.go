package risk

import (
	"math"
	"testing"
)

// TestMarginFeasibilityAllowed tests a comfortably feasible order
func TestMarginFeasibilityAllowed(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{
		ProjectedNotional:       10000,
		TotalExposure:           20000,
		Leverage:                5,
		MaxTotalExposure:        100000,
		MaxLeverage:             20,
		MinLiquidationBufferBps: 50,
	})

	if !eval.Allowed {
		t.Fatalf("expected allowed, got reasons %v", eval.Reasons)
	}
	if math.Abs(eval.LiquidationBufferBps-2000) > 1e-9 {
		t.Errorf("expected 2000 bps buffer at 5x, got %v", eval.LiquidationBufferBps)
	}
	if eval.ProjectedTotalExposure != 30000 {
		t.Errorf("expected projected exposure 30000, got %v", eval.ProjectedTotalExposure)
	}
}

// TestMarginHeadroomBreach tests the total exposure ceiling
func TestMarginHeadroomBreach(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{
		ProjectedNotional: 60000,
		TotalExposure:     50000,
		Leverage:          1,
		MaxTotalExposure:  100000,
	})

	if eval.Allowed {
		t.Fatal("expected rejection")
	}
	if !containsReason(eval.Reasons, ReasonInsufficientMarginHeadroom) {
		t.Errorf("expected %s in %v", ReasonInsufficientMarginHeadroom, eval.Reasons)
	}
}

// TestLeverageLimitBreach tests the leverage cap
func TestLeverageLimitBreach(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{
		ProjectedNotional: 1000,
		Leverage:          50,
		MaxLeverage:       20,
	})

	if eval.Allowed {
		t.Fatal("expected rejection")
	}
	if !containsReason(eval.Reasons, ReasonExceedsLeverageLimit) {
		t.Errorf("expected %s in %v", ReasonExceedsLeverageLimit, eval.Reasons)
	}
}

// TestLiquidationBufferBreach tests that extreme leverage fails the
// minimum buffer
func TestLiquidationBufferBreach(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{
		ProjectedNotional:       1000,
		Leverage:                250,
		MinLiquidationBufferBps: 50,
	})

	// 250x leaves a 40 bps buffer, below the 50 bps floor
	if eval.Allowed {
		t.Fatal("expected rejection")
	}
	if math.Abs(eval.LiquidationBufferBps-40) > 1e-9 {
		t.Errorf("expected 40 bps at 250x, got %v", eval.LiquidationBufferBps)
	}
	if !containsReason(eval.Reasons, ReasonLiquidationBufferTooLow) {
		t.Errorf("expected %s in %v", ReasonLiquidationBufferTooLow, eval.Reasons)
	}
}

// TestAllViolationsReported tests that every breached limit is named
func TestAllViolationsReported(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{
		ProjectedNotional:       200000,
		TotalExposure:           0,
		Leverage:                250,
		MaxTotalExposure:        100000,
		MaxLeverage:             20,
		MinLiquidationBufferBps: 50,
	})

	if eval.Allowed {
		t.Fatal("expected rejection")
	}
	if len(eval.Reasons) != 3 {
		t.Errorf("expected 3 reasons, got %v", eval.Reasons)
	}
}

// TestZeroLeverageClampsToOne tests the leverage floor
func TestZeroLeverageClampsToOne(t *testing.T) {
	eval := EvaluateMarginFeasibility(MarginInput{ProjectedNotional: 100, Leverage: 0})
	if math.Abs(eval.LiquidationBufferBps-10000) > 1e-9 {
		t.Errorf("expected 10000 bps at clamped 1x, got %v", eval.LiquidationBufferBps)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
