package quantize

import (
	"errors"
	"math"
	"testing"
)

func btcContract() Contract {
	return Contract{
		Instrument:        "BTCUSDT",
		PriceStep:         0.1,
		QuantityStep:      0.001,
		MinQuantity:       0.001,
		MinNotional:       100,
		PricePrecision:    1,
		QuantityPrecision: 3,
	}
}

// TestQuantityFloorsToStep tests that quantity always rounds down
func TestQuantityFloorsToStep(t *testing.T) {
	ref := 65000.0
	result, err := Quantize(Request{Quantity: 0.0079, ReferencePrice: &ref}, btcContract())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quantity != 0.007 {
		t.Errorf("expected 0.007, got %v", result.Quantity)
	}
	if !result.QuantityAdjusted {
		t.Error("expected QuantityAdjusted to be true")
	}
}

// TestExactQuantityNotFlaggedAdjusted tests that step-aligned input passes through
func TestExactQuantityNotFlaggedAdjusted(t *testing.T) {
	ref := 65000.0
	result, err := Quantize(Request{Quantity: 0.005, ReferencePrice: &ref}, btcContract())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quantity != 0.005 {
		t.Errorf("expected 0.005, got %v", result.Quantity)
	}
	if result.QuantityAdjusted {
		t.Error("step-aligned quantity should not be flagged adjusted")
	}
}

// TestBelowMinimumQuantity tests the min quantity rejection
func TestBelowMinimumQuantity(t *testing.T) {
	contract := btcContract()
	contract.MinQuantity = 0.01

	_, err := Quantize(Request{Quantity: 0.005}, contract)
	if !errors.Is(err, ErrBelowMinimumQuantity) {
		t.Errorf("expected ErrBelowMinimumQuantity, got %v", err)
	}
}

// TestBelowMinimumNotional tests the min notional rejection
func TestBelowMinimumNotional(t *testing.T) {
	ref := 65000.0
	_, err := Quantize(Request{Quantity: 0.001, ReferencePrice: &ref}, btcContract())
	// 0.001 * 65000 = 65 < 100
	if !errors.Is(err, ErrBelowMinimumNotional) {
		t.Errorf("expected ErrBelowMinimumNotional, got %v", err)
	}
}

// TestNotionalSkippedWithoutReferencePrice tests that min notional only
// applies when a reference price is known
func TestNotionalSkippedWithoutReferencePrice(t *testing.T) {
	result, err := Quantize(Request{Quantity: 0.001}, btcContract())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quantity != 0.001 {
		t.Errorf("expected 0.001, got %v", result.Quantity)
	}
}

// TestNonPositiveQuantityRejected tests the basic input guard
func TestNonPositiveQuantityRejected(t *testing.T) {
	for _, qty := range []float64{0, -1} {
		_, err := Quantize(Request{Quantity: qty}, btcContract())
		if !errors.Is(err, ErrQuantityInvalid) {
			t.Errorf("quantity %v: expected ErrQuantityInvalid, got %v", qty, err)
		}
	}
}

// TestPricesRoundToNearestStep tests TP/SL rounding
func TestPricesRoundToNearestStep(t *testing.T) {
	tp := 2034.67
	sl := 1987.24
	ref := 2000.0
	result, err := Quantize(Request{Quantity: 1, TPPrice: &tp, SLPrice: &sl, ReferencePrice: &ref}, btcContract())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TPPrice == nil || math.Abs(*result.TPPrice-2034.7) > 1e-9 {
		t.Errorf("expected TP 2034.7, got %v", result.TPPrice)
	}
	if result.SLPrice == nil || math.Abs(*result.SLPrice-1987.2) > 1e-9 {
		t.Errorf("expected SL 1987.2, got %v", result.SLPrice)
	}
	if !result.TPAdjusted {
		t.Error("expected TPAdjusted to be true")
	}
}

// TestNilPricesPassThrough tests that absent TP/SL stay nil
func TestNilPricesPassThrough(t *testing.T) {
	result, err := Quantize(Request{Quantity: 1}, btcContract())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TPPrice != nil || result.SLPrice != nil {
		t.Error("nil prices should pass through as nil")
	}
	if result.TPAdjusted || result.SLAdjusted {
		t.Error("nil prices should not be flagged adjusted")
	}
}

// TestPrecisionFallback tests deriving the step from precision when no
// step size is configured
func TestPrecisionFallback(t *testing.T) {
	contract := Contract{
		Instrument:        "ETHUSDT",
		QuantityPrecision: 2,
		PricePrecision:    2,
	}
	result, err := Quantize(Request{Quantity: 1.239}, contract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.Quantity-1.23) > 1e-9 {
		t.Errorf("expected 1.23, got %v", result.Quantity)
	}
}

// TestFloatDriftDoesNotUnderRound tests the epsilon guard on floor division
func TestFloatDriftDoesNotUnderRound(t *testing.T) {
	// 0.29 / 0.01 is 28.999999... in float64; without the epsilon the
	// floor would drop a step.
	contract := Contract{Instrument: "X", QuantityStep: 0.01}
	result, err := Quantize(Request{Quantity: 0.29}, contract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.Quantity-0.29) > 1e-9 {
		t.Errorf("expected 0.29, got %v", result.Quantity)
	}
	if result.QuantityAdjusted {
		t.Error("0.29 at step 0.01 should not be adjusted")
	}
}
