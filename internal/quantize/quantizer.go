// Package quantize maps abstract order requests onto exchange contract
// constraints: step-size rounding, minimum quantity and minimum
// notional checks.
package quantize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxStepDecimals caps the decimal places derived from a step size;
// exchange steps never go below 1e-12.
const maxStepDecimals = 12

// alteredTolerance guards the adjusted-flags against floating point
// false positives.
const alteredTolerance = 1e-12

// Validation errors
var (
	ErrQuantityInvalid      = errors.New("quantity must be positive")
	ErrBelowMinimumQuantity = errors.New("quantity below contract minimum")
	ErrBelowMinimumNotional = errors.New("order notional below contract minimum")
)

// Contract holds the exchange metadata an instrument is quantized
// against
type Contract struct {
	Instrument        string
	PriceStep         float64
	QuantityStep      float64
	MinQuantity       float64
	MinNotional       float64
	PricePrecision    int
	QuantityPrecision int
}

// Request is an order before quantization
type Request struct {
	Quantity       float64
	TPPrice        *float64
	SLPrice        *float64
	ReferencePrice *float64
}

// Result is the quantized order plus flags reporting whether each field
// was altered from the input, for audit and telemetry.
type Result struct {
	Quantity         float64
	TPPrice          *float64
	SLPrice          *float64
	QuantityAdjusted bool
	TPAdjusted       bool
	SLAdjusted       bool
}

// Quantize normalizes an order against a contract. Quantity always
// rounds down (never submit more than requested); TP/SL round to the
// nearest price step since they are not taker-side minimums.
func Quantize(req Request, contract Contract) (*Result, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: requested %v", ErrQuantityInvalid, req.Quantity)
	}

	qtyStep := stepOrPrecisionFallback(contract.QuantityStep, contract.QuantityPrecision)
	priceStep := stepOrPrecisionFallback(contract.PriceStep, contract.PricePrecision)

	qty := floorToStep(req.Quantity, qtyStep)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %v rounds to zero at step %v", ErrQuantityInvalid, req.Quantity, qtyStep)
	}
	if contract.MinQuantity > 0 && qty < contract.MinQuantity {
		return nil, fmt.Errorf("%w: %v < %v", ErrBelowMinimumQuantity, qty, contract.MinQuantity)
	}
	if contract.MinNotional > 0 && req.ReferencePrice != nil && *req.ReferencePrice > 0 {
		if notional := qty * *req.ReferencePrice; notional < contract.MinNotional {
			return nil, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinimumNotional, notional, contract.MinNotional)
		}
	}

	result := &Result{
		Quantity:         qty,
		QuantityAdjusted: math.Abs(qty-req.Quantity) > alteredTolerance,
	}
	result.TPPrice, result.TPAdjusted = quantizePrice(req.TPPrice, priceStep)
	result.SLPrice, result.SLAdjusted = quantizePrice(req.SLPrice, priceStep)
	return result, nil
}

// quantizePrice rounds an optional price to the nearest step. Absent or
// non-positive prices pass through as nil.
func quantizePrice(price *float64, step float64) (*float64, bool) {
	if price == nil || *price <= 0 {
		return nil, false
	}
	rounded := roundToStep(*price, step)
	return &rounded, math.Abs(rounded-*price) > alteredTolerance
}

func floorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// The epsilon absorbs cases like 0.007/0.001 evaluating to 6.999...
	steps := math.Floor(value/step + 1e-9)
	return snap(steps*step, decimalPlacesOf(step))
}

func roundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return snap(math.Round(value/step)*step, decimalPlacesOf(step))
}

// snap re-rounds step arithmetic to the step's own decimal places so
// 7 * 0.001 comes back as 0.007, not 0.007000000000000001.
func snap(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

// stepOrPrecisionFallback derives a step from the declared decimal
// precision when the exchange reports a zero/unknown step size.
func stepOrPrecisionFallback(step float64, precision int) float64 {
	if step > 0 {
		return step
	}
	if precision <= 0 {
		return 1
	}
	return math.Pow(10, -float64(precision))
}

// decimalPlacesOf counts the fractional digits of a step size,
// handling exponential notation (e.g. 1e-4) correctly.
func decimalPlacesOf(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	// 'f' formatting expands exponents to plain decimal
	text := strconv.FormatFloat(step, 'f', -1, 64)
	dot := strings.IndexByte(text, '.')
	if dot < 0 {
		return 0
	}
	places := len(text) - dot - 1
	if places > maxStepDecimals {
		places = maxStepDecimals
	}
	return places
}
