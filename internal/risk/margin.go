package risk

// Margin feasibility reason strings
const (
	ReasonInsufficientMarginHeadroom = "insufficient_margin_headroom"
	ReasonExceedsLeverageLimit       = "exceeds_leverage_limit"
	ReasonLiquidationBufferTooLow    = "liquidation_buffer_too_low"
)

// MarginInput describes a prospective leveraged order
type MarginInput struct {
	ProjectedNotional       float64
	TotalExposure           float64
	Leverage                int
	MaxTotalExposure        float64
	MaxLeverage             int
	MinLiquidationBufferBps float64
}

// MarginEvaluation reports feasibility plus the computed metrics for
// observability
type MarginEvaluation struct {
	Allowed                bool     `json:"allowed"`
	Reasons                []string `json:"reasons,omitempty"`
	LiquidationBufferBps   float64  `json:"liquidation_buffer_bps"`
	ProjectedTotalExposure float64  `json:"projected_total_exposure"`
}

// EvaluateMarginFeasibility checks whether a leveraged order leaves
// enough margin headroom. The liquidation buffer is the inverse of
// leverage in basis points (5x => 2000 bps of maintenance headroom,
// 250x => 40 bps); the venue's actual maintenance margin schedule and
// mark price are deliberately not consulted here.
func EvaluateMarginFeasibility(in MarginInput) MarginEvaluation {
	leverage := in.Leverage
	if leverage < 1 {
		leverage = 1
	}

	eval := MarginEvaluation{
		LiquidationBufferBps:   10000 / float64(leverage),
		ProjectedTotalExposure: in.ProjectedNotional + in.TotalExposure,
	}

	if in.MaxTotalExposure > 0 && eval.ProjectedTotalExposure > in.MaxTotalExposure {
		eval.Reasons = append(eval.Reasons, ReasonInsufficientMarginHeadroom)
	}
	if in.MaxLeverage > 0 && in.Leverage > in.MaxLeverage {
		eval.Reasons = append(eval.Reasons, ReasonExceedsLeverageLimit)
	}
	if in.MinLiquidationBufferBps > 0 && eval.LiquidationBufferBps < in.MinLiquidationBufferBps {
		eval.Reasons = append(eval.Reasons, ReasonLiquidationBufferTooLow)
	}

	eval.Allowed = len(eval.Reasons) == 0
	return eval
}
