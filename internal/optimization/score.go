package optimization

import "github.com/goldsight/trading-backend/pkg/types"

// Composite score weights. The selector uses the same weights so
// optimizer rankings and live strategy rankings agree.
const (
	weightWinRate      = 0.30
	weightProfitFactor = 0.25
	weightSharpe       = 0.15
	weightExpectancy   = 0.15
	weightMaxDrawdown  = 0.15
)

// CompositeScore collapses backtest metrics into a single ranking
// number. Ratio metrics are normalized with heuristic caps before
// weighting; drawdown (cumulative pips) enters inverted, so deep
// equity dips pull a candidate sharply down the ranking.
func CompositeScore(m types.BacktestMetrics) float64 {
	wr := m.WinRate

	pf := m.ProfitFactor
	if pf > 3.0 {
		pf = 3.0
	}
	pfNorm := pf / 3.0

	sr := clamp(m.SharpeRatio, -1.0, 3.0)
	srNorm := (sr + 1.0) / 4.0

	exp := clamp(m.Expectancy, -20.0, 50.0)
	expNorm := (exp + 20.0) / 70.0

	ddInv := 1.0 - m.MaxDrawdown

	return weightWinRate*wr +
		weightProfitFactor*pfNorm +
		weightSharpe*srNorm +
		weightExpectancy*expNorm +
		weightMaxDrawdown*ddInv
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
