package backtester

import (
	"math"

	"github.com/goldsight/trading-backend/pkg/types"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// maxProfitFactor caps the profit factor for storage compatibility.
const maxProfitFactor = 9999.9999

// ComputeMetrics aggregates performance statistics from simulated
// trades. An empty trade list yields all-zero metrics. Ratios are
// rounded to 4 decimal places.
func ComputeMetrics(trades []types.SimulatedTrade) types.BacktestMetrics {
	if len(trades) == 0 {
		return types.BacktestMetrics{}
	}

	total := len(trades)
	wins := 0
	var grossProfit, grossLoss, sum float64
	pnl := make([]float64, total)
	for i, t := range trades {
		pnl[i] = t.PnlPips
		sum += t.PnlPips
		if t.PnlPips > 0 {
			grossProfit += t.PnlPips
		} else if t.PnlPips < 0 {
			grossLoss += -t.PnlPips
		}
		if t.Result.IsWin() {
			wins++
		}
	}

	winRate := float64(wins) / float64(total)

	var profitFactor float64
	if grossLoss == 0 {
		if grossProfit > 0 {
			profitFactor = maxProfitFactor
		}
	} else {
		profitFactor = math.Min(grossProfit/grossLoss, maxProfitFactor)
	}

	expectancy := sum / float64(total)

	// Annualized Sharpe over per-trade PnL; undefined below 2 trades or
	// with zero variance.
	sharpe := 0.0
	if total >= 2 {
		mean := sum / float64(total)
		var variance float64
		for _, p := range pnl {
			variance += (p - mean) * (p - mean)
		}
		variance /= float64(total - 1)
		if std := math.Sqrt(variance); std > 0 {
			sharpe = (mean / std) * math.Sqrt(tradingDaysPerYear)
		}
	}

	return types.BacktestMetrics{
		WinRate:      round4(winRate),
		ProfitFactor: round4(profitFactor),
		SharpeRatio:  round4(sharpe),
		MaxDrawdown:  round4(maxDrawdown(pnl)),
		Expectancy:   round4(expectancy),
		TotalTrades:  total,
		Wins:         wins,
		Losses:       total - wins,
	}
}

// maxDrawdown returns the largest peak-to-trough decline of the
// cumulative PnL curve, in absolute pips.
func maxDrawdown(pnl []float64) float64 {
	var cumulative, peak, maxDD float64
	for _, p := range pnl {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
