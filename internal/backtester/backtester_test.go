package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

func mkCandles(n int, start float64, drift float64) []types.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = types.Candle{
			Symbol:    types.DefaultSymbol,
			Timeframe: types.TimeframeH1,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1.5,
			Low:       price - 1.5,
			Close:     price + drift,
		}
		price += drift
	}
	return out
}

func buySignal(entry, sl, tp1, tp2 float64, ts time.Time) types.CandidateSignal {
	return types.CandidateSignal{
		Strategy:    "test",
		Symbol:      types.DefaultSymbol,
		Timeframe:   types.TimeframeH1,
		Direction:   types.DirectionBuy,
		EntryPrice:  decimal.NewFromFloat(entry),
		StopLoss:    decimal.NewFromFloat(sl),
		TakeProfit1: decimal.NewFromFloat(tp1),
		TakeProfit2: decimal.NewFromFloat(tp2),
		Timestamp:   ts,
	}
}

func TestSpreadModel(t *testing.T) {
	m := NewSpreadModel()

	overlap := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.20, m.Spread(overlap), "overlap has the tightest spread")

	london := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.30, m.Spread(london))

	asian := time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.50, m.Spread(asian))

	dead := time.Date(2026, 1, 5, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.50, m.Spread(dead), "outside all sessions falls back to default")
}

func TestSimulatorStopLossPriority(t *testing.T) {
	// One bar breaches both the stop and TP1: the outcome must be SL_HIT.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []types.Candle{
		{Timestamp: base, Open: 2600, High: 2601, Low: 2599, Close: 2600},
		{Timestamp: base.Add(time.Hour), Open: 2600, High: 2620, Low: 2580, Close: 2600},
	}
	sig := buySignal(2600, 2590, 2610, 2620, base)

	sim := NewSimulator(NewSpreadModel())
	trade := sim.SimulateTrade(sig, candles, 0, 0.3)

	assert.Equal(t, types.ResultSLHit, trade.Result)
	assert.Equal(t, 2590.0, trade.ExitPrice)
	assert.Equal(t, 1, trade.BarsHeld)
}

func TestSimulatorTP2BeforeTP1(t *testing.T) {
	// A bar that jumps past both targets records TP2.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []types.Candle{
		{Timestamp: base, Open: 2600, High: 2601, Low: 2599, Close: 2600},
		{Timestamp: base.Add(time.Hour), Open: 2600, High: 2650, Low: 2598, Close: 2645},
	}
	sig := buySignal(2600, 2590, 2610, 2630, base)

	sim := NewSimulator(NewSpreadModel())
	trade := sim.SimulateTrade(sig, candles, 0, 0.3)

	assert.Equal(t, types.ResultTP2Hit, trade.Result)
	assert.Equal(t, 2630.0, trade.ExitPrice)
	// PnL accounts for the spread-adjusted entry: (2630 - 2600.3) / 0.1.
	assert.InDelta(t, 297.0, trade.PnlPips, 0.01)
	assert.Equal(t, 0.3, trade.SpreadCost)
}

func TestSimulatorSellStopsAgainstAsk(t *testing.T) {
	// SELL stop sits above entry and is tested against high + spread.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []types.Candle{
		{Timestamp: base, Open: 2600, High: 2601, Low: 2599, Close: 2600},
		{Timestamp: base.Add(time.Hour), Open: 2600, High: 2609.8, Low: 2599, Close: 2605},
	}
	sig := types.CandidateSignal{
		Direction:   types.DirectionSell,
		EntryPrice:  decimal.NewFromFloat(2600),
		StopLoss:    decimal.NewFromFloat(2610),
		TakeProfit1: decimal.NewFromFloat(2580),
		TakeProfit2: decimal.NewFromFloat(2570),
		Timestamp:   base,
	}

	sim := NewSimulator(NewSpreadModel())
	trade := sim.SimulateTrade(sig, candles, 0, 0.3)

	// Bid high 2609.8 + 0.3 spread = 2610.1 >= 2610 stop.
	assert.Equal(t, types.ResultSLHit, trade.Result)
}

func TestSimulatorExpiry(t *testing.T) {
	candles := mkCandles(MaxBarsForward+10, 2600, 0)
	sig := buySignal(2600, 2500, 2700, 2800, candles[0].Timestamp)

	sim := NewSimulator(NewSpreadModel())
	trade := sim.SimulateTrade(sig, candles, 0, 0.3)

	assert.Equal(t, types.ResultExpired, trade.Result)
	assert.Equal(t, MaxBarsForward, trade.BarsHeld)
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.Equal(t, types.BacktestMetrics{}, m)
}

func winTrade(pips float64) types.SimulatedTrade {
	return types.SimulatedTrade{Result: types.ResultTP1Hit, PnlPips: pips}
}

func lossTrade(pips float64) types.SimulatedTrade {
	return types.SimulatedTrade{Result: types.ResultSLHit, PnlPips: pips}
}

func TestComputeMetricsAllWins(t *testing.T) {
	trades := []types.SimulatedTrade{winTrade(50), winTrade(100), winTrade(30)}
	m := ComputeMetrics(trades)

	assert.Equal(t, 1.0, m.WinRate)
	assert.Equal(t, 9999.9999, m.ProfitFactor, "zero gross loss caps the profit factor")
	assert.Equal(t, 3, m.TotalTrades)
	assert.InDelta(t, 60.0, m.Expectancy, 1e-9)
	assert.Equal(t, 0.0, m.MaxDrawdown)
}

func TestComputeMetricsMaxDrawdown(t *testing.T) {
	trades := []types.SimulatedTrade{
		winTrade(50), lossTrade(-30), lossTrade(-40), winTrade(20),
	}
	m := ComputeMetrics(trades)
	// Peak 50 after trade 1, trough -20 after trade 3.
	assert.Equal(t, 70.0, m.MaxDrawdown)
}

func TestComputeMetricsSingleTradeNoSharpe(t *testing.T) {
	m := ComputeMetrics([]types.SimulatedTrade{winTrade(10)})
	assert.Equal(t, 0.0, m.SharpeRatio)
}

func TestRunnerInsufficientCandles(t *testing.T) {
	r := NewRunner(zap.NewNop())
	trades, err := r.RunRolling(context.Background(), &scriptedStrategy{}, mkCandles(50, 2600, 1), 30, 1)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestWalkForwardOverfitDetection(t *testing.T) {
	// Rising in-sample, falling out-of-sample: every IS trade wins,
	// every OOS trade loses, so the WFE ratios collapse below 0.5.
	isPart := mkCandles(1200, 2000, 1)
	oosPart := mkCandles(300, 3200, -1)
	// Re-time the OOS candles to continue after the IS series.
	for i := range oosPart {
		oosPart[i].Timestamp = isPart[len(isPart)-1].Timestamp.Add(time.Duration(i+1) * time.Hour)
	}
	candles := append(isPart, oosPart...)

	runner := NewRunner(zap.NewNop())
	v := NewWalkForwardValidator(runner, zap.NewNop())

	report, err := v.Validate(context.Background(), &scriptedStrategy{}, candles, 1)
	require.NoError(t, err)

	require.True(t, report.Conclusive)
	assert.True(t, report.IsOverfitted)
	assert.Less(t, report.WinRateWFE, 0.5)
	assert.Equal(t, 1.0, report.InSample.WinRate)
	assert.Equal(t, 0.0, report.OutOfSample.WinRate)
}

func TestWalkForwardInconclusive(t *testing.T) {
	// A strategy that never signals produces zero OOS trades.
	runner := NewRunner(zap.NewNop())
	v := NewWalkForwardValidator(runner, zap.NewNop())

	report, err := v.Validate(context.Background(), &silentStrategy{}, mkCandles(1500, 2600, 0.5), 1)
	require.NoError(t, err)
	assert.False(t, report.Conclusive)
	assert.False(t, report.IsOverfitted)
}

func TestPermutationTestStrongEdgePasses(t *testing.T) {
	trades := make([]types.SimulatedTrade, 12)
	for i := range trades {
		trades[i] = winTrade(20 + float64(i))
	}
	tester := NewPermutationTester(1000, 0.05, 42, zap.NewNop())
	result := tester.Test(trades)

	assert.True(t, result.Passed)
	assert.LessOrEqual(t, result.PValue, 0.05)
	assert.Equal(t, 9999.9999, result.OriginalProfitFactor)
}

func TestPermutationTestNoEdgeFails(t *testing.T) {
	// Alternating symmetric wins and losses have no edge to defend.
	trades := make([]types.SimulatedTrade, 20)
	for i := range trades {
		if i%2 == 0 {
			trades[i] = winTrade(10)
		} else {
			trades[i] = lossTrade(-10)
		}
	}
	tester := NewPermutationTester(1000, 0.05, 42, zap.NewNop())
	result := tester.Test(trades)

	assert.False(t, result.Passed)
	assert.Greater(t, result.PValue, 0.05)
}

func TestPermutationTestTooFewTrades(t *testing.T) {
	tester := NewPermutationTester(100, 0.05, 1, zap.NewNop())
	result := tester.Test([]types.SimulatedTrade{winTrade(50)})
	assert.False(t, result.Passed)
	assert.Equal(t, 1.0, result.PValue)
}
