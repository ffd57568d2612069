package backtester

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

// h1BarsPerDay converts window sizes in days to H1 bar counts.
const h1BarsPerDay = 24

// Runner executes strategies over rolling windows of H1 candles and
// simulates the resulting signals. The analysis path is exactly the
// same strategy.Analyze used for live signal generation.
type Runner struct {
	simulator *Simulator
	spreads   *SpreadModel
	logger    *zap.Logger
}

// NewRunner creates a backtest runner.
func NewRunner(logger *zap.Logger) *Runner {
	spreads := NewSpreadModel()
	return &Runner{
		simulator: NewSimulator(spreads),
		spreads:   spreads,
		logger:    logger.Named("backtester"),
	}
}

// RunRolling slides a window of windowDays across the candles, calling
// strat.Analyze on each window and simulating the signals on bars after
// the window to prevent look-ahead bias. Returns the collected trades.
func (r *Runner) RunRolling(ctx context.Context, strat strategy.Strategy, candles []types.Candle, windowDays, stepDays int) ([]types.SimulatedTrade, error) {
	windowBars := windowDays * h1BarsPerDay
	stepBars := stepDays * h1BarsPerDay

	minRequired := windowBars + MaxBarsForward
	if len(candles) < minRequired {
		r.logger.Warn("insufficient candles for rolling backtest",
			zap.String("strategy", strat.Name()),
			zap.Int("have", len(candles)),
			zap.Int("need", minRequired))
		return nil, nil
	}

	var trades []types.SimulatedTrade
	for startIdx := 0; startIdx < len(candles)-windowBars-MaxBarsForward; startIdx += stepBars {
		if err := ctx.Err(); err != nil {
			return trades, err
		}

		endIdx := startIdx + windowBars
		window := candles[startIdx:endIdx]

		signals, err := strat.Analyze(window)
		if err != nil {
			if errors.Is(err, strategy.ErrInsufficientData) {
				r.logger.Debug("skipping window",
					zap.String("strategy", strat.Name()),
					zap.Int("startIdx", startIdx))
				continue
			}
			r.logger.Error("strategy analysis failed",
				zap.String("strategy", strat.Name()),
				zap.Int("startIdx", startIdx),
				zap.Error(err))
			continue
		}

		for _, sig := range signals {
			spread := r.spreads.Spread(sig.Timestamp)
			trades = append(trades, r.simulator.SimulateTrade(sig, candles, endIdx-1, spread))
		}
	}
	return trades, nil
}

// RunFull runs a rolling backtest and computes aggregate metrics.
func (r *Runner) RunFull(ctx context.Context, strat strategy.Strategy, candles []types.Candle, windowDays, stepDays int) (types.BacktestMetrics, []types.SimulatedTrade, error) {
	trades, err := r.RunRolling(ctx, strat, candles, windowDays, stepDays)
	if err != nil {
		return types.BacktestMetrics{}, nil, err
	}
	metrics := ComputeMetrics(trades)

	r.logger.Info("backtest complete",
		zap.String("strategy", strat.Name()),
		zap.Int("windowDays", windowDays),
		zap.Int("totalTrades", metrics.TotalTrades),
		zap.Float64("winRate", metrics.WinRate),
		zap.Float64("profitFactor", metrics.ProfitFactor))

	return metrics, trades, nil
}
