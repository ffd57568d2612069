package backtester

import (
	"context"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

// degradationThreshold is the minimum acceptable OOS/IS efficiency
// ratio before a strategy is flagged as overfitted.
const degradationThreshold = 0.5

// minOOSTrades is the minimum out-of-sample trade count for a
// conclusive comparison.
const minOOSTrades = 5

// WalkForwardValidator detects overfitting by splitting candles 80/20
// into in-sample and out-of-sample periods and comparing backtest
// metrics across the two.
type WalkForwardValidator struct {
	runner *Runner
	logger *zap.Logger
}

// NewWalkForwardValidator creates a validator reusing the given runner.
func NewWalkForwardValidator(runner *Runner, logger *zap.Logger) *WalkForwardValidator {
	return &WalkForwardValidator{
		runner: runner,
		logger: logger.Named("walkforward"),
	}
}

// Validate runs independent rolling backtests on the in-sample (first
// 80%) and out-of-sample (last 20%) splits. A strategy is overfitted
// when either the win-rate or profit-factor efficiency (OOS/IS) falls
// below half. Fewer than minOOSTrades out-of-sample trades make the
// comparison inconclusive.
func (v *WalkForwardValidator) Validate(ctx context.Context, strat strategy.Strategy, candles []types.Candle, windowDays int) (types.WalkForwardReport, error) {
	splitIdx := len(candles) * 8 / 10
	isCandles := candles[:splitIdx]
	oosCandles := candles[splitIdx:]

	v.logger.Info("walk-forward split",
		zap.String("strategy", strat.Name()),
		zap.Int("inSampleBars", len(isCandles)),
		zap.Int("outOfSampleBars", len(oosCandles)),
		zap.Int("windowDays", windowDays))

	isMetrics, _, err := v.runner.RunFull(ctx, strat, isCandles, windowDays, 1)
	if err != nil {
		return types.WalkForwardReport{}, err
	}
	oosMetrics, _, err := v.runner.RunFull(ctx, strat, oosCandles, windowDays, 1)
	if err != nil {
		return types.WalkForwardReport{}, err
	}

	report := types.WalkForwardReport{
		InSample:    isMetrics,
		OutOfSample: oosMetrics,
	}

	if oosMetrics.TotalTrades < minOOSTrades {
		v.logger.Warn("insufficient out-of-sample trades, validation inconclusive",
			zap.String("strategy", strat.Name()),
			zap.Int("oosTrades", oosMetrics.TotalTrades))
		return report, nil
	}
	report.Conclusive = true

	if isMetrics.WinRate > 0 {
		report.WinRateWFE = oosMetrics.WinRate / isMetrics.WinRate
		if report.WinRateWFE < degradationThreshold {
			report.IsOverfitted = true
		}
	}
	if isMetrics.ProfitFactor > 0 {
		report.ProfitFactorWFE = oosMetrics.ProfitFactor / isMetrics.ProfitFactor
		if report.ProfitFactorWFE < degradationThreshold {
			report.IsOverfitted = true
		}
	}

	if report.IsOverfitted {
		v.logger.Warn("strategy shows overfitting",
			zap.String("strategy", strat.Name()),
			zap.Float64("winRateWfe", report.WinRateWFE),
			zap.Float64("profitFactorWfe", report.ProfitFactorWFE))
	} else {
		v.logger.Info("strategy passed walk-forward validation",
			zap.String("strategy", strat.Name()),
			zap.Float64("winRateWfe", report.WinRateWFE),
			zap.Float64("profitFactorWfe", report.ProfitFactorWFE))
	}
	return report, nil
}
