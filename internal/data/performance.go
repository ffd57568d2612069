package data

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// trackedPeriods are the rolling windows the selector's live blend
// reads from.
var trackedPeriods = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Tracker maintains rolling live performance rows per strategy.
type Tracker struct {
	store  *Store
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a performance tracker.
func NewTracker(store *Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, now: time.Now, logger: logger.Named("performance")}
}

// Recalculate refreshes the 7d and 30d performance rows for one
// strategy from its recorded outcomes.
func (t *Tracker) Recalculate(ctx context.Context, strategyName string) error {
	now := t.now().UTC()
	for period, window := range trackedPeriods {
		outcomes, err := t.store.StrategyOutcomesSince(ctx, strategyName, now.Add(-window))
		if err != nil {
			return err
		}

		perf := aggregate(strategyName, period, outcomes)
		perf.CalculatedAt = now
		if err := t.store.UpsertPerformance(ctx, perf); err != nil {
			return err
		}

		t.logger.Debug("performance refreshed",
			zap.String("strategy", strategyName),
			zap.String("period", period),
			zap.Int("signals", perf.TotalSignals),
			zap.Float64("winRate", perf.WinRate))
	}
	return nil
}

// RecalculateAll refreshes performance rows for every named strategy.
func (t *Tracker) RecalculateAll(ctx context.Context, strategies []string) error {
	for _, name := range strategies {
		if err := t.Recalculate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func aggregate(strategyName, period string, outcomes []StrategyOutcome) types.StrategyPerformance {
	perf := types.StrategyPerformance{
		Strategy: strategyName,
		Period:   period,
	}
	if len(outcomes) == 0 {
		return perf
	}

	var wins int
	var grossProfit, grossLoss, rrSum float64
	for _, o := range outcomes {
		if o.Result.IsWin() {
			wins++
		}
		if o.PnlPips > 0 {
			grossProfit += o.PnlPips
		} else {
			grossLoss += -o.PnlPips
		}
		rrSum += o.RiskReward
	}

	n := float64(len(outcomes))
	perf.TotalSignals = len(outcomes)
	perf.WinRate = round4(float64(wins) / n)
	perf.AvgRR = round4(rrSum / n)
	switch {
	case grossLoss > 0:
		perf.ProfitFactor = round4(grossProfit / grossLoss)
	case grossProfit > 0:
		// No losers in the window.
		perf.ProfitFactor = 9999.9999
	}
	return perf
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
