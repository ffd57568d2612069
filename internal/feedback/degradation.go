package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Degradation and recovery thresholds.
const (
	WinRateDropThreshold = 0.15
	RecoveryDwell        = 7 * 24 * time.Hour
	RecoveryWinRateSlack = 0.05
)

// Monitor tracks per-strategy degradation and recovery against live
// performance.
type Monitor struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewMonitor creates a degradation monitor.
func NewMonitor(store Store, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:  store,
		now:    time.Now,
		logger: logger.Named("feedback"),
	}
}

// CheckDegradation compares a strategy's live 30d performance against
// its oldest backtest baseline and persists the degradation flag when
// it changes. Degraded means live profit factor below 1.0, or win rate
// more than the threshold below baseline.
func (m *Monitor) CheckDegradation(ctx context.Context, strategyName string) (bool, string, error) {
	perf, err := m.store.LatestPerformance(ctx, strategyName, "30d")
	if err != nil {
		return false, "", fmt.Errorf("live performance: %w", err)
	}
	if perf == nil {
		m.logger.Debug("no 30d performance, skipping degradation check",
			zap.String("strategy", strategyName))
		return false, "", nil
	}

	var reasons []string
	if perf.ProfitFactor < 1.0 {
		reasons = append(reasons, fmt.Sprintf("profit factor %.4f below 1.0", perf.ProfitFactor))
	}

	baseline, err := m.store.OldestBacktest(ctx, strategyName)
	if err != nil {
		return false, "", fmt.Errorf("baseline backtest: %w", err)
	}
	if baseline != nil {
		if drop := baseline.WinRate - perf.WinRate; drop > WinRateDropThreshold {
			reasons = append(reasons, fmt.Sprintf("win rate dropped %.4f (from %.4f to %.4f)",
				drop, baseline.WinRate, perf.WinRate))
		}
	}

	degraded := len(reasons) > 0
	reason := strings.Join(reasons, "; ")

	if perf.IsDegraded != degraded {
		if err := m.store.SetDegraded(ctx, strategyName, degraded); err != nil {
			return false, "", fmt.Errorf("persist degradation flag: %w", err)
		}
		m.logger.Info("degradation flag updated",
			zap.String("strategy", strategyName),
			zap.Bool("degraded", degraded),
			zap.String("reason", reason))
	}
	return degraded, reason, nil
}

// CheckRecovery clears the degradation flag once a strategy has been
// degraded for the full dwell period AND its last 7 days show a win
// rate within the slack of baseline with a profit factor at or above
// break-even. Returns true when recovery was detected and persisted.
func (m *Monitor) CheckRecovery(ctx context.Context, strategyName string) (bool, error) {
	perf30, err := m.store.LatestPerformance(ctx, strategyName, "30d")
	if err != nil {
		return false, fmt.Errorf("30d performance: %w", err)
	}
	if perf30 == nil || !perf30.IsDegraded {
		return false, nil
	}

	degradedSince := perf30.DegradedSince
	if degradedSince == nil {
		t := perf30.CalculatedAt
		degradedSince = &t
	}
	if degradedSince.IsZero() {
		return false, nil
	}
	if dwell := m.now().Sub(*degradedSince); dwell < RecoveryDwell {
		m.logger.Debug("degradation dwell not elapsed",
			zap.String("strategy", strategyName),
			zap.Duration("dwell", dwell))
		return false, nil
	}

	perf7, err := m.store.LatestPerformance(ctx, strategyName, "7d")
	if err != nil {
		return false, fmt.Errorf("7d performance: %w", err)
	}
	if perf7 == nil {
		return false, nil
	}

	baseline, err := m.store.OldestBacktest(ctx, strategyName)
	if err != nil {
		return false, fmt.Errorf("baseline backtest: %w", err)
	}
	if baseline == nil {
		return false, nil
	}

	wrRecovered := perf7.WinRate >= baseline.WinRate-RecoveryWinRateSlack
	pfRecovered := perf7.ProfitFactor >= 1.0
	if !wrRecovered || !pfRecovered {
		return false, nil
	}

	if err := m.store.SetDegraded(ctx, strategyName, false); err != nil {
		return false, fmt.Errorf("clear degradation flag: %w", err)
	}
	m.logger.Info("strategy recovered",
		zap.String("strategy", strategyName),
		zap.Float64("winRate7d", perf7.WinRate),
		zap.Float64("baselineWinRate", baseline.WinRate),
		zap.Float64("profitFactor7d", perf7.ProfitFactor))
	return true, nil
}
