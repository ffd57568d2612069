// Package selector ranks strategies for signal generation. Rankings
// blend normalized backtest metrics with live outcome performance,
// adjusted for the current volatility regime, with degraded strategies
// pushed to the back of the queue.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

// Store is the persistence surface the selector reads from.
type Store interface {
	// LatestBacktest returns the newest non-walk-forward backtest row for
	// a strategy and window; windowDays 0 matches any window. Returns
	// nil when no row exists.
	LatestBacktest(ctx context.Context, strategyName string, windowDays int) (*types.BacktestRecord, error)
	// OldestBacktest returns the oldest non-walk-forward backtest row,
	// used as the degradation baseline. Returns nil when no row exists.
	OldestBacktest(ctx context.Context, strategyName string) (*types.BacktestRecord, error)
	// LatestPerformance returns the newest live performance row for a
	// strategy and period ("7d"/"30d"). Returns nil when no row exists.
	LatestPerformance(ctx context.Context, strategyName, period string) (*types.StrategyPerformance, error)
	// RecentCandles returns up to limit candles in ascending timestamp
	// order, ending at the most recent stored candle.
	RecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.Candle, error)
}

// Metric weights for backtest composite scoring; they match the
// optimizer so rankings agree across the two services.
const (
	weightWinRate      = 0.30
	weightProfitFactor = 0.25
	weightSharpe       = 0.15
	weightExpectancy   = 0.15
	weightMaxDrawdown  = 0.15
)

// Live score weights and normalization caps.
const (
	liveWeightWinRate      = 0.40
	liveWeightProfitFactor = 0.35
	liveWeightAvgRR        = 0.25

	livePFCap = 3.0
	liveRRCap = 5.0
)

// Config holds the tunable selector thresholds.
type Config struct {
	MinTrades        int     // exclude strategies below this trade count
	LiveBlendWeight  float64 // live share of the blended score
	LiveMinSignals   int     // tracked signals required before blending
	RegimePenalty    float64 // multiplier for regime-mismatched strategies
	WinRateDropLimit float64 // absolute win-rate drop that flags degradation
}

// DefaultConfig returns the production selector thresholds.
func DefaultConfig() Config {
	return Config{
		MinTrades:        8,
		LiveBlendWeight:  0.30,
		LiveMinSignals:   5,
		RegimePenalty:    0.90,
		WinRateDropLimit: 0.15,
	}
}

// windowPreference orders backtest windows when fetching the latest
// result per strategy: shorter windows adapt faster to regime changes.
// The trailing 0 matches any window.
var windowPreference = []int{14, 30, 60, 7, 0}

// Selector ranks registered strategies.
type Selector struct {
	store    Store
	registry *strategy.Registry
	regime   RegimeDetector
	config   Config
	logger   *zap.Logger
}

// RegimeDetector classifies the current volatility regime.
type RegimeDetector interface {
	DetectRegime(ctx context.Context) (types.VolatilityRegime, error)
}

// New creates a selector.
func New(store Store, registry *strategy.Registry, regime RegimeDetector, config Config, logger *zap.Logger) *Selector {
	return &Selector{
		store:    store,
		registry: registry,
		regime:   regime,
		config:   config,
		logger:   logger.Named("selector"),
	}
}

// SelectBest returns the highest-ranked strategy, or nil when no
// strategy qualifies.
func (s *Selector) SelectBest(ctx context.Context) (*types.StrategyScore, error) {
	ranked, err := s.SelectAllRanked(ctx)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

// SelectAllRanked returns every qualifying strategy ranked best-first.
// Non-degraded strategies always rank ahead of degraded ones.
func (s *Selector) SelectAllRanked(ctx context.Context) ([]types.StrategyScore, error) {
	names, records, err := s.fetchLatestResults(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("no qualifying backtest results, skipping selection")
		return nil, nil
	}

	scores := computeBacktestScores(names, records)

	regime, err := s.regime.DetectRegime(ctx)
	if err != nil {
		s.logger.Warn("regime detection failed, assuming medium", zap.Error(err))
		regime = types.RegimeMedium
	}
	s.logger.Info("volatility regime", zap.String("regime", string(regime)))

	for i := range scores {
		scores[i].Regime = regime
		s.applyRegimePenalty(&scores[i], regime)
	}

	if err := s.blendLive(ctx, scores); err != nil {
		return nil, err
	}

	recordByName := make(map[string]*types.BacktestRecord, len(records))
	for i, name := range names {
		recordByName[name] = records[i]
	}
	for i := range scores {
		degraded, reason, err := s.checkDegradation(ctx, scores[i].Strategy, recordByName[scores[i].Strategy])
		if err != nil {
			return nil, err
		}
		scores[i].IsDegraded = degraded
		if degraded {
			s.logger.Warn("strategy degraded",
				zap.String("strategy", scores[i].Strategy),
				zap.String("reason", reason))
		}
	}

	sortScores(scores)

	fields := make([]string, len(scores))
	for i, sc := range scores {
		fields[i] = fmt.Sprintf("%s=%.4f degraded=%t", sc.Strategy, sc.Score, sc.IsDegraded)
	}
	s.logger.Info("ranked strategies", zap.Strings("ranking", fields))
	return scores, nil
}

// fetchLatestResults returns the newest non-walk-forward backtest per
// registered strategy, walking the window preference order. Strategies
// below MinTrades or without any result are excluded.
func (s *Selector) fetchLatestResults(ctx context.Context) ([]string, []*types.BacktestRecord, error) {
	var names []string
	var records []*types.BacktestRecord

	for _, name := range s.registry.Names() {
		var record *types.BacktestRecord
		for _, window := range windowPreference {
			r, err := s.store.LatestBacktest(ctx, name, window)
			if err != nil {
				return nil, nil, fmt.Errorf("latest backtest for %s: %w", name, err)
			}
			if r != nil {
				record = r
				break
			}
		}
		if record == nil {
			s.logger.Warn("no backtest results for strategy", zap.String("strategy", name))
			continue
		}
		if record.TotalTrades < s.config.MinTrades {
			s.logger.Warn("strategy excluded, insufficient trades",
				zap.String("strategy", name),
				zap.Int("trades", record.TotalTrades),
				zap.Int("min", s.config.MinTrades))
			continue
		}
		names = append(names, name)
		records = append(records, record)
	}
	return names, records, nil
}

// computeBacktestScores min-max normalizes each metric across the
// qualifying strategies and applies the composite weights. With a
// single strategy, or a metric with zero spread, normalized values
// fall back to 0.5.
func computeBacktestScores(names []string, records []*types.BacktestRecord) []types.StrategyScore {
	n := len(records)

	normalize := func(extract func(*types.BacktestRecord) float64) []float64 {
		values := make([]float64, n)
		for i, r := range records {
			values[i] = extract(r)
		}
		if n == 1 {
			return []float64{0.5}
		}
		mn, mx := values[0], values[0]
		for _, v := range values[1:] {
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}
		out := make([]float64, n)
		if mx == mn {
			for i := range out {
				out[i] = 0.5
			}
			return out
		}
		for i, v := range values {
			out[i] = (v - mn) / (mx - mn)
		}
		return out
	}

	wr := normalize(func(r *types.BacktestRecord) float64 { return r.WinRate })
	pf := normalize(func(r *types.BacktestRecord) float64 { return r.ProfitFactor })
	sr := normalize(func(r *types.BacktestRecord) float64 { return r.SharpeRatio })
	ex := normalize(func(r *types.BacktestRecord) float64 { return r.Expectancy })
	dd := normalize(func(r *types.BacktestRecord) float64 { return r.MaxDrawdown })

	scores := make([]types.StrategyScore, n)
	for i, name := range names {
		composite := weightWinRate*wr[i] +
			weightProfitFactor*pf[i] +
			weightSharpe*sr[i] +
			weightExpectancy*ex[i] +
			weightMaxDrawdown*(1.0-dd[i])
		scores[i] = types.StrategyScore{
			Strategy:      name,
			Score:         composite,
			BacktestScore: composite,
			Regime:        types.RegimeMedium,
		}
	}
	return scores
}

// applyRegimePenalty scales down strategies mismatched with the
// current regime: breakout strategies in already-expanded volatility,
// trend strategies in dead markets.
func (s *Selector) applyRegimePenalty(score *types.StrategyScore, regime types.VolatilityRegime) {
	penalize := (regime == types.RegimeHigh && score.Strategy == strategy.BreakoutExpansionName) ||
		(regime == types.RegimeLow && score.Strategy == strategy.TrendContinuationName)
	if !penalize {
		return
	}
	original := score.Score
	score.Score *= s.config.RegimePenalty
	score.Penalized = true
	s.logger.Info("regime penalty applied",
		zap.String("strategy", score.Strategy),
		zap.String("regime", string(regime)),
		zap.Float64("before", original),
		zap.Float64("after", score.Score))
}

// blendLive mixes live outcome performance into the score once a
// strategy has enough tracked signals: 70% backtest, 30% live.
func (s *Selector) blendLive(ctx context.Context, scores []types.StrategyScore) error {
	for i := range scores {
		perf, err := s.store.LatestPerformance(ctx, scores[i].Strategy, "30d")
		if err != nil {
			return fmt.Errorf("live performance for %s: %w", scores[i].Strategy, err)
		}
		if perf == nil || perf.TotalSignals < s.config.LiveMinSignals {
			continue
		}

		live := scoreLiveMetrics(perf)
		original := scores[i].Score
		scores[i].LiveScore = live
		scores[i].Score = (1.0-s.config.LiveBlendWeight)*scores[i].Score + s.config.LiveBlendWeight*live

		s.logger.Info("live blend",
			zap.String("strategy", scores[i].Strategy),
			zap.Float64("before", original),
			zap.Float64("after", scores[i].Score),
			zap.Float64("liveScore", live),
			zap.Int("signals", perf.TotalSignals))
	}
	return nil
}

// scoreLiveMetrics maps live performance onto [0,1]: win rate is used
// directly, profit factor and average R:R are capped then scaled.
func scoreLiveMetrics(perf *types.StrategyPerformance) float64 {
	wr := perf.WinRate
	pf := perf.ProfitFactor
	if pf > livePFCap {
		pf = livePFCap
	}
	rr := perf.AvgRR
	if rr > liveRRCap {
		rr = liveRRCap
	}
	return liveWeightWinRate*wr +
		liveWeightProfitFactor*(pf/livePFCap) +
		liveWeightAvgRR*(rr/liveRRCap)
}

// checkDegradation flags a strategy whose current profit factor has
// fallen below break-even, or whose win rate has dropped more than the
// threshold against its oldest recorded baseline.
func (s *Selector) checkDegradation(ctx context.Context, name string, current *types.BacktestRecord) (bool, string, error) {
	if current == nil {
		return false, "", nil
	}

	var reasons []string
	if current.ProfitFactor < 1.0 {
		reasons = append(reasons, fmt.Sprintf("profit factor %.4f below 1.0", current.ProfitFactor))
	}

	baseline, err := s.store.OldestBacktest(ctx, name)
	if err != nil {
		return false, "", fmt.Errorf("baseline backtest for %s: %w", name, err)
	}
	if baseline != nil && baseline.ID != current.ID {
		drop := baseline.WinRate - current.WinRate
		if drop > s.config.WinRateDropLimit {
			reasons = append(reasons, fmt.Sprintf("win rate dropped %.4f (from %.4f to %.4f)",
				drop, baseline.WinRate, current.WinRate))
		}
	}

	if len(reasons) == 0 {
		return false, "", nil
	}
	return true, strings.Join(reasons, "; "), nil
}

// sortScores orders non-degraded strategies first, then by score
// descending within each group.
func sortScores(scores []types.StrategyScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].IsDegraded != scores[j].IsDegraded {
			return !scores[i].IsDegraded
		}
		return scores[i].Score > scores[j].Score
	})
}
