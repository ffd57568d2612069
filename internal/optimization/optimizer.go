package optimization

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/backtester"
	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/internal/workers"
	"github.com/goldsight/trading-backend/pkg/types"
)

// Config controls the optimization run for one strategy.
type Config struct {
	NumSamples    int   // parameter sets to sample, including defaults
	MinTrades     int   // minimum trades for a candidate to be scored
	TopCandidates int   // candidates pushed through the validation chain
	WindowDays    int   // rolling backtest window for scoring
	StepDays      int   // rolling backtest step for scoring
	Seed          int64 // sampler seed; 0 means time-based
}

// DefaultConfig mirrors the production optimization job settings.
func DefaultConfig() Config {
	return Config{
		NumSamples:    25,
		MinTrades:     10,
		TopCandidates: 5,
		WindowDays:    30,
		StepDays:      7,
	}
}

// robustnessWindows are the extra rolling windows a candidate must hold
// up across. A candidate passes if profitFactor > 1.0 with at least
// MinTrades trades in 2 of the 3 windows.
var robustnessWindows = []int{7, 14, 30}

const robustnessRequired = 2

// Result is the outcome of optimizing one strategy.
type Result struct {
	Strategy           string
	Params             map[string]float64
	Metrics            types.BacktestMetrics
	WFERatio           float64
	IsOverfitted       bool
	CombinationsTested int
}

// Optimizer searches a strategy's parameter space and validates the
// best candidates before recommending a parameter set.
type Optimizer struct {
	registry  *strategy.Registry
	runner    *backtester.Runner
	validator *backtester.WalkForwardValidator
	pool      *workers.Pool
	config    Config
	logger    *zap.Logger
}

// NewOptimizer creates an optimizer. pool may be nil, in which case
// candidates are evaluated sequentially.
func NewOptimizer(registry *strategy.Registry, runner *backtester.Runner, pool *workers.Pool, config Config, logger *zap.Logger) *Optimizer {
	return &Optimizer{
		registry:  registry,
		runner:    runner,
		validator: backtester.NewWalkForwardValidator(runner, logger),
		pool:      pool,
		config:    config,
		logger:    logger.Named("optimizer"),
	}
}

// scoredCandidate is one evaluated parameter set.
type scoredCandidate struct {
	params  map[string]float64
	metrics types.BacktestMetrics
	trades  []types.SimulatedTrade
	score   float64
}

// OptimizeStrategy samples, scores, and validates parameter sets for
// one strategy against the supplied H1 candle history.
//
// Validation chain for each top candidate, in order:
//  1. walk-forward split (reject on out-of-sample collapse)
//  2. Monte Carlo permutation test (reject if the profit factor is
//     indistinguishable from a zero-edge shuffle at p > 0.05)
//  3. multi-window robustness (profitable in 2 of 3 rolling windows)
//
// If every top candidate fails, the best one is returned flagged as
// overfitted so callers can persist it without activating it.
func (o *Optimizer) OptimizeStrategy(ctx context.Context, name string, candles []types.Candle) (*Result, error) {
	if len(strategy.ParamRanges(name)) == 0 {
		o.logger.Warn("no parameter ranges defined, skipping", zap.String("strategy", name))
		return nil, nil
	}

	seed := o.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	candidates := generateCandidates(name, o.config.NumSamples, rng)
	o.logger.Info("generated candidates",
		zap.String("strategy", name),
		zap.Int("count", len(candidates)))

	scored, err := o.evaluate(ctx, name, candidates, candles)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		o.logger.Warn("no viable candidates",
			zap.String("strategy", name),
			zap.Int("minTrades", o.config.MinTrades))
		return nil, nil
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	topN := o.config.TopCandidates
	if topN > len(scored) {
		topN = len(scored)
	}

	mc := backtester.NewPermutationTester(0, 0, seed, o.logger)

	for rank, cand := range scored[:topN] {
		pass, wfe, reason := o.validate(ctx, name, cand, candles, mc)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !pass {
			o.logger.Info("candidate rejected",
				zap.String("strategy", name),
				zap.Int("rank", rank),
				zap.String("reason", reason))
			continue
		}

		o.logger.Info("optimization complete",
			zap.String("strategy", name),
			zap.Int("rank", rank),
			zap.Float64("score", cand.score),
			zap.Int("trades", cand.metrics.TotalTrades),
			zap.Float64("wfe", wfe))

		return &Result{
			Strategy:           name,
			Params:             cand.params,
			Metrics:            cand.metrics,
			WFERatio:           wfe,
			IsOverfitted:       false,
			CombinationsTested: len(candidates),
		}, nil
	}

	best := scored[0]
	o.logger.Warn("all top candidates rejected, returning best as overfitted",
		zap.String("strategy", name))
	return &Result{
		Strategy:           name,
		Params:             best.params,
		Metrics:            best.metrics,
		IsOverfitted:       true,
		CombinationsTested: len(candidates),
	}, nil
}

// evaluate backtests every candidate and keeps those with enough
// trades, fanning out across the worker pool when one is available.
func (o *Optimizer) evaluate(ctx context.Context, name string, candidates []map[string]float64, candles []types.Candle) ([]scoredCandidate, error) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		scored []scoredCandidate
	)

	evalOne := func(params map[string]float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		strat, err := o.registry.Create(name, params)
		if err != nil {
			return err
		}
		metrics, trades, err := o.runner.RunFull(ctx, strat, candles, o.config.WindowDays, o.config.StepDays)
		if err != nil {
			return err
		}
		if metrics.TotalTrades < o.config.MinTrades {
			return nil
		}
		cand := scoredCandidate{
			params:  params,
			metrics: metrics,
			trades:  trades,
			score:   CompositeScore(metrics),
		}
		mu.Lock()
		scored = append(scored, cand)
		mu.Unlock()
		return nil
	}

	for _, params := range candidates {
		params := params
		if o.pool == nil {
			if err := evalOne(params); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				o.logger.Debug("candidate evaluation failed", zap.Error(err))
			}
			continue
		}

		wg.Add(1)
		task := func() error {
			defer wg.Done()
			return evalOne(params)
		}
		if err := o.pool.SubmitFunc(task); err != nil {
			// Pool saturated or stopped: evaluate inline.
			wg.Done()
			if evalErr := evalOne(params); evalErr != nil {
				o.logger.Debug("candidate evaluation failed", zap.Error(evalErr))
			}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scored, nil
}

// validate runs the three-gate chain on a scored candidate and returns
// (passed, averaged walk-forward efficiency, rejection reason).
func (o *Optimizer) validate(ctx context.Context, name string, cand scoredCandidate, candles []types.Candle, mc *backtester.PermutationTester) (bool, float64, string) {
	strat, err := o.registry.Create(name, cand.params)
	if err != nil {
		return false, 0, fmt.Sprintf("create strategy: %v", err)
	}

	// Gate 1: walk-forward. Inconclusive splits (too few out-of-sample
	// trades) are not treated as overfitting.
	report, err := o.validator.Validate(ctx, strat, candles, o.config.WindowDays)
	if err != nil {
		return false, 0, fmt.Sprintf("walk-forward: %v", err)
	}
	if report.IsOverfitted {
		return false, 0, "walk-forward degradation"
	}
	wfe := averageWFE(report)

	// Gate 2: Monte Carlo permutation on the scoring trades.
	perm := mc.Test(cand.trades)
	if !perm.Passed {
		return false, 0, fmt.Sprintf("permutation test p=%.4f", perm.PValue)
	}

	// Gate 3: robustness across multiple window lengths.
	passing := 0
	for _, days := range robustnessWindows {
		metrics, _, err := o.runner.RunFull(ctx, strat, candles, days, o.config.StepDays)
		if err != nil {
			return false, 0, fmt.Sprintf("robustness window %dd: %v", days, err)
		}
		if metrics.ProfitFactor > 1.0 && metrics.TotalTrades >= o.config.MinTrades {
			passing++
		}
	}
	if passing < robustnessRequired {
		return false, 0, fmt.Sprintf("profitable in %d/%d windows", passing, len(robustnessWindows))
	}

	return true, wfe, ""
}

// averageWFE averages the win-rate and profit-factor walk-forward
// efficiencies, ignoring ones that could not be computed.
func averageWFE(report types.WalkForwardReport) float64 {
	var sum float64
	var n int
	if report.WinRateWFE > 0 {
		sum += report.WinRateWFE
		n++
	}
	if report.ProfitFactorWFE > 0 {
		sum += report.ProfitFactorWFE
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
