// Package pipeline runs the signal generation flow: strategy selection,
// candidate analysis, validation filters, enrichment, the risk gate,
// and publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/intel"
	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	// confluenceBoost is added when the H4 trend agrees with the
	// candidate direction.
	confluenceBoost = 5.0
	maxConfidence   = 100.0

	// atrCandleWindow and atrLength feed the risk gate's volatility
	// scaling. Below atrMinCandles the neutral pair (1.0, 1.0) applies.
	atrCandleWindow = 100
	atrLength       = 14
	atrMinCandles   = 20

	// minAnalysisCandles floors how much history a strategy receives.
	minAnalysisCandles = 300
)

// Store covers the persistence the pipeline needs.
type Store interface {
	RecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.Candle, error)
	ActiveSignals(ctx context.Context) ([]types.Signal, error)
	RecentSignals(ctx context.Context, limit int) ([]types.Signal, error)
	LatestSignalByDirection(ctx context.Context, direction types.Direction) (*types.Signal, error)
	InsertSignal(ctx context.Context, sig types.Signal) error
	ActiveParams(ctx context.Context, strategyName string) (*types.OptimizedParams, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Picker chooses the strategy to run and answers confluence queries.
type Picker interface {
	SelectBest(ctx context.Context) (*types.StrategyScore, error)
	CheckH4Confluence(ctx context.Context, direction types.Direction) (bool, error)
}

// RiskGate approves or rejects candidates before publication.
type RiskGate interface {
	Check(ctx context.Context, candidates []types.CandidateSignal, currentATR, baselineATR float64) ([]types.RiskCheckResult, error)
}

// Enricher attaches gold-specific context to candidates.
type Enricher interface {
	Enrich(candidates []types.CandidateSignal, dxy *intel.DXYCorrelation) []types.CandidateSignal
	DXYCorrelation(ctx context.Context) intel.DXYCorrelation
}

// Publisher receives published signals, typically for notification
// delivery.
type Publisher interface {
	SignalPublished(sig types.Signal)
}

// Pipeline orchestrates one scan cycle.
type Pipeline struct {
	store     Store
	registry  *strategy.Registry
	picker    Picker
	risk      RiskGate
	enricher  Enricher
	publisher Publisher
	config    types.PipelineConfig
	now       func() time.Time
	logger    *zap.Logger
}

// New creates the pipeline. publisher may be nil.
func New(store Store, registry *strategy.Registry, picker Picker, risk RiskGate, enricher Enricher, publisher Publisher, config types.PipelineConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		registry:  registry,
		picker:    picker,
		risk:      risk,
		enricher:  enricher,
		publisher: publisher,
		config:    config,
		now:       time.Now,
		logger:    logger.Named("pipeline"),
	}
}

// Run executes one scan. It returns the published signal, or nil when
// the cycle produced nothing.
func (p *Pipeline) Run(ctx context.Context) (*types.Signal, error) {
	// Expire past-lifetime signals first so a stale recommendation
	// cannot block this cycle or hold a concurrency slot. This is a
	// pure status transition and needs no price.
	expired, err := p.store.ExpireStale(ctx, p.now())
	if err != nil {
		return nil, fmt.Errorf("expiring stale signals: %w", err)
	}
	if expired > 0 {
		p.logger.Info("expired stale signals", zap.Int64("count", expired))
	}

	score, err := p.picker.SelectBest(ctx)
	if err != nil {
		return nil, fmt.Errorf("selecting strategy: %w", err)
	}
	if score == nil {
		p.logger.Info("no ranked strategy available, skipping scan")
		return nil, nil
	}
	if score.IsDegraded {
		p.logger.Warn("best strategy is degraded, skipping scan",
			zap.String("strategy", score.Strategy))
		return nil, nil
	}

	strat, err := p.buildStrategy(ctx, score.Strategy)
	if err != nil {
		return nil, err
	}

	limit := strat.MinCandles()
	if limit < minAnalysisCandles {
		limit = minAnalysisCandles
	}
	candles, err := p.store.RecentCandles(ctx, types.DefaultSymbol, strat.Timeframe(), limit)
	if err != nil {
		return nil, fmt.Errorf("loading candles: %w", err)
	}

	candidates, err := strat.Analyze(candles)
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			p.logger.Info("insufficient candle history, skipping scan",
				zap.String("strategy", score.Strategy),
				zap.Int("candles", len(candles)))
			return nil, nil
		}
		return nil, fmt.Errorf("analyzing candles: %w", err)
	}

	candidates = p.filterCandidates(candidates)
	if len(candidates) == 0 {
		p.logger.Debug("no candidates passed validation filters")
		return nil, nil
	}

	candidates = p.applyConfluence(ctx, candidates)

	dxy := p.enricher.DXYCorrelation(ctx)
	candidates = p.enricher.Enrich(candidates, &dxy)

	best := bestCandidate(candidates)

	skip, err := p.shouldSkip(ctx, best)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}

	best, err = p.applyBiasNote(ctx, best)
	if err != nil {
		return nil, err
	}

	currentATR, baselineATR, err := p.atrPair(ctx)
	if err != nil {
		return nil, err
	}
	results, err := p.risk.Check(ctx, []types.CandidateSignal{best}, currentATR, baselineATR)
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	if len(results) == 0 || !results[0].Approved {
		reason := "no result"
		if len(results) > 0 {
			reason = results[0].Reason
		}
		p.logger.Info("candidate rejected by risk gate",
			zap.String("strategy", best.Strategy),
			zap.String("reason", reason))
		return nil, nil
	}

	sig := p.publish(best)
	if err := p.store.InsertSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("persisting signal: %w", err)
	}

	p.logger.Info("signal published",
		zap.String("id", sig.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("direction", string(sig.Direction)),
		zap.String("entry", sig.EntryPrice.String()),
		zap.String("confidence", sig.Confidence.String()),
		zap.Float64("positionSize", results[0].PositionSize))

	if p.publisher != nil {
		p.publisher.SignalPublished(sig)
	}
	return &sig, nil
}

// buildStrategy instantiates the chosen strategy with its active
// optimized parameters, falling back to defaults.
func (p *Pipeline) buildStrategy(ctx context.Context, name string) (strategy.Strategy, error) {
	params := strategy.DefaultParams(name)
	active, err := p.store.ActiveParams(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading active params: %w", err)
	}
	if active != nil {
		params = active.Params
		p.logger.Debug("using optimized parameters",
			zap.String("strategy", name),
			zap.Time("optimizedAt", active.CreatedAt))
	}

	strat, err := p.registry.Create(name, params)
	if err != nil {
		return nil, fmt.Errorf("creating strategy %s: %w", name, err)
	}
	return strat, nil
}

// filterCandidates drops candidates below the risk/reward and
// confidence floors.
func (p *Pipeline) filterCandidates(candidates []types.CandidateSignal) []types.CandidateSignal {
	minRR := decimal.NewFromFloat(p.config.MinRiskReward)
	minConf := decimal.NewFromFloat(p.config.MinConfidence)

	kept := make([]types.CandidateSignal, 0, len(candidates))
	for _, c := range candidates {
		if c.RiskReward.LessThan(minRR) {
			p.logger.Debug("candidate below min risk/reward",
				zap.String("strategy", c.Strategy),
				zap.String("rr", c.RiskReward.String()))
			continue
		}
		if c.Confidence.LessThan(minConf) {
			p.logger.Debug("candidate below min confidence",
				zap.String("strategy", c.Strategy),
				zap.String("confidence", c.Confidence.String()))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// applyConfluence boosts candidates whose direction the H4 trend
// agrees with.
func (p *Pipeline) applyConfluence(ctx context.Context, candidates []types.CandidateSignal) []types.CandidateSignal {
	out := make([]types.CandidateSignal, len(candidates))
	for i, c := range candidates {
		agrees, err := p.picker.CheckH4Confluence(ctx, c.Direction)
		if err != nil {
			p.logger.Warn("confluence check failed", zap.Error(err))
		} else if agrees {
			boosted := c.Confidence.InexactFloat64() + confluenceBoost
			if boosted > maxConfidence {
				boosted = maxConfidence
			}
			c.Confidence = decimal.NewFromFloat(boosted).Round(2)
			c.Reasoning += " | H4 trend agrees: +5 confidence"
		}
		out[i] = c
	}
	return out
}

func bestCandidate(candidates []types.CandidateSignal) types.CandidateSignal {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence.GreaterThan(best.Confidence) {
			best = c
		}
	}
	return best
}

// shouldSkip enforces duplicate suppression and the opposite-direction
// abort.
func (p *Pipeline) shouldSkip(ctx context.Context, cand types.CandidateSignal) (bool, error) {
	active, err := p.store.ActiveSignals(ctx)
	if err != nil {
		return false, fmt.Errorf("loading active signals: %w", err)
	}
	for _, sig := range active {
		if sig.Direction == cand.Direction.Opposite() {
			p.logger.Info("opposite-direction signal active, aborting",
				zap.String("activeSignal", sig.ID),
				zap.String("direction", string(cand.Direction)))
			return true, nil
		}
	}

	last, err := p.store.LatestSignalByDirection(ctx, cand.Direction)
	if err != nil {
		return false, fmt.Errorf("loading latest signal: %w", err)
	}
	if last != nil && p.now().UTC().Sub(last.CreatedAt) < p.config.DedupWindow {
		p.logger.Info("duplicate signal within dedup window, skipping",
			zap.String("lastSignal", last.ID),
			zap.Duration("age", p.now().UTC().Sub(last.CreatedAt)))
		return true, nil
	}
	return false, nil
}

// applyBiasNote appends a warning when recent signals lean heavily in
// the candidate's direction. Informational only.
func (p *Pipeline) applyBiasNote(ctx context.Context, cand types.CandidateSignal) (types.CandidateSignal, error) {
	recent, err := p.store.RecentSignals(ctx, p.config.BiasLookback)
	if err != nil {
		return cand, fmt.Errorf("loading recent signals: %w", err)
	}
	if len(recent) < p.config.BiasLookback {
		return cand, nil
	}

	same := 0
	for _, sig := range recent {
		if sig.Direction == cand.Direction {
			same++
		}
	}
	share := float64(same) / float64(len(recent))
	if share > p.config.BiasThreshold {
		cand.Reasoning += fmt.Sprintf(" | Note: %.0f%% of recent signals were %s",
			share*100, cand.Direction)
		p.logger.Warn("directional bias detected",
			zap.String("direction", string(cand.Direction)),
			zap.Float64("share", share))
	}
	return cand, nil
}

// atrPair computes the risk gate's (current, baseline) ATR from recent
// H1 candles; thin history yields the neutral pair.
func (p *Pipeline) atrPair(ctx context.Context) (float64, float64, error) {
	candles, err := p.store.RecentCandles(ctx, types.DefaultSymbol, types.TimeframeH1, atrCandleWindow)
	if err != nil {
		return 0, 0, fmt.Errorf("loading ATR candles: %w", err)
	}
	if len(candles) < atrMinCandles {
		return 1.0, 1.0, nil
	}

	atr := strategy.ATR(strategy.Highs(candles), strategy.Lows(candles), strategy.Closes(candles), atrLength)
	var sum float64
	var n int
	current := 0.0
	for _, v := range atr {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
		current = v
	}
	if n == 0 || current <= 0 {
		return 1.0, 1.0, nil
	}
	return current, sum / float64(n), nil
}

// publish turns the approved candidate into a stored signal.
func (p *Pipeline) publish(cand types.CandidateSignal) types.Signal {
	now := p.now().UTC()
	expires := now.Add(time.Duration(cand.Timeframe.ExpiryHours()) * time.Hour)

	return types.Signal{
		ID:          uuid.NewString(),
		Strategy:    cand.Strategy,
		Symbol:      cand.Symbol,
		Timeframe:   cand.Timeframe,
		Direction:   cand.Direction,
		EntryPrice:  cand.EntryPrice.Round(2),
		StopLoss:    cand.StopLoss.Round(2),
		TakeProfit1: cand.TakeProfit1.Round(2),
		TakeProfit2: cand.TakeProfit2.Round(2),
		RiskReward:  cand.RiskReward.Round(2),
		Confidence:  cand.Confidence.Round(2),
		Reasoning:   cand.Reasoning,
		Status:      types.SignalStatusActive,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}
}
