package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/intel"
	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

type fakeStore struct {
	candles      []types.Candle
	active       []types.Signal
	recent       []types.Signal
	lastByDir    map[types.Direction]*types.Signal
	activeParams *types.OptimizedParams
	inserted     []types.Signal
}

func (f *fakeStore) RecentCandles(_ context.Context, _ string, _ types.Timeframe, limit int) ([]types.Candle, error) {
	if limit < len(f.candles) {
		return f.candles[len(f.candles)-limit:], nil
	}
	return f.candles, nil
}

func (f *fakeStore) ActiveSignals(_ context.Context) ([]types.Signal, error) {
	return f.active, nil
}

func (f *fakeStore) RecentSignals(_ context.Context, limit int) ([]types.Signal, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) LatestSignalByDirection(_ context.Context, d types.Direction) (*types.Signal, error) {
	return f.lastByDir[d], nil
}

func (f *fakeStore) InsertSignal(_ context.Context, sig types.Signal) error {
	f.inserted = append(f.inserted, sig)
	return nil
}

func (f *fakeStore) ActiveParams(_ context.Context, _ string) (*types.OptimizedParams, error) {
	return f.activeParams, nil
}

func (f *fakeStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	var expired int64
	var kept []types.Signal
	for _, sig := range f.active {
		if sig.ExpiresAt != nil && !now.Before(*sig.ExpiresAt) {
			expired++
			sig.Status = types.SignalStatusExpired
			if last := f.lastByDir[sig.Direction]; last != nil && last.ID == sig.ID {
				last.Status = types.SignalStatusExpired
			}
			continue
		}
		kept = append(kept, sig)
	}
	f.active = kept
	return expired, nil
}

type fakePicker struct {
	best      *types.StrategyScore
	confluent bool
}

func (f *fakePicker) SelectBest(_ context.Context) (*types.StrategyScore, error) {
	return f.best, nil
}

func (f *fakePicker) CheckH4Confluence(_ context.Context, _ types.Direction) (bool, error) {
	return f.confluent, nil
}

type fakeRisk struct {
	approve bool
	reason  string

	gotCurrentATR  float64
	gotBaselineATR float64
}

func (f *fakeRisk) Check(_ context.Context, candidates []types.CandidateSignal, currentATR, baselineATR float64) ([]types.RiskCheckResult, error) {
	f.gotCurrentATR = currentATR
	f.gotBaselineATR = baselineATR
	results := make([]types.RiskCheckResult, len(candidates))
	for i := range candidates {
		results[i] = types.RiskCheckResult{Approved: f.approve, Reason: f.reason, PositionSize: 0.5}
	}
	return results, nil
}

type fakeEnricher struct{}

func (fakeEnricher) Enrich(candidates []types.CandidateSignal, _ *intel.DXYCorrelation) []types.CandidateSignal {
	return candidates
}

func (fakeEnricher) DXYCorrelation(_ context.Context) intel.DXYCorrelation {
	return intel.DXYCorrelation{}
}

type fakePublisher struct {
	published []types.Signal
}

func (f *fakePublisher) SignalPublished(sig types.Signal) {
	f.published = append(f.published, sig)
}

// stubStrategy emits a fixed candidate set.
type stubStrategy struct {
	candidates []types.CandidateSignal
	params     map[string]float64
}

func (s *stubStrategy) Name() string               { return strategy.TrendContinuationName }
func (s *stubStrategy) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *stubStrategy) MinCandles() int            { return 10 }
func (s *stubStrategy) Params() map[string]float64 { return s.params }
func (s *stubStrategy) Analyze(_ []types.Candle) ([]types.CandidateSignal, error) {
	return s.candidates, nil
}

func candidate(confidence, rr float64, direction types.Direction) types.CandidateSignal {
	return types.CandidateSignal{
		Strategy:    strategy.TrendContinuationName,
		Symbol:      types.DefaultSymbol,
		Timeframe:   types.TimeframeH1,
		Direction:   direction,
		EntryPrice:  decimal.NewFromFloat(2400.123),
		StopLoss:    decimal.NewFromFloat(2395.0),
		TakeProfit1: decimal.NewFromFloat(2410.0),
		TakeProfit2: decimal.NewFromFloat(2420.0),
		RiskReward:  decimal.NewFromFloat(rr),
		Confidence:  decimal.NewFromFloat(confidence),
		Reasoning:   "stub setup",
		Timestamp:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func h1History(n int) []types.Candle {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		c := 2400.0 + float64(i%10)
		candles[i] = types.Candle{
			Symbol:    types.DefaultSymbol,
			Timeframe: types.TimeframeH1,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 3,
			Low:       c - 3,
			Close:     c + 1,
		}
	}
	return candles
}

func testConfig() types.PipelineConfig {
	return types.PipelineConfig{
		MinRiskReward: 2.0,
		MinConfidence: 65,
		DedupWindow:   4 * time.Hour,
		BiasLookback:  20,
		BiasThreshold: 0.75,
	}
}

type fixture struct {
	pipeline  *Pipeline
	store     *fakeStore
	picker    *fakePicker
	risk      *fakeRisk
	publisher *fakePublisher
	now       time.Time
}

func newFixture(t *testing.T, candidates []types.CandidateSignal) *fixture {
	t.Helper()
	registry := strategy.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(strategy.TrendContinuationName,
		func(params map[string]float64, _ *zap.Logger) strategy.Strategy {
			return &stubStrategy{candidates: candidates, params: params}
		}))

	f := &fixture{
		store: &fakeStore{
			candles:   h1History(120),
			lastByDir: make(map[types.Direction]*types.Signal),
		},
		picker:    &fakePicker{best: &types.StrategyScore{Strategy: strategy.TrendContinuationName, Score: 0.8}},
		risk:      &fakeRisk{approve: true},
		publisher: &fakePublisher{},
		now:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.pipeline = New(f.store, registry, f.picker, f.risk, fakeEnricher{}, f.publisher, testConfig(), zap.NewNop())
	f.pipeline.now = func() time.Time { return f.now }
	return f
}

func TestRunPublishesSignal(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, strategy.TrendContinuationName, sig.Strategy)
	assert.Equal(t, types.SignalStatusActive, sig.Status)
	assert.Equal(t, "2400.12", sig.EntryPrice.String())
	assert.NotEmpty(t, sig.ID)
	require.NotNil(t, sig.ExpiresAt)
	assert.Equal(t, f.now.Add(8*time.Hour), *sig.ExpiresAt)

	require.Len(t, f.store.inserted, 1)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, sig.ID, f.publisher.published[0].ID)
}

func TestRunConfluenceBoost(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.picker.confluent = true

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "75", sig.Confidence.String())
	assert.Contains(t, sig.Reasoning, "H4 trend agrees")
}

func TestRunPicksHighestConfidence(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{
		candidate(70, 2.5, types.DirectionBuy),
		candidate(82, 2.2, types.DirectionSell),
	})

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, types.DirectionSell, sig.Direction)
	assert.Equal(t, "82", sig.Confidence.String())
}

func TestRunFiltersWeakCandidates(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{
		candidate(70, 1.5, types.DirectionBuy), // RR below 2.0
		candidate(60, 2.5, types.DirectionBuy), // confidence below 65
	})

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Empty(t, f.store.inserted)
}

func TestRunAbortsOnOppositeActiveSignal(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.store.active = []types.Signal{{ID: "s1", Direction: types.DirectionSell, Status: types.SignalStatusActive}}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRunExpiresStaleOppositeSignal(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	expired := f.now.Add(-72 * time.Hour)
	f.store.active = []types.Signal{{
		ID:        "stale",
		Direction: types.DirectionSell,
		Status:    types.SignalStatusActive,
		CreatedAt: expired.Add(-8 * time.Hour),
		ExpiresAt: &expired,
	}}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig, "a past-lifetime signal must not block the cycle")
	assert.Empty(t, f.store.active)
	assert.Len(t, f.store.inserted, 1)
}

func TestRunKeepsUnexpiredOppositeSignal(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	expires := f.now.Add(2 * time.Hour)
	f.store.active = []types.Signal{{
		ID:        "live",
		Direction: types.DirectionSell,
		Status:    types.SignalStatusActive,
		ExpiresAt: &expires,
	}}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Len(t, f.store.active, 1)
}

func TestRunDedupWindow(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.store.lastByDir[types.DirectionBuy] = &types.Signal{
		ID:        "recent",
		Direction: types.DirectionBuy,
		CreatedAt: f.now.Add(-2 * time.Hour),
	}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)

	// Outside the window the signal goes through.
	f.store.lastByDir[types.DirectionBuy].CreatedAt = f.now.Add(-5 * time.Hour)
	sig, err = f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

func TestRunSkipsDegradedStrategy(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.picker.best.IsDegraded = true

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRunNoRankedStrategy(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.picker.best = nil

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRunRiskRejection(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.risk.approve = false
	f.risk.reason = "daily loss limit breached"

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Empty(t, f.store.inserted)
}

func TestRunPassesATRPairToRiskGate(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, f.risk.gotCurrentATR, 0.0)
	assert.Greater(t, f.risk.gotBaselineATR, 0.0)
	assert.NotEqual(t, 1.0, f.risk.gotCurrentATR)
}

func TestRunNeutralATRWithThinHistory(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.store.candles = h1History(10)

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.risk.gotCurrentATR)
	assert.Equal(t, 1.0, f.risk.gotBaselineATR)
}

func TestRunBiasNote(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	for i := 0; i < 20; i++ {
		dir := types.DirectionBuy
		if i < 3 {
			dir = types.DirectionSell
		}
		f.store.recent = append(f.store.recent, types.Signal{Direction: dir})
	}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Contains(t, sig.Reasoning, "85% of recent signals were BUY")
}

func TestRunNoBiasNoteWithShortHistory(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.store.recent = []types.Signal{{Direction: types.DirectionBuy}}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.NotContains(t, sig.Reasoning, "recent signals")
}

func TestRunUsesOptimizedParams(t *testing.T) {
	f := newFixture(t, []types.CandidateSignal{candidate(70, 2.5, types.DirectionBuy)})
	f.store.activeParams = &types.OptimizedParams{
		Strategy: strategy.TrendContinuationName,
		Params:   map[string]float64{"EMA_FAST": 42},
		IsActive: true,
	}

	sig, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
}
