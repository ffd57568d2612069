// Package intel carries gold-specific market context: trading session
// metadata, the London/NY overlap confidence boost, and the gold-DXY
// correlation divergence note. Everything here enriches signals; it
// never suppresses them.
package intel

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	// OverlapConfidenceBoost is added to signals generated during the
	// London/NY overlap.
	OverlapConfidenceBoost = 5.0

	// DXYSymbol is the market data symbol for the US Dollar Index.
	DXYSymbol = "DXY"

	dxyCorrelationWindow = 30
	dxyCandleLimit       = 60
	// Gold and the dollar normally move inversely; a correlation weaker
	// than this marks a divergence.
	dxyDivergenceThreshold = -0.3

	maxConfidence = 100.0
)

// Store provides candle history for the correlation computation.
type Store interface {
	RecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.Candle, error)
}

// SessionInfo is a snapshot of active trading sessions.
type SessionInfo struct {
	ActiveSessions []string  `json:"activeSessions"`
	IsOverlap      bool      `json:"isOverlap"`
	Timestamp      time.Time `json:"timestamp"`
}

// DXYCorrelation is the rolling gold-DXY correlation result. Available
// is false when DXY history is missing or too thin.
type DXYCorrelation struct {
	Correlation float64 `json:"correlation"`
	IsDivergent bool    `json:"isDivergent"`
	Available   bool    `json:"available"`
	Message     string  `json:"message"`
}

// sessionVolatilityProfiles is informational metadata only.
var sessionVolatilityProfiles = map[string]string{
	"asian":    "Low volatility (typically 40-60% of London)",
	"london":   "High volatility (London open drives significant price movement)",
	"new_york": "High volatility (NY open adds liquidity and direction)",
	"overlap":  "Very high volatility (peak liquidity, largest moves)",
}

// Intelligence enriches candidate signals with gold-specific context.
type Intelligence struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// New creates the intelligence service.
func New(store Store, logger *zap.Logger) *Intelligence {
	return &Intelligence{
		store:  store,
		now:    time.Now,
		logger: logger.Named("intel"),
	}
}

// SessionInfo returns the sessions active at ts.
func (g *Intelligence) SessionInfo(ts time.Time) SessionInfo {
	active := strategy.ActiveSessions(ts)
	overlap := false
	for _, s := range active {
		if s == strategy.SessionOverlap {
			overlap = true
			break
		}
	}
	return SessionInfo{ActiveSessions: active, IsOverlap: overlap, Timestamp: ts}
}

// Enrich attaches session metadata to candidates, applies the overlap
// confidence boost, and appends a DXY divergence note when dxy reports
// one. Confidence is capped at 100; the DXY note never changes
// confidence.
func (g *Intelligence) Enrich(candidates []types.CandidateSignal, dxy *DXYCorrelation) []types.CandidateSignal {
	if len(candidates) == 0 {
		return candidates
	}

	info := g.SessionInfo(g.now().UTC())
	primary := "off_hours"
	if info.IsOverlap {
		primary = strategy.SessionOverlap
	} else if len(info.ActiveSessions) > 0 {
		primary = info.ActiveSessions[0]
	}

	enriched := make([]types.CandidateSignal, len(candidates))
	for i, cand := range candidates {
		cand.Session = primary

		if info.IsOverlap {
			boosted := cand.Confidence.InexactFloat64() + OverlapConfidenceBoost
			if boosted > maxConfidence {
				boosted = maxConfidence
			}
			old := cand.Confidence
			cand.Confidence = decimal.NewFromFloat(boosted).Round(2)
			cand.Reasoning += " | London/NY overlap: +5 confidence"
			g.logger.Info("overlap boost applied",
				zap.String("strategy", cand.Strategy),
				zap.String("before", old.String()),
				zap.String("after", cand.Confidence.String()))
		}

		if dxy != nil && dxy.IsDivergent {
			cand.Reasoning += fmt.Sprintf(" | DXY divergence detected (corr=%.2f)", dxy.Correlation)
		}

		enriched[i] = cand
	}
	return enriched
}

// DXYCorrelation computes the 30-period rolling Pearson correlation
// between XAUUSD and DXY daily closes, aligned by calendar date. It
// never fails the pipeline: missing or thin data yields an
// unavailable result.
func (g *Intelligence) DXYCorrelation(ctx context.Context) DXYCorrelation {
	unavailable := DXYCorrelation{Message: "DXY data unavailable"}

	dxyCandles, err := g.store.RecentCandles(ctx, DXYSymbol, types.TimeframeD1, dxyCandleLimit)
	if err != nil {
		g.logger.Warn("DXY candle fetch failed, degrading gracefully", zap.Error(err))
		return unavailable
	}
	if len(dxyCandles) < dxyCorrelationWindow+5 {
		g.logger.Warn("insufficient DXY candles for correlation",
			zap.Int("have", len(dxyCandles)),
			zap.Int("want", dxyCorrelationWindow+5))
		return unavailable
	}

	goldCandles, err := g.store.RecentCandles(ctx, types.DefaultSymbol, types.TimeframeD1, dxyCandleLimit)
	if err != nil {
		g.logger.Warn("gold candle fetch failed, degrading gracefully", zap.Error(err))
		return unavailable
	}
	if len(goldCandles) < dxyCorrelationWindow+5 {
		g.logger.Warn("insufficient gold D1 candles for correlation",
			zap.Int("have", len(goldCandles)))
		return unavailable
	}

	gold, dxy := alignByDate(goldCandles, dxyCandles)
	if len(gold) < dxyCorrelationWindow+5 {
		g.logger.Warn("insufficient aligned data points for correlation",
			zap.Int("aligned", len(gold)))
		return unavailable
	}

	corr, ok := pearson(
		gold[len(gold)-dxyCorrelationWindow:],
		dxy[len(dxy)-dxyCorrelationWindow:],
	)
	if !ok {
		g.logger.Warn("correlation undefined over latest window")
		return unavailable
	}

	divergent := corr > dxyDivergenceThreshold
	label := "normal inverse"
	if divergent {
		label = "DIVERGENT"
	}
	msg := fmt.Sprintf("Gold-DXY %d-period correlation: %.3f (%s)", dxyCorrelationWindow, corr, label)
	g.logger.Info("dxy correlation", zap.Float64("correlation", corr), zap.Bool("divergent", divergent))

	return DXYCorrelation{
		Correlation: corr,
		IsDivergent: divergent,
		Available:   true,
		Message:     msg,
	}
}

// SessionVolatilityProfile returns a qualitative description for a
// session name.
func (g *Intelligence) SessionVolatilityProfile(name string) string {
	if profile, ok := sessionVolatilityProfiles[name]; ok {
		return profile
	}
	return fmt.Sprintf("Unknown session %q", name)
}

// alignByDate inner-joins two candle series on calendar date and
// returns the paired closes in ascending date order.
func alignByDate(a, b []types.Candle) (aClose, bClose []float64) {
	bByDate := make(map[string]float64, len(b))
	for _, c := range b {
		bByDate[c.Timestamp.UTC().Format("2006-01-02")] = c.Close
	}
	for _, c := range a {
		if v, ok := bByDate[c.Timestamp.UTC().Format("2006-01-02")]; ok {
			aClose = append(aClose, c.Close)
			bClose = append(bClose, v)
		}
	}
	return aClose, bClose
}

// pearson computes the Pearson correlation coefficient. ok is false
// when either series has zero variance.
func pearson(x, y []float64) (float64, bool) {
	n := float64(len(x))
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}

	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}
