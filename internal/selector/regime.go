package selector

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	regimeCandleLimit = 720 // ~30 days of H1
	regimeATRLength   = 14
	regimeMinCandles  = 30

	regimeLowPercentile  = 25.0
	regimeHighPercentile = 75.0
)

// ATRRegimeDetector classifies volatility by ranking the current
// ATR(14) against its own 30-day distribution. With too little data it
// defaults to MEDIUM rather than guessing.
type ATRRegimeDetector struct {
	store  Store
	logger *zap.Logger
}

// NewATRRegimeDetector creates a regime detector backed by stored H1
// candles.
func NewATRRegimeDetector(store Store, logger *zap.Logger) *ATRRegimeDetector {
	return &ATRRegimeDetector{store: store, logger: logger.Named("regime")}
}

// DetectRegime returns LOW at or below the 25th ATR percentile, HIGH
// at or above the 75th, MEDIUM otherwise.
func (d *ATRRegimeDetector) DetectRegime(ctx context.Context) (types.VolatilityRegime, error) {
	candles, err := d.store.RecentCandles(ctx, types.DefaultSymbol, types.TimeframeH1, regimeCandleLimit)
	if err != nil {
		return types.RegimeMedium, err
	}
	if len(candles) < regimeMinCandles {
		d.logger.Warn("insufficient candles for regime detection, defaulting to medium",
			zap.Int("have", len(candles)),
			zap.Int("want", regimeCandleLimit))
		return types.RegimeMedium, nil
	}

	atr := strategy.ATR(strategy.Highs(candles), strategy.Lows(candles), strategy.Closes(candles), regimeATRLength)
	values := make([]float64, 0, len(atr))
	for _, v := range atr {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		d.logger.Warn("ATR series too short, defaulting to medium")
		return types.RegimeMedium, nil
	}

	current := values[len(values)-1]
	below := 0
	for _, v := range values {
		if v < current {
			below++
		}
	}
	percentile := float64(below) / float64(len(values)) * 100

	d.logger.Debug("ATR regime",
		zap.Float64("currentAtr", current),
		zap.Float64("percentile", percentile),
		zap.Int("seriesLen", len(values)))

	switch {
	case percentile <= regimeLowPercentile:
		return types.RegimeLow, nil
	case percentile >= regimeHighPercentile:
		return types.RegimeHigh, nil
	default:
		return types.RegimeMedium, nil
	}
}
