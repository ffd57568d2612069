package selector

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

const confluenceCandles = 200

// CheckH4Confluence reports whether the H4 EMA trend agrees with the
// proposed direction: EMA50 above EMA200 for BUY, below for SELL.
// Insufficient data counts as disagreement.
func (s *Selector) CheckH4Confluence(ctx context.Context, direction types.Direction) (bool, error) {
	candles, err := s.store.RecentCandles(ctx, types.DefaultSymbol, types.TimeframeH4, confluenceCandles)
	if err != nil {
		return false, err
	}
	if len(candles) < confluenceCandles {
		s.logger.Warn("h4 confluence: insufficient candles",
			zap.Int("have", len(candles)),
			zap.Int("want", confluenceCandles))
		return false, nil
	}

	closes := strategy.Closes(candles)
	ema50 := strategy.EMA(closes, 50)
	ema200 := strategy.EMA(closes, 200)

	fast := ema50[len(ema50)-1]
	slow := ema200[len(ema200)-1]
	if math.IsNaN(fast) || math.IsNaN(slow) {
		s.logger.Warn("h4 confluence: EMA not warmed up")
		return false, nil
	}

	var agrees bool
	switch direction {
	case types.DirectionBuy:
		agrees = fast > slow
	case types.DirectionSell:
		agrees = fast < slow
	default:
		return false, nil
	}

	s.logger.Info("h4 confluence",
		zap.String("direction", string(direction)),
		zap.Float64("ema50", fast),
		zap.Float64("ema200", slow),
		zap.Bool("agrees", agrees))
	return agrees, nil
}
