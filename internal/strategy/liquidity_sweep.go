package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// LiquiditySweepName identifies the stop-hunt reversal strategy.
const LiquiditySweepName = "liquidity_sweep"

var liquiditySweepDefaults = map[string]float64{
	"SWING_ORDER":     5,
	"ATR_LENGTH":      14,
	"LOOKBACK":        50,
	"CONFIRM_BARS":    3,
	"SL_ATR_MULT":     0.5,
	"TP1_RR":          1.5,
	"TP2_RR":          3.0,
	"BASE_CONFIDENCE": 50,
}

// LiquiditySweep detects stop-hunt reversals on XAUUSD H1.
//
// A sweep occurs when a candle wicks beyond a recent swing level but
// closes back inside the range, signalling that resting stops were
// taken before institutional accumulation or distribution. The setup
// is confirmed when one of the next few bars closes beyond the sweep
// candle's opposite extreme.
type LiquiditySweep struct {
	params map[string]float64
	logger *zap.Logger
}

// NewLiquiditySweep builds the strategy with parameter overrides.
func NewLiquiditySweep(params map[string]float64, logger *zap.Logger) Strategy {
	return &LiquiditySweep{
		params: mergeParams(liquiditySweepDefaults, params),
		logger: logger.Named(LiquiditySweepName),
	}
}

func (s *LiquiditySweep) Name() string               { return LiquiditySweepName }
func (s *LiquiditySweep) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *LiquiditySweep) MinCandles() int            { return 100 }
func (s *LiquiditySweep) Params() map[string]float64 { return s.params }

// Analyze scans the candle series for liquidity sweep setups.
func (s *LiquiditySweep) Analyze(candles []types.Candle) ([]types.CandidateSignal, error) {
	if err := validateCandles(candles, s.MinCandles()); err != nil {
		return nil, err
	}

	highs := Highs(candles)
	lows := Lows(candles)
	closes := Closes(candles)

	atr := ATR(highs, lows, closes, int(s.params["ATR_LENGTH"]))
	swingHighs := SwingHighs(highs, int(s.params["SWING_ORDER"]))
	swingLows := SwingLows(lows, int(s.params["SWING_ORDER"]))

	lookback := int(s.params["LOOKBACK"])
	n := len(candles)
	var signals []types.CandidateSignal

	for i := s.MinCandles(); i < n; i++ {
		atrVal := atr[i]
		if math.IsNaN(atrVal) || atrVal <= 0 {
			continue
		}

		ts := candles[i].Timestamp
		inLondon, _ := InSession(ts, SessionLondon)
		inNY, _ := InSession(ts, SessionNewYork)
		if !inLondon && !inNY {
			continue
		}

		recentLows := swingsInWindow(swingLows, i-lookback, i)
		recentHighs := swingsInWindow(swingHighs, i-lookback, i)

		// One signal per bar, bullish checked first.
		if sig := s.checkSweep(candles, i, recentLows, atrVal, types.DirectionBuy); sig != nil {
			signals = append(signals, *sig)
			continue
		}
		if sig := s.checkSweep(candles, i, recentHighs, atrVal, types.DirectionSell); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

// checkSweep looks for a sweep of the given swing levels at bar i.
// Bullish: the candle wicks below a swing low but closes above it.
// Bearish: the candle wicks above a swing high but closes below it.
func (s *LiquiditySweep) checkSweep(
	candles []types.Candle,
	i int,
	swings []int,
	atrVal float64,
	dir types.Direction,
) *types.CandidateSignal {
	if len(swings) == 0 {
		return nil
	}

	bar := candles[i]
	var sweptLevels []float64
	for _, idx := range swings {
		if dir == types.DirectionBuy {
			level := candles[idx].Low
			if bar.Low < level && level <= bar.Close {
				sweptLevels = append(sweptLevels, level)
			}
		} else {
			level := candles[idx].High
			if bar.High > level && level >= bar.Close {
				sweptLevels = append(sweptLevels, level)
			}
		}
	}
	if len(sweptLevels) == 0 {
		return nil
	}

	// Reference the deepest swept level.
	sweepLevel := sweptLevels[0]
	for _, lvl := range sweptLevels[1:] {
		if dir == types.DirectionBuy && lvl < sweepLevel {
			sweepLevel = lvl
		}
		if dir == types.DirectionSell && lvl > sweepLevel {
			sweepLevel = lvl
		}
	}

	// Confirmation: one of the next bars closes beyond the sweep
	// candle's opposite extreme.
	n := len(candles)
	confirmEnd := i + 1 + int(s.params["CONFIRM_BARS"])
	if confirmEnd > n {
		confirmEnd = n
	}
	confirmIdx := -1
	for j := i + 1; j < confirmEnd; j++ {
		if dir == types.DirectionBuy && candles[j].Close > bar.High {
			confirmIdx = j
			break
		}
		if dir == types.DirectionSell && candles[j].Close < bar.Low {
			confirmIdx = j
			break
		}
	}
	if confirmIdx < 0 {
		return nil
	}

	confirm := candles[confirmIdx]
	entry := confirm.Close
	slMult := s.params["SL_ATR_MULT"]

	var sl, sweepWick float64
	if dir == types.DirectionBuy {
		sl = bar.Low - slMult*atrVal
		sweepWick = math.Abs(bar.Low - sweepLevel)
	} else {
		sl = bar.High + slMult*atrVal
		sweepWick = math.Abs(bar.High - sweepLevel)
	}

	riskDist := math.Abs(entry - sl)
	if riskDist == 0 {
		return nil
	}

	var tp1, tp2 float64
	if dir == types.DirectionBuy {
		tp1 = entry + s.params["TP1_RR"]*riskDist
		tp2 = entry + s.params["TP2_RR"]*riskDist
	} else {
		tp1 = entry - s.params["TP1_RR"]*riskDist
		tp2 = entry - s.params["TP2_RR"]*riskDist
	}

	confidence := s.confidence(dir, confirm, sweepWick, atrVal, len(sweptLevels), bar.Timestamp)

	var word, levelKind, side string
	if dir == types.DirectionBuy {
		word, levelKind, side = "Bullish", "below swing low", "below sweep wick"
	} else {
		word, levelKind, side = "Bearish", "above swing high", "above sweep wick"
	}
	reasoning := fmt.Sprintf(
		"%s liquidity sweep %s at %.2f, confirmed by structure shift. Entry at %.2f, SL %s at %.2f.",
		word, levelKind, sweepLevel, entry, side, sl,
	)

	return &types.CandidateSignal{
		Strategy:    s.Name(),
		Symbol:      types.DefaultSymbol,
		Timeframe:   s.Timeframe(),
		Direction:   dir,
		EntryPrice:  decimalPrice(entry),
		StopLoss:    decimalPrice(sl),
		TakeProfit1: decimalPrice(tp1),
		TakeProfit2: decimalPrice(tp2),
		RiskReward:  decimal.NewFromFloat(round2(s.params["TP1_RR"])),
		Confidence:  decimal.NewFromFloat(confidence),
		Reasoning:   reasoning,
		Timestamp:   confirm.Timestamp,
		Session:     PrimarySession(confirm.Timestamp),
	}
}

// confidence is an additive score: base 50, +10 for a sweep wick deeper
// than one ATR, +10 for a strong confirmation candle closing near its
// extreme, +10 in the London/NY overlap, +10 when multiple swing levels
// were swept. Capped at 100.
func (s *LiquiditySweep) confidence(
	dir types.Direction,
	confirm types.Candle,
	sweepWick, atrVal float64,
	numSwept int,
	sweepTS time.Time,
) float64 {
	score := s.params["BASE_CONFIDENCE"]

	if atrVal > 0 && sweepWick > atrVal {
		score += 10
	}

	candleRange := confirm.High - confirm.Low
	if candleRange > 0 {
		var bodyRatio float64
		if dir == types.DirectionBuy {
			bodyRatio = (confirm.Close - confirm.Low) / candleRange
		} else {
			bodyRatio = (confirm.High - confirm.Close) / candleRange
		}
		if bodyRatio > 0.7 {
			score += 10
		}
	}

	if inOverlap, _ := InSession(sweepTS, SessionOverlap); inOverlap {
		score += 10
	}

	if numSwept >= 2 {
		score += 10
	}

	return math.Min(score, 100)
}

// swingsInWindow returns the swing indices in [start, end).
func swingsInWindow(swings []int, start, end int) []int {
	var out []int
	for _, idx := range swings {
		if idx >= start && idx < end {
			out = append(out, idx)
		}
	}
	return out
}
