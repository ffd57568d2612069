package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// TrendContinuationName identifies the EMA pullback continuation strategy.
const TrendContinuationName = "trend_continuation"

var trendContinuationDefaults = map[string]float64{
	"EMA_FAST":          50,
	"EMA_SLOW":          200,
	"ATR_LENGTH":        14,
	"PULLBACK_ATR_MULT": 1.0,
	"SL_ATR_MULT":       1.5,
	"TP1_RR":            2.0,
	"TP2_RR":            3.0,
	"LOOKBACK_PULLBACK": 5,
	"BASE_CONFIDENCE":   50,
	"SWING_ORDER":       5,
}

// TrendContinuation detects EMA-trend pullback continuations on XAUUSD H1.
//
// A setup occurs when a clear trend is established (EMA-50 vs EMA-200
// separated by at least half an ATR), price pulls back into the EMA-50
// zone after trading beyond it, and the next candle confirms momentum
// resumption by closing through the previous bar's extreme.
type TrendContinuation struct {
	params map[string]float64
	logger *zap.Logger
}

// NewTrendContinuation builds the strategy with parameter overrides.
func NewTrendContinuation(params map[string]float64, logger *zap.Logger) Strategy {
	return &TrendContinuation{
		params: mergeParams(trendContinuationDefaults, params),
		logger: logger.Named(TrendContinuationName),
	}
}

func (s *TrendContinuation) Name() string               { return TrendContinuationName }
func (s *TrendContinuation) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *TrendContinuation) MinCandles() int            { return 200 }
func (s *TrendContinuation) Params() map[string]float64 { return s.params }

// Analyze scans the candle series for pullback continuation setups.
func (s *TrendContinuation) Analyze(candles []types.Candle) ([]types.CandidateSignal, error) {
	if err := validateCandles(candles, s.MinCandles()); err != nil {
		return nil, err
	}

	closes := Closes(candles)
	highs := Highs(candles)
	lows := Lows(candles)

	emaFast := EMA(closes, int(s.params["EMA_FAST"]))
	emaSlow := EMA(closes, int(s.params["EMA_SLOW"]))
	atr := ATR(highs, lows, closes, int(s.params["ATR_LENGTH"]))

	vwap := VWAP(candles)
	hasVWAP := false
	for _, v := range vwap {
		if !math.IsNaN(v) {
			hasVWAP = true
			break
		}
	}

	swingHighs := SwingHighs(highs, int(s.params["SWING_ORDER"]))
	swingLows := SwingLows(lows, int(s.params["SWING_ORDER"]))

	n := len(candles)
	var signals []types.CandidateSignal

	for i := s.MinCandles(); i < n; i++ {
		atrVal := atr[i]
		if math.IsNaN(atrVal) || atrVal <= 0 {
			continue
		}
		fast, slow := emaFast[i], emaSlow[i]
		if math.IsNaN(fast) || math.IsNaN(slow) {
			continue
		}

		ts := candles[i].Timestamp
		inLondon, _ := InSession(ts, SessionLondon)
		inNY, _ := InSession(ts, SessionNewYork)
		if !inLondon && !inNY {
			continue
		}

		// Trend requires EMA separation of at least half an ATR.
		if math.Abs(fast-slow) < 0.5*atrVal {
			continue
		}

		var sig *types.CandidateSignal
		if fast > slow {
			sig = s.checkContinuation(candles, i, fast, slow, atrVal, vwap, hasVWAP, swingHighs, types.DirectionBuy)
		} else {
			sig = s.checkContinuation(candles, i, fast, slow, atrVal, vwap, hasVWAP, swingLows, types.DirectionSell)
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

func (s *TrendContinuation) checkContinuation(
	candles []types.Candle,
	i int,
	fast, slow, atrVal float64,
	vwap []float64,
	hasVWAP bool,
	swings []int,
	dir types.Direction,
) *types.CandidateSignal {
	n := len(candles)
	closeVal := candles[i].Close
	pbMult := s.params["PULLBACK_ATR_MULT"]
	lookbackStart := i - int(s.params["LOOKBACK_PULLBACK"])
	if lookbackStart < 0 {
		lookbackStart = 0
	}

	// Price must have traded beyond the pullback zone recently.
	beyond := false
	for j := lookbackStart; j < i; j++ {
		if dir == types.DirectionBuy && candles[j].Close > fast+pbMult*atrVal {
			beyond = true
			break
		}
		if dir == types.DirectionSell && candles[j].Close < fast-pbMult*atrVal {
			beyond = true
			break
		}
	}
	if !beyond {
		return nil
	}

	// Current bar must sit inside the pullback zone around EMA-fast.
	if closeVal < fast-pbMult*atrVal || closeVal > fast+pbMult*atrVal {
		return nil
	}

	// Momentum confirmation on the next bar.
	if i+1 >= n {
		return nil
	}
	confirm := candles[i+1]
	if dir == types.DirectionBuy {
		if !(confirm.Close > confirm.Open && confirm.Close > candles[i].High) {
			return nil
		}
	} else {
		if !(confirm.Close < confirm.Open && confirm.Close < candles[i].Low) {
			return nil
		}
	}

	entry := confirm.Close
	slMult := s.params["SL_ATR_MULT"]

	var sl float64
	if dir == types.DirectionBuy {
		pullbackLow := math.Inf(1)
		for j := lookbackStart; j <= i; j++ {
			pullbackLow = math.Min(pullbackLow, candles[j].Low)
		}
		sl = pullbackLow - slMult*atrVal
		if entry-sl < slMult*atrVal {
			sl = entry - slMult*atrVal
		}
	} else {
		pullbackHigh := math.Inf(-1)
		for j := lookbackStart; j <= i; j++ {
			pullbackHigh = math.Max(pullbackHigh, candles[j].High)
		}
		sl = pullbackHigh + slMult*atrVal
		if sl-entry < slMult*atrVal {
			sl = entry + slMult*atrVal
		}
	}

	riskDist := math.Abs(entry - sl)
	if riskDist == 0 {
		return nil
	}

	var tp1, tp2 float64
	if dir == types.DirectionBuy {
		tp1 = entry + s.params["TP1_RR"]*riskDist
		tp2 = s.swingTargetAbove(candles, swings, entry, i)
		if tp2 == 0 || tp2 <= tp1 {
			tp2 = entry + s.params["TP2_RR"]*riskDist
		}
	} else {
		tp1 = entry - s.params["TP1_RR"]*riskDist
		tp2 = s.swingTargetBelow(candles, swings, entry, i)
		if tp2 == 0 || tp2 >= tp1 {
			tp2 = entry - s.params["TP2_RR"]*riskDist
		}
	}

	rr := round2(math.Abs(tp1-entry) / riskDist)
	confidence := s.confidence(dir, confirm.Close, fast, atrVal, vwap, hasVWAP, i+1, math.Abs(closeVal-fast), candles[i].Timestamp)

	var word, rel, side string
	if dir == types.DirectionBuy {
		word, rel, side = "Bullish", "above", "below pullback low"
	} else {
		word, rel, side = "Bearish", "below", "above pullback high"
	}
	reasoning := fmt.Sprintf(
		"%s trend continuation: EMA-50 (%.2f) %s EMA-200 (%.2f), pullback to EMA-50 zone, momentum confirmation candle. Entry at %.2f, SL %s at %.2f.",
		word, fast, rel, slow, entry, side, sl,
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
		RiskReward:  decimal.NewFromFloat(rr),
		Confidence:  decimal.NewFromFloat(confidence),
		Reasoning:   reasoning,
		Timestamp:   confirm.Timestamp,
		Session:     PrimarySession(confirm.Timestamp),
	}
}

// swingTargetAbove returns the nearest prior swing high above entry, or 0.
func (s *TrendContinuation) swingTargetAbove(candles []types.Candle, swings []int, entry float64, bar int) float64 {
	best := 0.0
	for _, idx := range swings {
		if idx >= bar {
			continue
		}
		h := candles[idx].High
		if h > entry && (best == 0 || h < best) {
			best = h
		}
	}
	return best
}

// swingTargetBelow returns the nearest prior swing low below entry, or 0.
func (s *TrendContinuation) swingTargetBelow(candles []types.Candle, swings []int, entry float64, bar int) float64 {
	best := 0.0
	for _, idx := range swings {
		if idx >= bar {
			continue
		}
		l := candles[idx].Low
		if l < entry && (best == 0 || l > best) {
			best = l
		}
	}
	return best
}

// confidence is an additive score: base 50, +10 for VWAP agreement, +10
// for a shallow pullback, +10 in the London/NY overlap, +10 when the
// EMA spread confirms the trend. Capped at 100.
func (s *TrendContinuation) confidence(
	dir types.Direction,
	closeVal, fast, atrVal float64,
	vwap []float64,
	hasVWAP bool,
	barIdx int,
	pullbackDepth float64,
	ts time.Time,
) float64 {
	score := s.params["BASE_CONFIDENCE"]

	if hasVWAP && barIdx < len(vwap) && !math.IsNaN(vwap[barIdx]) {
		if dir == types.DirectionBuy && closeVal > vwap[barIdx] {
			score += 10
		} else if dir == types.DirectionSell && closeVal < vwap[barIdx] {
			score += 10
		}
	}

	if pullbackDepth < 0.5*atrVal {
		score += 10
	}

	if inOverlap, _ := InSession(ts, SessionOverlap); inOverlap {
		score += 10
	}

	// EMA spread is guaranteed significant at this point (checked in
	// Analyze), which counts as trend confirmation.
	score += 10

	return math.Min(score, 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// decimalPrice rounds a float price to 2 decimal places as a decimal.
func decimalPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
