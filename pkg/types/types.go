// Package types provides shared type definitions for the signal engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSymbol is the only instrument the engine trades.
const DefaultSymbol = "XAUUSD"

// PipValue is the price movement per pip for XAUUSD ($0.10).
const PipValue = 0.10

// Direction represents the trade direction of a signal
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Timeframe represents candle timeframes
type Timeframe string

const (
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// Interval returns the candle duration for the timeframe.
func (tf Timeframe) Interval() time.Duration {
	switch tf {
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeH1:
		return time.Hour
	case TimeframeH4:
		return 4 * time.Hour
	case TimeframeD1:
		return 24 * time.Hour
	}
	return time.Hour
}

// ExpiryHours returns how long a signal on this timeframe stays active.
func (tf Timeframe) ExpiryHours() int {
	switch tf {
	case TimeframeM15:
		return 4
	case TimeframeH1:
		return 8
	case TimeframeH4:
		return 24
	case TimeframeD1:
		return 48
	}
	return 8
}

// SignalStatus represents the lifecycle state of a published signal
type SignalStatus string

const (
	SignalStatusActive    SignalStatus = "active"
	SignalStatusTP1Hit    SignalStatus = "tp1_hit"
	SignalStatusTP2Hit    SignalStatus = "tp2_hit"
	SignalStatusSLHit     SignalStatus = "sl_hit"
	SignalStatusExpired   SignalStatus = "expired"
	SignalStatusCancelled SignalStatus = "cancelled"
)

// TradeResult represents the terminal outcome of a trade or signal
type TradeResult string

const (
	ResultTP1Hit  TradeResult = "tp1_hit"
	ResultTP2Hit  TradeResult = "tp2_hit"
	ResultSLHit   TradeResult = "sl_hit"
	ResultExpired TradeResult = "expired"
)

// IsWin reports whether the result counts as a winning trade.
func (r TradeResult) IsWin() bool {
	return r == ResultTP1Hit || r == ResultTP2Hit
}

// VolatilityRegime classifies current market volatility
type VolatilityRegime string

const (
	RegimeLow    VolatilityRegime = "LOW"
	RegimeMedium VolatilityRegime = "MEDIUM"
	RegimeHigh   VolatilityRegime = "HIGH"
)

// Candle represents a single OHLCV bar. Prices are floats because candles
// feed indicator math; published signal levels use decimal.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume,omitempty"`
}

// CandidateSignal is a raw signal proposed by a strategy, before pipeline
// validation and risk checks.
type CandidateSignal struct {
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Timeframe   Timeframe       `json:"timeframe"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	StopLoss    decimal.Decimal `json:"stopLoss"`
	TakeProfit1 decimal.Decimal `json:"takeProfit1"`
	TakeProfit2 decimal.Decimal `json:"takeProfit2"`
	RiskReward  decimal.Decimal `json:"riskReward"`
	Confidence  decimal.Decimal `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	Timestamp   time.Time       `json:"timestamp"`
	Session     string          `json:"session,omitempty"`
}

// Signal is a published advisory signal.
type Signal struct {
	ID          string          `json:"id"`
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Timeframe   Timeframe       `json:"timeframe"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	StopLoss    decimal.Decimal `json:"stopLoss"`
	TakeProfit1 decimal.Decimal `json:"takeProfit1"`
	TakeProfit2 decimal.Decimal `json:"takeProfit2"`
	RiskReward  decimal.Decimal `json:"riskReward"`
	Confidence  decimal.Decimal `json:"confidence"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Status      SignalStatus    `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// Outcome records the terminal result of a published signal.
type Outcome struct {
	ID              int64           `json:"id"`
	SignalID        string          `json:"signalId"`
	Result          TradeResult     `json:"result"`
	ExitPrice       decimal.Decimal `json:"exitPrice"`
	PnlPips         decimal.Decimal `json:"pnlPips"`
	DurationMinutes int             `json:"durationMinutes"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SimulatedTrade is a single trade produced by the historical simulator.
type SimulatedTrade struct {
	Direction  Direction   `json:"direction"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	Result     TradeResult `json:"result"`
	PnlPips    float64     `json:"pnlPips"`
	SpreadCost float64     `json:"spreadCost"`
	BarsHeld   int         `json:"barsHeld"`
	EntryTime  time.Time   `json:"entryTime"`
	ExitTime   time.Time   `json:"exitTime"`
}

// BacktestMetrics holds the performance statistics of a set of trades.
// All ratios are rounded to 4 decimal places.
type BacktestMetrics struct {
	WinRate      float64 `json:"winRate"`
	ProfitFactor float64 `json:"profitFactor"`
	SharpeRatio  float64 `json:"sharpeRatio"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
	Expectancy   float64 `json:"expectancy"`
	TotalTrades  int     `json:"totalTrades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
}

// BacktestRecord is a persisted backtest evaluation row.
type BacktestRecord struct {
	ID                    int64     `json:"id"`
	Strategy              string    `json:"strategy"`
	Timeframe             Timeframe `json:"timeframe"`
	WindowDays            int       `json:"windowDays"`
	StartDate             time.Time `json:"startDate"`
	EndDate               time.Time `json:"endDate"`
	WinRate               float64   `json:"winRate"`
	ProfitFactor          float64   `json:"profitFactor"`
	SharpeRatio           float64   `json:"sharpeRatio"`
	MaxDrawdown           float64   `json:"maxDrawdown"`
	Expectancy            float64   `json:"expectancy"`
	TotalTrades           int       `json:"totalTrades"`
	IsWalkForward         bool      `json:"isWalkForward"`
	IsOverfitted          bool      `json:"isOverfitted"`
	WalkForwardEfficiency float64   `json:"walkForwardEfficiency"`
	SpreadModel           string    `json:"spreadModel,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// WalkForwardReport summarizes an in-sample / out-of-sample split evaluation.
type WalkForwardReport struct {
	InSample        BacktestMetrics `json:"inSample"`
	OutOfSample     BacktestMetrics `json:"outOfSample"`
	WinRateWFE      float64         `json:"winRateWfe"`
	ProfitFactorWFE float64         `json:"profitFactorWfe"`
	IsOverfitted    bool            `json:"isOverfitted"`
	Conclusive      bool            `json:"conclusive"`
}

// OptimizedParams is a persisted parameter set discovered by the optimizer.
type OptimizedParams struct {
	ID                 int64              `json:"id"`
	Strategy           string             `json:"strategy"`
	Params             map[string]float64 `json:"params"`
	WinRate            float64            `json:"winRate"`
	ProfitFactor       float64            `json:"profitFactor"`
	SharpeRatio        float64            `json:"sharpeRatio"`
	Expectancy         float64            `json:"expectancy"`
	TotalTrades        int                `json:"totalTrades"`
	WFERatio           float64            `json:"wfeRatio"`
	IsOverfitted       bool               `json:"isOverfitted"`
	IsActive           bool               `json:"isActive"`
	CombinationsTested int                `json:"combinationsTested"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// StrategyPerformance is a rolling live-performance row for one strategy
// over one period (e.g. "7d", "30d").
type StrategyPerformance struct {
	ID            int64      `json:"id"`
	Strategy      string     `json:"strategy"`
	Period        string     `json:"period"`
	WinRate       float64    `json:"winRate"`
	ProfitFactor  float64    `json:"profitFactor"`
	AvgRR         float64    `json:"avgRr"`
	TotalSignals  int        `json:"totalSignals"`
	IsDegraded    bool       `json:"isDegraded"`
	DegradedSince *time.Time `json:"degradedSince,omitempty"`
	CalculatedAt  time.Time  `json:"calculatedAt"`
}

// StrategyScore is the selector's ranking entry for one strategy.
type StrategyScore struct {
	Strategy      string           `json:"strategy"`
	Score         float64          `json:"score"`
	BacktestScore float64          `json:"backtestScore"`
	LiveScore     float64          `json:"liveScore,omitempty"`
	Regime        VolatilityRegime `json:"regime"`
	IsDegraded    bool             `json:"isDegraded"`
	Penalized     bool             `json:"penalized"`
}

// RiskCheckResult is the outcome of the pre-publication risk gate.
// RiskAmount is the dollar value put at risk by the approved position;
// DailyPnlPips is the same-day realized P&L at decision time.
type RiskCheckResult struct {
	Approved     bool    `json:"approved"`
	Reason       string  `json:"reason,omitempty"`
	PositionSize float64 `json:"positionSize"`
	RiskAmount   float64 `json:"riskAmount"`
	DailyPnlPips float64 `json:"dailyPnlPips"`
}

// PriceQuote is a current-price snapshot from the market data provider.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
}
