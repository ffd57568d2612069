// Package backtester simulates strategy signals against historical
// candles and computes performance metrics, rolling backtests,
// walk-forward validation, and Monte Carlo permutation tests.
package backtester

import (
	"time"

	"github.com/goldsight/trading-backend/internal/strategy"
)

// SpreadModelName labels backtest records produced with session spreads.
const SpreadModelName = "session"

// sessionSpreads are typical XAUUSD spreads in price units per session.
var sessionSpreads = map[string]float64{
	strategy.SessionOverlap: 0.20,
	strategy.SessionLondon:  0.30,
	strategy.SessionNewYork: 0.30,
	strategy.SessionAsian:   0.50,
}

// defaultSpread applies outside all defined sessions.
const defaultSpread = 0.50

// SpreadModel estimates the XAUUSD spread for a point in time based on
// the active trading sessions. When several sessions overlap, the
// tightest spread wins.
type SpreadModel struct{}

// NewSpreadModel returns a session-based spread model.
func NewSpreadModel() *SpreadModel {
	return &SpreadModel{}
}

// Spread returns the estimated spread in price units at ts.
func (m *SpreadModel) Spread(ts time.Time) float64 {
	active := strategy.ActiveSessions(ts)
	if len(active) == 0 {
		return defaultSpread
	}
	best := defaultSpread
	for _, name := range active {
		if s, ok := sessionSpreads[name]; ok && s < best {
			best = s
		}
	}
	return best
}
