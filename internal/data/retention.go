package data

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// Retention windows per timeframe; zero means keep forever. H4 and D1
// stay because the optimizer and confluence checks read deep history.
var candleRetention = map[types.Timeframe]time.Duration{
	types.TimeframeM15: 30 * 24 * time.Hour,
	types.TimeframeH1:  180 * 24 * time.Hour,
	types.TimeframeH4:  0,
	types.TimeframeD1:  0,
}

// closedSignalRetention bounds how long resolved signals and their
// outcomes are kept.
const closedSignalRetention = 90 * 24 * time.Hour

// Retention prunes aged candles and closed signals.
type Retention struct {
	store   *Store
	symbols []string
	now     func() time.Time
	logger  *zap.Logger
}

// NewRetention creates the retention service for the given symbols.
func NewRetention(store *Store, symbols []string, logger *zap.Logger) *Retention {
	return &Retention{
		store:   store,
		symbols: symbols,
		now:     time.Now,
		logger:  logger.Named("retention"),
	}
}

// Prune deletes aged rows and returns the total number removed.
func (r *Retention) Prune(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	var total int64

	for _, symbol := range r.symbols {
		for tf, window := range candleRetention {
			if window == 0 {
				continue
			}
			n, err := r.store.PruneCandles(ctx, symbol, tf, now.Add(-window))
			if err != nil {
				return total, err
			}
			if n > 0 {
				r.logger.Info("candles pruned",
					zap.String("symbol", symbol),
					zap.String("timeframe", string(tf)),
					zap.Int64("deleted", n))
			}
			total += n
		}
	}

	n, err := r.store.PruneClosedSignals(ctx, now.Add(-closedSignalRetention))
	if err != nil {
		return total, err
	}
	if n > 0 {
		r.logger.Info("closed signals pruned", zap.Int64("deleted", n))
	}
	return total + n, nil
}
