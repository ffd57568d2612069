package data

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/backtester"
	"github.com/goldsight/trading-backend/pkg/types"
)

// PriceSource provides the current market price.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (types.PriceQuote, error)
}

// OutcomeDetector resolves active signals against the live price.
// Checks run in priority order: expiry, stop loss, TP2, TP1.
type OutcomeDetector struct {
	store   *Store
	prices  PriceSource
	tracker *Tracker
	spread  *backtester.SpreadModel
	now     func() time.Time
	logger  *zap.Logger

	// OnOutcome, when set, runs after each recorded outcome.
	OnOutcome func(sig types.Signal, outcome types.Outcome)
}

// NewOutcomeDetector creates the detector. tracker may be nil to skip
// performance recalculation.
func NewOutcomeDetector(store *Store, prices PriceSource, tracker *Tracker, logger *zap.Logger) *OutcomeDetector {
	return &OutcomeDetector{
		store:   store,
		prices:  prices,
		tracker: tracker,
		spread:  backtester.NewSpreadModel(),
		now:     time.Now,
		logger:  logger.Named("outcomes"),
	}
}

// CheckActive evaluates every active signal against the current price
// and records outcomes for those that resolved. Returns the number of
// signals resolved.
func (d *OutcomeDetector) CheckActive(ctx context.Context) (int, error) {
	signals, err := d.store.ActiveSignals(ctx)
	if err != nil {
		return 0, err
	}
	if len(signals) == 0 {
		return 0, nil
	}

	quote, err := d.prices.CurrentPrice(ctx, types.DefaultSymbol)
	if err != nil {
		return 0, err
	}

	now := d.now().UTC()
	resolved := 0
	for _, sig := range signals {
		result, exit, ok := d.evaluate(sig, quote.Price, now)
		if !ok {
			continue
		}
		if err := d.record(ctx, sig, result, exit, now); err != nil {
			d.logger.Error("recording outcome failed",
				zap.String("signal", sig.ID), zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

// evaluate decides whether the signal resolved at the given price. The
// effective price for a BUY exit is the bid; a SELL exit crosses the
// spread, so the ask applies.
func (d *OutcomeDetector) evaluate(sig types.Signal, price float64, now time.Time) (types.TradeResult, float64, bool) {
	spread := d.spread.Spread(now)
	effective := price
	if sig.Direction == types.DirectionSell {
		effective = price + spread
	}

	if sig.ExpiresAt != nil && !now.Before(*sig.ExpiresAt) {
		return types.ResultExpired, effective, true
	}

	sl := sig.StopLoss.InexactFloat64()
	tp1 := sig.TakeProfit1.InexactFloat64()
	tp2 := sig.TakeProfit2.InexactFloat64()

	if sig.Direction == types.DirectionBuy {
		switch {
		case effective <= sl:
			return types.ResultSLHit, effective, true
		case effective >= tp2:
			return types.ResultTP2Hit, effective, true
		case effective >= tp1:
			return types.ResultTP1Hit, effective, true
		}
		return "", 0, false
	}

	switch {
	case effective >= sl:
		return types.ResultSLHit, effective, true
	case effective <= tp2:
		return types.ResultTP2Hit, effective, true
	case effective <= tp1:
		return types.ResultTP1Hit, effective, true
	}
	return "", 0, false
}

func (d *OutcomeDetector) record(ctx context.Context, sig types.Signal, result types.TradeResult, exit float64, now time.Time) error {
	exitDec := decimal.NewFromFloat(exit).Round(2)
	pips := exitDec.Sub(sig.EntryPrice).Div(decimal.NewFromFloat(types.PipValue))
	if sig.Direction == types.DirectionSell {
		pips = pips.Neg()
	}

	outcome := types.Outcome{
		SignalID:        sig.ID,
		Result:          result,
		ExitPrice:       exitDec,
		PnlPips:         pips.Round(2),
		DurationMinutes: int(now.Sub(sig.CreatedAt).Minutes()),
		CreatedAt:       now,
	}
	if err := d.store.InsertOutcome(ctx, outcome); err != nil {
		return err
	}
	if err := d.store.UpdateSignalStatus(ctx, sig.ID, statusFor(result)); err != nil {
		return err
	}

	d.logger.Info("signal resolved",
		zap.String("signal", sig.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("result", string(result)),
		zap.String("pnlPips", outcome.PnlPips.String()),
		zap.Int("durationMinutes", outcome.DurationMinutes))

	if d.tracker != nil {
		if err := d.tracker.Recalculate(ctx, sig.Strategy); err != nil {
			d.logger.Warn("performance recalculation failed",
				zap.String("strategy", sig.Strategy), zap.Error(err))
		}
	}
	if d.OnOutcome != nil {
		d.OnOutcome(sig, outcome)
	}
	return nil
}

func statusFor(result types.TradeResult) types.SignalStatus {
	switch result {
	case types.ResultTP1Hit:
		return types.SignalStatusTP1Hit
	case types.ResultTP2Hit:
		return types.SignalStatusTP2Hit
	case types.ResultSLHit:
		return types.SignalStatusSLHit
	}
	return types.SignalStatusExpired
}
