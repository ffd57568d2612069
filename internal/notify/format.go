package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/goldsight/trading-backend/internal/feedback"
	"github.com/goldsight/trading-backend/internal/scheduler"
	"github.com/goldsight/trading-backend/pkg/types"
)

var resultEmoji = map[types.TradeResult]string{
	types.ResultTP1Hit:  "✅",
	types.ResultTP2Hit:  "\U0001F3AF",
	types.ResultSLHit:   "❌",
	types.ResultExpired: "⏰",
}

func directionEmoji(d types.Direction) string {
	if d == types.DirectionBuy {
		return "\U0001F7E2"
	}
	return "\U0001F534"
}

func pipsFrom(entry, level decimal.Decimal) string {
	pips := level.Sub(entry).Div(decimal.NewFromFloat(types.PipValue)).Abs()
	return pips.Round(0).String()
}

func formatSignal(sig types.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s %s</b>\n\n", directionEmoji(sig.Direction), sig.Direction, sig.Symbol)
	fmt.Fprintf(&b, "Strategy: %s\n", sig.Strategy)
	fmt.Fprintf(&b, "Entry: <b>%s</b>\n", sig.EntryPrice.StringFixed(2))
	fmt.Fprintf(&b, "SL: %s (%s pips)\n", sig.StopLoss.StringFixed(2), pipsFrom(sig.EntryPrice, sig.StopLoss))
	fmt.Fprintf(&b, "TP1: %s (%s pips)\n", sig.TakeProfit1.StringFixed(2), pipsFrom(sig.EntryPrice, sig.TakeProfit1))
	fmt.Fprintf(&b, "TP2: %s (%s pips)\n", sig.TakeProfit2.StringFixed(2), pipsFrom(sig.EntryPrice, sig.TakeProfit2))
	fmt.Fprintf(&b, "R:R %s | Confidence %s%%\n", sig.RiskReward.StringFixed(2), sig.Confidence.StringFixed(0))
	if sig.Reasoning != "" {
		fmt.Fprintf(&b, "\n<i>%s</i>", sig.Reasoning)
	}
	return b.String()
}

func formatOutcome(sig types.Signal, outcome types.Outcome) string {
	emoji, ok := resultEmoji[outcome.Result]
	if !ok {
		emoji = "ℹ️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> %s %s\n\n", emoji, strings.ToUpper(string(outcome.Result)), sig.Direction, sig.Symbol)
	fmt.Fprintf(&b, "Strategy: %s\n", sig.Strategy)
	fmt.Fprintf(&b, "Exit: %s\n", outcome.ExitPrice.StringFixed(2))
	fmt.Fprintf(&b, "P/L: <b>%s pips</b>\n", outcome.PnlPips.StringFixed(1))
	fmt.Fprintf(&b, "Held: %dm", outcome.DurationMinutes)
	return b.String()
}

func formatDegradation(strategyName, reason string) string {
	return fmt.Sprintf("⚠️ <b>Strategy degraded: %s</b>\n\n%s\n\nSignal generation for this strategy is paused until performance recovers.", strategyName, reason)
}

func formatRecovery(strategyName string) string {
	return fmt.Sprintf("✅ <b>Strategy recovered: %s</b>\n\nPerformance is back above thresholds. Signal generation resumed.", strategyName)
}

func formatBreaker(status feedback.BreakerStatus) string {
	if status.Active {
		return fmt.Sprintf("\U0001F6A8 <b>Circuit breaker TRIPPED</b>\n\nConsecutive losses: %d\nDrawdown: %.1f pips (historical worst %.1f)\n\nAll signal generation is halted.",
			status.ConsecutiveLosses, status.RunningDrawdown, status.MaxDrawdown)
	}
	return "✅ <b>Circuit breaker reset</b>\n\nSignal generation resumed."
}

func formatAlert(title, detail string) string {
	return fmt.Sprintf("⚠️ <b>%s</b>\n\n%s", title, detail)
}

func formatDigest(jobs []scheduler.JobHealth, activeSignals int) string {
	var b strings.Builder
	b.WriteString("\U0001F4CA <b>Daily health digest</b>\n\n")
	fmt.Fprintf(&b, "Active signals: %d\n\n", activeSignals)
	for _, j := range jobs {
		mark := "✅"
		if j.FailureStreak > 0 {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s: %d runs, %d failures", mark, j.Name, j.Runs, j.Failures)
		if j.LastError != "" {
			fmt.Fprintf(&b, " (last: %s)", j.LastError)
		}
		b.WriteString("\n")
	}
	return b.String()
}
