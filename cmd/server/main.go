// Package main wires the gold signal engine: market data ingestion,
// the scheduled signal pipeline, outcome tracking, backtest and
// optimization jobs, notifications, and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/goldsight/trading-backend/internal/api"
	"github.com/goldsight/trading-backend/internal/backtester"
	"github.com/goldsight/trading-backend/internal/data"
	"github.com/goldsight/trading-backend/internal/feedback"
	"github.com/goldsight/trading-backend/internal/intel"
	"github.com/goldsight/trading-backend/internal/notify"
	"github.com/goldsight/trading-backend/internal/observability"
	"github.com/goldsight/trading-backend/internal/optimization"
	"github.com/goldsight/trading-backend/internal/pipeline"
	"github.com/goldsight/trading-backend/internal/risk"
	"github.com/goldsight/trading-backend/internal/scheduler"
	"github.com/goldsight/trading-backend/internal/selector"
	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/internal/workers"
	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	backtestHistoryDays = 90
	backtestStepDays    = 7
	walkForwardWindow   = 60
	digestInterval      = 24 * time.Hour
	shutdownTimeout     = 10 * time.Second
)

var backtestWindows = []int{30, 60}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := types.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting goldsight engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := data.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	metrics := observability.NewMetrics()

	registry := strategy.NewRegistry(logger)
	mustRegister(logger, registry, strategy.LiquiditySweepName, strategy.NewLiquiditySweep)
	mustRegister(logger, registry, strategy.TrendContinuationName, strategy.NewTrendContinuation)
	mustRegister(logger, registry, strategy.BreakoutExpansionName, strategy.NewBreakoutExpansion)
	logger.Info("registered strategies", zap.Strings("strategies", registry.Names()))

	regimeDetector := selector.NewATRRegimeDetector(store, logger)
	picker := selector.New(store, registry, regimeDetector, selectorConfig(cfg.Selector), logger)

	breaker := feedback.NewCircuitBreaker(store, logger)
	riskManager := risk.NewManager(store, breaker, cfg.Risk, logger)
	monitor := feedback.NewMonitor(store, logger)
	goldIntel := intel.New(store, logger)

	client := data.NewClient(cfg.MarketData, logger)
	ingestor := data.NewIngestor(store, client, logger)
	tracker := data.NewTracker(store, logger)
	retention := data.NewRetention(store, []string{types.DefaultSymbol, intel.DXYSymbol}, logger)

	sink := notify.NewTelegramSink(cfg.Telegram, logger)
	if !sink.Enabled() {
		logger.Warn("telegram credentials not configured, notifications disabled")
	}
	notifier := notify.NewDispatcher(sink, 0, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	sched := scheduler.New(cfg.Jobs.FailureThreshold, metrics, logger)
	sched.OnFailureStreak = func(job string, streak int, err error) {
		notifier.SystemAlert(
			fmt.Sprintf("Job failing: %s", job),
			fmt.Sprintf("%d consecutive failures. Last error: %v", streak, err))
	}
	sched.OnRecovery = func(job string, _ int, _ error) {
		notifier.SystemAlert(fmt.Sprintf("Job recovered: %s", job), "Runs are succeeding again.")
	}

	server := api.NewServer(cfg.Server, store, breaker, sched, metrics.Handler(), logger)
	hub := server.Hub()

	pipe := pipeline.New(store, registry, picker, riskManager, goldIntel,
		&signalFanout{notifier: notifier, hub: hub, metrics: metrics},
		cfg.Pipeline, logger)

	detector := data.NewOutcomeDetector(store, client, tracker, logger)
	detector.OnOutcome = func(sig types.Signal, outcome types.Outcome) {
		metrics.OutcomesRecorded.WithLabelValues(string(outcome.Result)).Inc()
		notifier.OutcomeRecorded(sig, outcome)
		hub.OutcomeRecorded(sig, outcome)
	}

	pool := workers.NewPool(logger, workers.DefaultPoolConfig("optimizer"))
	pool.Start()
	defer pool.Stop()

	runner := backtester.NewRunner(logger)
	validator := backtester.NewWalkForwardValidator(runner, logger)
	optimizer := optimization.NewOptimizer(registry, runner, pool, optimization.DefaultConfig(), logger)

	addIngestJobs(sched, ingestor, metrics)
	addOutcomeJob(cfg, sched, detector, store, breaker, monitor, registry, tracker, notifier, hub, metrics, logger)
	sched.Add(scheduler.Job{
		Name:     "signal_scan",
		Interval: cfg.Jobs.ScannerInterval,
		Fn: func(ctx context.Context) error {
			_, err := pipe.Run(ctx)
			return err
		},
	})
	addBacktestJob(cfg, sched, store, registry, runner, validator, logger)
	addOptimizationJob(cfg, sched, store, registry, optimizer, logger)
	sched.Add(scheduler.Job{
		Name:     "retention",
		Interval: cfg.Jobs.RetentionInterval,
		Fn: func(ctx context.Context) error {
			_, err := retention.Prune(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:     "health_digest",
		Interval: digestInterval,
		Fn: func(ctx context.Context) error {
			active, err := store.ActiveSignalCount(ctx)
			if err != nil {
				return err
			}
			notifier.HealthDigest(sched.Health(), active)
			return nil
		},
	})

	sched.Start(ctx)
	defer sched.Stop()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server stopped unexpectedly", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("engine stopped")
}

// signalFanout delivers published signals to every interested sink.
type signalFanout struct {
	notifier *notify.Dispatcher
	hub      *api.Hub
	metrics  *observability.Metrics
}

func (f *signalFanout) SignalPublished(sig types.Signal) {
	f.metrics.SignalsPublished.Inc()
	f.notifier.SignalPublished(sig)
	f.hub.SignalPublished(sig)
}

func mustRegister(logger *zap.Logger, registry *strategy.Registry, name string, factory strategy.Factory) {
	if err := registry.Register(name, factory); err != nil {
		logger.Fatal("failed to register strategy", zap.String("strategy", name), zap.Error(err))
	}
}

func selectorConfig(cfg types.SelectorConfig) selector.Config {
	return selector.Config{
		MinTrades:        cfg.MinTrades,
		LiveBlendWeight:  cfg.LiveBlendWeight,
		LiveMinSignals:   cfg.LiveMinSignals,
		RegimePenalty:    cfg.RegimePenalty,
		WinRateDropLimit: cfg.WinRateDropLimit,
	}
}

// addIngestJobs schedules one refresh loop per gold timeframe plus the
// daily DXY series used for correlation checks.
func addIngestJobs(sched *scheduler.Scheduler, ingestor *data.Ingestor, metrics *observability.Metrics) {
	type feed struct {
		symbol    string
		timeframe types.Timeframe
	}
	feeds := []feed{
		{types.DefaultSymbol, types.TimeframeM15},
		{types.DefaultSymbol, types.TimeframeH1},
		{types.DefaultSymbol, types.TimeframeH4},
		{types.DefaultSymbol, types.TimeframeD1},
		{intel.DXYSymbol, types.TimeframeD1},
	}
	for _, f := range feeds {
		f := f
		name := fmt.Sprintf("ingest_%s_%s", f.symbol, f.timeframe)
		sched.Add(scheduler.Job{
			Name:       name,
			Interval:   f.timeframe.Interval(),
			RunOnStart: true,
			Fn: func(ctx context.Context) error {
				n, err := ingestor.Refresh(ctx, f.symbol, f.timeframe)
				if err != nil {
					return err
				}
				metrics.CandlesIngested.WithLabelValues(string(f.timeframe)).Add(float64(n))
				return nil
			},
		})
	}
}

// addOutcomeJob schedules the signal resolution loop. Besides checking
// open signals against the current price it keeps the performance
// windows fresh, watches the circuit breaker for transitions, and runs
// degradation and recovery checks so flag changes reach subscribers.
func addOutcomeJob(cfg *types.Config, sched *scheduler.Scheduler, detector *data.OutcomeDetector, store *data.Store, breaker *feedback.CircuitBreaker, monitor *feedback.Monitor, registry *strategy.Registry, tracker *data.Tracker, notifier *notify.Dispatcher, hub *api.Hub, metrics *observability.Metrics, logger *zap.Logger) {
	var breakerWasActive bool
	degraded := make(map[string]bool)

	sched.Add(scheduler.Job{
		Name:     "outcome_check",
		Interval: cfg.Jobs.OutcomeInterval,
		Fn: func(ctx context.Context) error {
			if _, err := detector.CheckActive(ctx); err != nil {
				return err
			}

			active, err := store.ActiveSignalCount(ctx)
			if err != nil {
				return err
			}
			metrics.ActiveSignals.Set(float64(active))

			if err := tracker.RecalculateAll(ctx, registry.Names()); err != nil {
				logger.Warn("performance recalculation failed", zap.Error(err))
			}

			breakerActive, err := breaker.Active(ctx)
			if err != nil {
				return err
			}
			if breakerActive != breakerWasActive {
				breakerWasActive = breakerActive
				status := breaker.Status()
				notifier.BreakerChanged(status)
				hub.BreakerChanged(status)
			}
			if breakerActive {
				metrics.BreakerActive.Set(1)
			} else {
				metrics.BreakerActive.Set(0)
			}

			degradedCount := 0
			for _, name := range registry.Names() {
				isDegraded, reason, err := monitor.CheckDegradation(ctx, name)
				if err != nil {
					logger.Warn("degradation check failed", zap.String("strategy", name), zap.Error(err))
					continue
				}
				if isDegraded && !degraded[name] {
					notifier.StrategyDegraded(name, reason)
				}
				if isDegraded {
					recovered, err := monitor.CheckRecovery(ctx, name)
					if err != nil {
						logger.Warn("recovery check failed", zap.String("strategy", name), zap.Error(err))
					} else if recovered {
						isDegraded = false
						notifier.StrategyRecovered(name)
					}
				}
				degraded[name] = isDegraded
				if isDegraded {
					degradedCount++
				}
			}
			metrics.DegradedStrategies.Set(float64(degradedCount))
			return nil
		},
	})
}

// addBacktestJob schedules the rolling backtest evaluations that feed
// the strategy selector, plus a walk-forward validation per strategy.
func addBacktestJob(cfg *types.Config, sched *scheduler.Scheduler, store *data.Store, registry *strategy.Registry, runner *backtester.Runner, validator *backtester.WalkForwardValidator, logger *zap.Logger) {
	sched.Add(scheduler.Job{
		Name:     "backtests",
		Interval: cfg.Jobs.BacktestInterval,
		Fn: func(ctx context.Context) error {
			for _, name := range registry.Names() {
				strat, candles, err := strategyWithHistory(ctx, store, registry, name)
				if err != nil {
					return err
				}
				if len(candles) < strat.MinCandles() {
					logger.Info("not enough history for backtest",
						zap.String("strategy", name),
						zap.Int("candles", len(candles)))
					continue
				}

				for _, window := range backtestWindows {
					metrics, _, err := runner.RunFull(ctx, strat, candles, window, backtestStepDays)
					if err != nil {
						return fmt.Errorf("backtest %s window %d: %w", name, window, err)
					}
					if err := store.InsertBacktest(ctx, backtestRecord(strat, candles, window, metrics)); err != nil {
						return err
					}
				}

				report, err := validator.Validate(ctx, strat, candles, walkForwardWindow)
				if err != nil {
					logger.Warn("walk-forward validation failed",
						zap.String("strategy", name), zap.Error(err))
					continue
				}
				if !report.Conclusive {
					continue
				}
				record := backtestRecord(strat, candles, walkForwardWindow, report.OutOfSample)
				record.IsWalkForward = true
				record.IsOverfitted = report.IsOverfitted
				record.WalkForwardEfficiency = (report.WinRateWFE + report.ProfitFactorWFE) / 2
				if err := store.InsertBacktest(ctx, record); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// addOptimizationJob schedules the parameter search. Results are
// persisted even when overfitted; activation is decided by the store.
func addOptimizationJob(cfg *types.Config, sched *scheduler.Scheduler, store *data.Store, registry *strategy.Registry, optimizer *optimization.Optimizer, logger *zap.Logger) {
	sched.Add(scheduler.Job{
		Name:     "optimization",
		Interval: cfg.Jobs.OptimizationInterval,
		Fn: func(ctx context.Context) error {
			for _, name := range registry.Names() {
				strat, candles, err := strategyWithHistory(ctx, store, registry, name)
				if err != nil {
					return err
				}
				if len(candles) < strat.MinCandles() {
					continue
				}

				result, err := optimizer.OptimizeStrategy(ctx, name, candles)
				if err != nil {
					logger.Warn("optimization failed", zap.String("strategy", name), zap.Error(err))
					continue
				}
				if result == nil {
					continue
				}
				err = store.SaveOptimizedParams(ctx, types.OptimizedParams{
					Strategy:           result.Strategy,
					Params:             result.Params,
					WinRate:            result.Metrics.WinRate,
					ProfitFactor:       result.Metrics.ProfitFactor,
					SharpeRatio:        result.Metrics.SharpeRatio,
					Expectancy:         result.Metrics.Expectancy,
					TotalTrades:        result.Metrics.TotalTrades,
					WFERatio:           result.WFERatio,
					IsOverfitted:       result.IsOverfitted,
					CombinationsTested: result.CombinationsTested,
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func strategyWithHistory(ctx context.Context, store *data.Store, registry *strategy.Registry, name string) (strategy.Strategy, []types.Candle, error) {
	params := strategy.DefaultParams(name)
	if active, err := store.ActiveParams(ctx, name); err == nil && active != nil {
		params = active.Params
	}
	strat, err := registry.Create(name, params)
	if err != nil {
		return nil, nil, err
	}

	since := time.Now().AddDate(0, 0, -backtestHistoryDays)
	candles, err := store.CandlesSince(ctx, types.DefaultSymbol, strat.Timeframe(), since)
	if err != nil {
		return nil, nil, err
	}
	return strat, candles, nil
}

func backtestRecord(strat strategy.Strategy, candles []types.Candle, windowDays int, metrics types.BacktestMetrics) types.BacktestRecord {
	record := types.BacktestRecord{
		Strategy:     strat.Name(),
		Timeframe:    strat.Timeframe(),
		WindowDays:   windowDays,
		WinRate:      metrics.WinRate,
		ProfitFactor: metrics.ProfitFactor,
		SharpeRatio:  metrics.SharpeRatio,
		MaxDrawdown:  metrics.MaxDrawdown,
		Expectancy:   metrics.Expectancy,
		TotalTrades:  metrics.TotalTrades,
		SpreadModel:  "session",
	}
	if len(candles) > 0 {
		record.StartDate = candles[0].Timestamp
		record.EndDate = candles[len(candles)-1].Timestamp
	}
	return record
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
