// Package strategy defines the strategy contract, the registry of known
// strategies, and the concrete XAUUSD signal strategies.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// ErrInsufficientData is returned when a strategy or analytic is given
// fewer candles than it needs. Callers check it with errors.Is and treat
// it as a skip, not a failure.
var ErrInsufficientData = errors.New("insufficient candle data")

// Strategy is the contract every signal strategy implements. Analyze
// scans a candle series and returns zero or more candidate signals.
type Strategy interface {
	Name() string
	Timeframe() types.Timeframe
	MinCandles() int
	Params() map[string]float64
	Analyze(candles []types.Candle) ([]types.CandidateSignal, error)
}

// Factory constructs a strategy with the given parameter overrides.
// Missing keys fall back to the strategy's defaults.
type Factory func(params map[string]float64, logger *zap.Logger) Strategy

// Registry maps strategy names to factories. Strategies are registered
// explicitly at startup; there is no implicit discovery.
type Registry struct {
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty strategy registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a strategy factory under its name. Registering a
// duplicate name returns an error.
func (r *Registry) Register(name string, factory Factory) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = factory
	r.logger.Info("strategy registered", zap.String("strategy", name))
	return nil
}

// Create instantiates the named strategy with parameter overrides.
func (r *Registry) Create(name string, params map[string]float64) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(params, r.logger), nil
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mergeParams overlays overrides onto a copy of defaults.
func mergeParams(defaults, overrides map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// validateCandles enforces the minimum candle count for a strategy.
func validateCandles(candles []types.Candle, min int) error {
	if len(candles) < min {
		return fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), min)
	}
	return nil
}
