package backtester

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// DefaultPermutations is the standard Monte Carlo run count.
const DefaultPermutations = 1000

// DefaultSignificance is the p-value threshold above which an edge is
// considered indistinguishable from chance.
const DefaultSignificance = 0.05

// PermutationResult holds the outcome of a Monte Carlo permutation test.
type PermutationResult struct {
	OriginalProfitFactor float64 `json:"originalProfitFactor"`
	PValue               float64 `json:"pValue"`
	Permutations         int     `json:"permutations"`
	Passed               bool    `json:"passed"`
}

// PermutationTester checks whether a trade sequence's profit factor
// exceeds what a zero-edge permutation of the same trade magnitudes
// would produce. Each permutation randomly flips the sign of every
// trade PnL; the p-value is the fraction of permutations whose profit
// factor equals or beats the original.
type PermutationTester struct {
	permutations int
	significance float64
	rng          *rand.Rand
	logger       *zap.Logger
}

// NewPermutationTester creates a tester with the given run count and
// significance threshold. A zero seed derives one from the clock.
func NewPermutationTester(permutations int, significance float64, seed int64, logger *zap.Logger) *PermutationTester {
	if permutations <= 0 {
		permutations = DefaultPermutations
	}
	if significance <= 0 {
		significance = DefaultSignificance
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PermutationTester{
		permutations: permutations,
		significance: significance,
		rng:          rand.New(rand.NewSource(seed)),
		logger:       logger.Named("montecarlo"),
	}
}

// Test runs the permutation test over the trades' PnL sequence. Fewer
// than 2 trades cannot support a verdict and fail the test.
func (t *PermutationTester) Test(trades []types.SimulatedTrade) PermutationResult {
	pnl := make([]float64, len(trades))
	for i, trade := range trades {
		pnl[i] = trade.PnlPips
	}

	original := profitFactorOf(pnl)
	result := PermutationResult{
		OriginalProfitFactor: original,
		Permutations:         t.permutations,
	}

	if len(pnl) < 2 {
		result.PValue = 1.0
		return result
	}

	flipped := make([]float64, len(pnl))
	beatOrEqual := 0
	for i := 0; i < t.permutations; i++ {
		for j, p := range pnl {
			if t.rng.Intn(2) == 0 {
				flipped[j] = -p
			} else {
				flipped[j] = p
			}
		}
		if profitFactorOf(flipped) >= original {
			beatOrEqual++
		}
	}

	result.PValue = float64(beatOrEqual) / float64(t.permutations)
	result.Passed = result.PValue <= t.significance

	t.logger.Debug("permutation test complete",
		zap.Float64("profitFactor", original),
		zap.Float64("pValue", result.PValue),
		zap.Bool("passed", result.Passed))
	return result
}

func profitFactorOf(pnl []float64) float64 {
	var grossProfit, grossLoss float64
	for _, p := range pnl {
		if p > 0 {
			grossProfit += p
		} else if p < 0 {
			grossLoss += -p
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return maxProfitFactor
		}
		return 0
	}
	pf := grossProfit / grossLoss
	if pf > maxProfitFactor {
		pf = maxProfitFactor
	}
	return pf
}
