// Package optimization tunes strategy parameters: Latin Hypercube
// sampling over each strategy's parameter ranges, rolling-backtest
// scoring, and a validation chain that rejects overfitted candidates.
package optimization

import (
	"math"
	"math/rand"
	"sort"

	"github.com/goldsight/trading-backend/internal/strategy"
)

// discreteValues expands a (min, max, step) range into the ordered list
// of values the sampler may pick from.
func discreteValues(r strategy.ParamRange) []float64 {
	var values []float64
	// Small tolerance so fractional steps land on the upper bound.
	for v := r.Min; v <= r.Max+r.Step*0.01; v += r.Step {
		values = append(values, roundTo(v, 4))
	}
	return values
}

// generateCandidates builds numSamples parameter sets for a strategy.
// Candidate #0 is always the current defaults; the rest come from Latin
// Hypercube sampling, which stratifies every dimension so each region
// of a parameter's range is visited instead of clustering at random.
func generateCandidates(name string, numSamples int, rng *rand.Rand) []map[string]float64 {
	defaults := strategy.DefaultParams(name)
	candidates := []map[string]float64{copyParams(defaults)}

	ranges := strategy.ParamRanges(name)
	if len(ranges) == 0 || numSamples <= 1 {
		return candidates
	}

	names := make([]string, 0, len(ranges))
	for n := range ranges {
		names = append(names, n)
	}
	// Deterministic dimension order for reproducible seeds.
	sort.Strings(names)

	n := numSamples - 1
	columns := make([][]float64, len(names))
	for dim, paramName := range names {
		values := discreteValues(ranges[paramName])

		// One stratum per sample, mapped onto the discrete value list,
		// then shuffled so strata pair up randomly across dimensions.
		column := make([]float64, n)
		for i := 0; i < n; i++ {
			pos := (float64(i) + rng.Float64()) / float64(n)
			idx := int(pos * float64(len(values)))
			if idx >= len(values) {
				idx = len(values) - 1
			}
			column[i] = values[idx]
		}
		rng.Shuffle(n, func(i, j int) { column[i], column[j] = column[j], column[i] })
		columns[dim] = column
	}

	for i := 0; i < n; i++ {
		params := copyParams(defaults)
		for dim, paramName := range names {
			params[paramName] = columns[dim][i]
		}
		candidates = append(candidates, params)
	}
	return candidates
}

func copyParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
