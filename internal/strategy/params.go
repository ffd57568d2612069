package strategy

// ParamRange describes the search space for one tunable parameter.
type ParamRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// ParamRanges returns the optimizer search space for a strategy, or nil
// if the strategy has no tunable parameters.
func ParamRanges(name string) map[string]ParamRange {
	switch name {
	case LiquiditySweepName:
		return map[string]ParamRange{
			"SWING_ORDER":  {Min: 3, Max: 8, Step: 1},
			"LOOKBACK":     {Min: 30, Max: 80, Step: 10},
			"SL_ATR_MULT":  {Min: 0.3, Max: 1.0, Step: 0.1},
			"TP1_RR":       {Min: 1.0, Max: 2.5, Step: 0.25},
			"CONFIRM_BARS": {Min: 2, Max: 5, Step: 1},
		}
	case TrendContinuationName:
		return map[string]ParamRange{
			"EMA_FAST":          {Min: 20, Max: 60, Step: 10},
			"PULLBACK_ATR_MULT": {Min: 0.5, Max: 2.0, Step: 0.25},
			"SL_ATR_MULT":       {Min: 1.0, Max: 2.5, Step: 0.25},
			"TP1_RR":            {Min: 1.5, Max: 3.0, Step: 0.25},
			"LOOKBACK_PULLBACK": {Min: 3, Max: 8, Step: 1},
		}
	case BreakoutExpansionName:
		return map[string]ParamRange{
			"ATR_COMPRESSION":   {Min: 0.3, Max: 0.7, Step: 0.1},
			"MIN_CONSOL_BARS":   {Min: 5, Max: 20, Step: 5},
			"VOLUME_MULT":       {Min: 1.0, Max: 2.5, Step: 0.25},
			"BREAKOUT_BODY_ATR": {Min: 1.0, Max: 2.5, Step: 0.25},
		}
	}
	return nil
}

// DefaultParams returns a copy of a strategy's default parameters, or
// nil for an unknown name.
func DefaultParams(name string) map[string]float64 {
	switch name {
	case LiquiditySweepName:
		return mergeParams(liquiditySweepDefaults, nil)
	case TrendContinuationName:
		return mergeParams(trendContinuationDefaults, nil)
	case BreakoutExpansionName:
		return mergeParams(breakoutExpansionDefaults, nil)
	}
	return nil
}
