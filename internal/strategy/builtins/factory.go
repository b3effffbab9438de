package builtins

import (
	"fmt"

	"neural/internal/strategy"
)

// Built-in strategy type names accepted by New.
const (
	TypeSMACross = "sma-cross"
	TypeMomentum = "momentum"
)

// New constructs a built-in strategy by type name, reading its parameters
// from params. Unknown types and invalid parameters are configuration
// errors.
func New(strategyType, id string, params strategy.Params) (strategy.Strategy, error) {
	switch strategyType {
	case TypeSMACross:
		short := intParam(params, "short", 10)
		long := intParam(params, "long", 30)
		return NewSMACross(id, short, long, params["band"])
	case TypeMomentum:
		lookback := intParam(params, "lookback", 14)
		threshold := params["threshold"]
		if threshold == 0 {
			threshold = 0.02
		}
		return NewMomentum(id, lookback, threshold)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", strategyType)
	}
}

// Constructor returns a strategy.Constructor for the given built-in type.
func Constructor(strategyType string) strategy.Constructor {
	return func(id string, params strategy.Params) (strategy.Strategy, error) {
		return New(strategyType, id, params)
	}
}

func intParam(params strategy.Params, key string, def int) int {
	if v, ok := params[key]; ok {
		return int(v)
	}
	return def
}
