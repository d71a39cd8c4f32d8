package strategy

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Params holds numeric strategy parameters from the bot configuration.
type Params map[string]float64

// Int returns the parameter as an int, or def when unset.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// Float returns the parameter, or def when unset.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

type buildOptions struct {
	clock Clock
	rng   *rand.Rand
}

// Option customizes Build.
type Option func(*buildOptions)

// WithClock sets the clock used by crossover strategies.
func WithClock(c Clock) Option { return func(o *buildOptions) { o.clock = c } }

// WithRand sets the random source of the random strategy.
func WithRand(r *rand.Rand) Option { return func(o *buildOptions) { o.rng = r } }

// Build creates a strategy by kind. Unset parameters take the defaults below.
func Build(kind string, params Params, opts ...Option) (Strategy, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	kind = strings.ToLower(kind)
	var s Strategy
	switch kind {
	case "sma":
		s = NewMACross(KindSMA, params.Int("short", 9), params.Int("long", 21), o.clock)
	case "ema":
		s = NewMACross(KindEMA, params.Int("short", 9), params.Int("long", 21), o.clock)
	case "macd":
		s = NewMACDCross(params.Int("fast", 12), params.Int("slow", 26), params.Int("signal", 9), MACDSignalCross, o.clock)
	case "macd_zero":
		s = NewMACDCross(params.Int("fast", 12), params.Int("slow", 26), params.Int("signal", 9), MACDZeroLine, o.clock)
	case "rsi":
		s = NewRSIStrategy(params.Int("length", 14), params.Float("lower", 30), params.Float("upper", 70))
	case "cci":
		s = NewCCIStrategy(params.Int("length", 20), params.Float("lower", -100), params.Float("upper", 100))
	case "stoch":
		s = NewStochStrategy(params.Int("k", 14), params.Int("d", 3), params.Int("smooth", 3), params.Float("lower", 20), params.Float("upper", 80))
	case "obv":
		s = NewOBVStrategy(params.Int("long", 20), params.Int("short", 10))
	case "tmf":
		s = NewTMFStrategy(params.Int("length", 21))
	case "updown":
		s = NewDirectionStrategy()
	case "random":
		s = NewRandomStrategy(o.rng)
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}

	if err := validatePeriods(kind, params); err != nil {
		return nil, err
	}
	return s, nil
}

func validatePeriods(kind string, params Params) error {
	for key, v := range params {
		switch key {
		case "short", "long", "fast", "slow", "signal", "length", "k", "d", "smooth":
			if v < 1 {
				return fmt.Errorf("%s: %s must be at least 1, got %v", kind, key, v)
			}
		}
	}
	if params.Int("short", 9) >= params.Int("long", 21) && (kind == "sma" || kind == "ema") {
		return fmt.Errorf("%s: short period must be less than long period", kind)
	}
	if params.Int("fast", 12) >= params.Int("slow", 26) && strings.HasPrefix(kind, "macd") {
		return fmt.Errorf("%s: fast period must be less than slow period", kind)
	}
	return nil
}
