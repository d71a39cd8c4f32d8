package strategy

import (
	"math"

	"stock_bot/internal/domain"
)

// Mode is the per-ticker state of an oscillator strategy.
type Mode int

const (
	ModeNeutral Mode = iota
	ModeArmedBuy
	ModeArmedSell
)

func (m Mode) String() string {
	switch m {
	case ModeArmedBuy:
		return "ARMED_BUY"
	case ModeArmedSell:
		return "ARMED_SELL"
	}
	return "NEUTRAL"
}

// ThresholdFSM arms when a value leaves the [lower, upper] band and fires
// when it comes back inside. The arming observation never fires itself.
type ThresholdFSM struct {
	lower, upper float64
	modes        map[string]Mode
}

func NewThresholdFSM(lower, upper float64) *ThresholdFSM {
	return &ThresholdFSM{lower: lower, upper: upper, modes: make(map[string]Mode)}
}

// Step feeds one value for ticker and returns the signal it produced, if any.
// NaN values leave the state unchanged.
func (f *ThresholdFSM) Step(ticker string, v float64) (domain.Action, bool) {
	if math.IsNaN(v) {
		return "", false
	}
	switch f.modes[ticker] {
	case ModeNeutral:
		if v > f.upper {
			f.modes[ticker] = ModeArmedSell
		} else if v < f.lower {
			f.modes[ticker] = ModeArmedBuy
		}
	case ModeArmedBuy:
		if v > f.lower {
			f.modes[ticker] = ModeNeutral
			return domain.ActionBuy, true
		}
	case ModeArmedSell:
		if v < f.upper {
			f.modes[ticker] = ModeNeutral
			return domain.ActionSell, true
		}
	}
	return "", false
}

// Mode returns the current state for ticker.
func (f *ThresholdFSM) Mode(ticker string) Mode {
	return f.modes[ticker]
}
