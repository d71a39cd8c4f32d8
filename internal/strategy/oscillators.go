package strategy

import (
	"math"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"
)

// RSIStrategy arms on RSI leaving [lower, upper] and fires on the way back.
type RSIStrategy struct {
	length int
	fsm    *ThresholdFSM
}

func NewRSIStrategy(length int, lower, upper float64) *RSIStrategy {
	return &RSIStrategy{length: length, fsm: NewThresholdFSM(lower, upper)}
}

func (s *RSIStrategy) Name() string        { return "rsi" }
func (s *RSIStrategy) RequiredPeriod() int { return s.length + 1 }

func (s *RSIStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	for ticker, table := range tables {
		if !eligible(table, s.RequiredPeriod()) {
			continue
		}
		rsi := RSI(table.Closes(), s.length)
		if action, ok := s.fsm.Step(ticker, rsi[len(rsi)-1]); ok {
			out[ticker] = action
		}
	}
	return out
}

// CCIStrategy is the same arm-then-confirm machine over the commodity channel index.
type CCIStrategy struct {
	length int
	fsm    *ThresholdFSM
}

func NewCCIStrategy(length int, lower, upper float64) *CCIStrategy {
	return &CCIStrategy{length: length, fsm: NewThresholdFSM(lower, upper)}
}

func (s *CCIStrategy) Name() string        { return "cci" }
func (s *CCIStrategy) RequiredPeriod() int { return s.length }

func (s *CCIStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	for ticker, table := range tables {
		if !eligible(table, s.length) {
			continue
		}
		cci := CCI(table.Highs(), table.Lows(), table.Closes(), s.length)
		if action, ok := s.fsm.Step(ticker, cci[len(cci)-1]); ok {
			out[ticker] = action
		}
	}
	return out
}

// StochStrategy arms when both %K and %D are beyond a bound and fires on the
// %K/%D cross back. Armed states disarm if both lines return inside the band
// without a cross.
type StochStrategy struct {
	k, d, smooth int
	lower, upper float64
	modes        map[string]Mode
}

func NewStochStrategy(k, d, smooth int, lower, upper float64) *StochStrategy {
	return &StochStrategy{k: k, d: d, smooth: smooth, lower: lower, upper: upper, modes: make(map[string]Mode)}
}

func (s *StochStrategy) Name() string        { return "stoch" }
func (s *StochStrategy) RequiredPeriod() int { return s.k + s.smooth + s.d }

func (s *StochStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	for ticker, table := range tables {
		if !eligible(table, s.RequiredPeriod()) {
			continue
		}
		pk, pd := Stochastic(table.Highs(), table.Lows(), table.Closes(), s.k, s.d, s.smooth)
		n := len(pk)
		if action, ok := s.step(ticker, pk[n-1], pd[n-1], pk[n-2], pd[n-2]); ok {
			out[ticker] = action
		}
	}
	return out
}

func (s *StochStrategy) step(ticker string, k, d, prevK, prevD float64) (domain.Action, bool) {
	for _, v := range []float64{k, d, prevK, prevD} {
		if math.IsNaN(v) {
			return "", false
		}
	}
	switch s.modes[ticker] {
	case ModeArmedBuy:
		if k > d && prevK <= prevD {
			s.modes[ticker] = ModeNeutral
			return domain.ActionBuy, true
		}
		if k > s.lower && d > s.lower {
			s.modes[ticker] = ModeNeutral
		}
	case ModeArmedSell:
		if k < d && prevK >= prevD {
			s.modes[ticker] = ModeNeutral
			return domain.ActionSell, true
		}
		if k < s.upper && d < s.upper {
			s.modes[ticker] = ModeNeutral
		}
	default:
		if k < s.lower && d < s.lower {
			s.modes[ticker] = ModeArmedBuy
		} else if k > s.upper && d > s.upper {
			s.modes[ticker] = ModeArmedSell
		}
	}
	return "", false
}
