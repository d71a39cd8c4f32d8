package strategy

import (
	"math"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"
)

// lastCross finds the most recent strict sign flip of a-b, ignoring
// positions where either series is NaN. A flip from below to above is a BUY.
func lastCross(times []time.Time, a, b []float64) (time.Time, domain.Action, bool) {
	prev := 0
	var at time.Time
	var action domain.Action
	found := false
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		s := sign(a[i] - b[i])
		switch {
		case prev == -1 && s == 1:
			at, action, found = times[i], domain.ActionBuy, true
		case prev == 1 && s == -1:
			at, action, found = times[i], domain.ActionSell, true
		}
		prev = s
	}
	return at, action, found
}

// freshCross returns the cross signal only when it happened in the last completed minute.
func freshCross(now time.Time, times []time.Time, a, b []float64) (domain.Action, bool) {
	at, action, ok := lastCross(times, a, b)
	if !ok || !at.Equal(lastCompletedMinute(now)) {
		return "", false
	}
	return action, true
}

// MAKind selects the moving average of a MACross.
type MAKind string

const (
	KindSMA MAKind = "sma"
	KindEMA MAKind = "ema"
)

// MACross signals when the short moving average crosses the long one.
type MACross struct {
	kind        MAKind
	short, long int
	now         Clock
}

func NewMACross(kind MAKind, short, long int, now Clock) *MACross {
	if now == nil {
		now = time.Now
	}
	return &MACross{kind: kind, short: short, long: long, now: now}
}

func (s *MACross) Name() string        { return string(s.kind) }
func (s *MACross) RequiredPeriod() int { return s.long }

func (s *MACross) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	now := s.now()
	for ticker, table := range tables {
		if !eligible(table, s.long) {
			continue
		}
		closes := table.Closes()
		var fast, slow []float64
		if s.kind == KindEMA {
			fast, slow = EMA(closes, s.short), EMA(closes, s.long)
		} else {
			fast, slow = SMA(closes, s.short), SMA(closes, s.long)
		}
		if action, ok := freshCross(now, table.Times(), fast, slow); ok {
			out[ticker] = action
		}
	}
	return out
}

// MACDMode selects what the MACD line is compared against.
type MACDMode string

const (
	MACDSignalCross MACDMode = "signal"
	MACDZeroLine    MACDMode = "zero"
)

// MACDCross signals on MACD crossing its signal line, or zero in zero-line mode.
type MACDCross struct {
	fast, slow, signal int
	mode               MACDMode
	now                Clock
}

func NewMACDCross(fast, slow, signal int, mode MACDMode, now Clock) *MACDCross {
	if now == nil {
		now = time.Now
	}
	if mode == "" {
		mode = MACDSignalCross
	}
	return &MACDCross{fast: fast, slow: slow, signal: signal, mode: mode, now: now}
}

func (s *MACDCross) Name() string        { return "macd" }
func (s *MACDCross) RequiredPeriod() int { return s.slow + s.signal }

func (s *MACDCross) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	now := s.now()
	for ticker, table := range tables {
		if !eligible(table, s.RequiredPeriod()) {
			continue
		}
		line, sig := MACD(table.Closes(), s.fast, s.slow, s.signal)
		if s.mode == MACDZeroLine {
			sig = make([]float64, len(line))
		}
		if action, ok := freshCross(now, table.Times(), line, sig); ok {
			out[ticker] = action
		}
	}
	return out
}
