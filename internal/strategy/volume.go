package strategy

import (
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"
)

// OBVStrategy buys a breakout above the prior long-window high confirmed by
// OBV above its short average and volume above its long average. It sells a
// breakdown below the prior low with OBV under its average.
type OBVStrategy struct {
	long, short int
}

func NewOBVStrategy(long, short int) *OBVStrategy {
	return &OBVStrategy{long: long, short: short}
}

func (s *OBVStrategy) Name() string        { return "obv" }
func (s *OBVStrategy) RequiredPeriod() int { return max(s.long+1, s.short) }

func (s *OBVStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	for ticker, table := range tables {
		if !eligible(table, s.RequiredPeriod()) {
			continue
		}
		closes, volumes := table.Closes(), table.Volumes()
		obv := OBV(closes, volumes)
		last := len(closes) - 1

		obvMA := SMA(obv, s.short)[last]
		volMA := SMA(volumes, s.long)[last]
		priorHigh := windowMax(closes, last-s.long, last)
		priorLow := windowMin(closes, last-s.long, last)

		switch {
		case closes[last] > priorHigh && obv[last] > obvMA && volumes[last] > volMA:
			out[ticker] = domain.ActionBuy
		case obv[last] < obvMA && closes[last] < priorLow:
			out[ticker] = domain.ActionSell
		}
	}
	return out
}

// tmfState holds the decayed running sums of Twiggs Money Flow for one ticker.
type tmfState struct {
	adSum, volSum float64
	lastBar       time.Time
	prev          float64
	hasPrev       bool
}

// TMFStrategy signals when Twiggs Money Flow changes sign. Sums are seeded
// once from the window and then updated incrementally per new bar.
type TMFStrategy struct {
	length int
	states map[string]*tmfState
}

func NewTMFStrategy(length int) *TMFStrategy {
	return &TMFStrategy{length: length, states: make(map[string]*tmfState)}
}

func (s *TMFStrategy) Name() string        { return "tmf" }
func (s *TMFStrategy) RequiredPeriod() int { return s.length + 1 }

// moneyFlow is the accumulation/distribution of bar i using the true range
// against the previous close.
func moneyFlow(high, low, close, volume []float64, i int) float64 {
	trh := max(high[i], close[i-1])
	trl := min(low[i], close[i-1])
	if trh == trl {
		return 0
	}
	return ((close[i] - trl) - (trh - close[i])) / (trh - trl) * volume[i]
}

func (s *TMFStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals)
	n := float64(s.length)
	decay := (n - 1) / n

	for ticker, table := range tables {
		if !eligible(table, s.RequiredPeriod()) {
			continue
		}
		highs, lows, closes, volumes := table.Highs(), table.Lows(), table.Closes(), table.Volumes()
		times := table.Times()
		last := len(closes) - 1

		st, ok := s.states[ticker]
		if !ok {
			st = &tmfState{}
			for i := max(1, last-s.length); i < last; i++ {
				st.adSum += moneyFlow(highs, lows, closes, volumes, i)
				st.volSum += volumes[i]
			}
			st.lastBar = times[last-1]
			s.states[ticker] = st
		}
		if !times[last].After(st.lastBar) {
			continue
		}

		for i := 1; i <= last; i++ {
			if !times[i].After(st.lastBar) {
				continue
			}
			st.adSum = st.adSum*decay + moneyFlow(highs, lows, closes, volumes, i)
			st.volSum = st.volSum*decay + volumes[i]
		}
		st.lastBar = times[last]

		tmf := 0.0
		if st.volSum != 0 {
			tmf = st.adSum / st.volSum
		}
		if st.hasPrev {
			switch {
			case tmf > 0 && st.prev <= 0:
				out[ticker] = domain.ActionBuy
			case tmf < 0 && st.prev >= 0:
				out[ticker] = domain.ActionSell
			}
		}
		st.prev, st.hasPrev = tmf, true
	}
	return out
}
