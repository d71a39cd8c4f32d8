package window

import "time"

// Bar is one 1-minute OHLCV bucket. Close is the last price in the bucket.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Table is the minute-resampled window for one ticker, oldest bar first.
// A nil *Table means the ticker has no log; an empty Table means the log holds no valid rows.
type Table struct {
	Ticker string
	Bars   []Bar
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Bars)
}

func (t *Table) Empty() bool { return t.Len() == 0 }

// Last returns the most recent bar. The table must not be empty.
func (t *Table) Last() Bar { return t.Bars[len(t.Bars)-1] }

// Closes returns the close series.
func (t *Table) Closes() []float64 { return t.column(func(b Bar) float64 { return b.Close }) }

// Highs returns the high series.
func (t *Table) Highs() []float64 { return t.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low series.
func (t *Table) Lows() []float64 { return t.column(func(b Bar) float64 { return b.Low }) }

// Volumes returns the volume series.
func (t *Table) Volumes() []float64 { return t.column(func(b Bar) float64 { return b.Volume }) }

// Times returns the bucket start times.
func (t *Table) Times() []time.Time {
	out := make([]time.Time, len(t.Bars))
	for i, b := range t.Bars {
		out[i] = b.Time
	}
	return out
}

func (t *Table) column(get func(Bar) float64) []float64 {
	out := make([]float64, len(t.Bars))
	for i, b := range t.Bars {
		out[i] = get(b)
	}
	return out
}
