package ingest

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type minuteStats struct {
	open, high, low, close float64
	lastCum                int64
}

func TestWriter_ReplaysThroughWindowReader(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	q := NewQueue(1000, nil)
	w, dir := newTestWriter(t, q, nil)

	var (
		ms       = baseMs
		cum      = int64(1_000)
		expected = make(map[string]*minuteStats)
		order    []string
	)
	for i := range 120 {
		ms += int64(1+rng.IntN(20)) * 1000
		cum += int64(rng.IntN(500))
		price := math.Round((100+rng.Float64()*10)*100) / 100

		q.Push(domain.Tick{
			Ticker:      "AAPL",
			TimeMillis:  ms,
			Price:       price,
			DayVolume:   cum,
			MarketHours: domain.MarketHoursRegular,
		})
		// noise in another file must not leak into AAPL's bars
		q.Push(tick("MSFT", ms, 400+float64(i)))

		key := time.UnixMilli(ms).UTC().Format("15:04")
		s, ok := expected[key]
		if !ok {
			s = &minuteStats{open: price, high: price, low: price}
			expected[key] = s
			order = append(order, key)
		}
		s.high = max(s.high, price)
		s.low = min(s.low, price)
		s.close = price
		s.lastCum = cum

		if i%17 == 0 {
			w.Cycle()
		}
	}
	w.Cycle()
	w.closeAll()
	require.Zero(t, q.Len())

	r := window.NewReader(dir, time.UTC, 64, nil)
	table, err := r.ReadWindow("AAPL", 24*60)
	require.NoError(t, err)
	require.Len(t, table.Bars, len(order), "ticks spaced under a minute leave no gaps")

	var volume float64
	for i, bar := range table.Bars {
		key := bar.Time.Format("15:04")
		require.Equal(t, order[i], key)
		want := expected[key]
		assert.Equal(t, want.open, bar.Open, key)
		assert.Equal(t, want.high, bar.High, key)
		assert.Equal(t, want.low, bar.Low, key)
		assert.Equal(t, want.close, bar.Close, key)
		volume += bar.Volume
	}
	assert.Zero(t, table.Bars[0].Volume)
	first, last := expected[order[0]], expected[order[len(order)-1]]
	assert.Equal(t, float64(last.lastCum-first.lastCum), volume)

	again, err := r.ReadWindow("AAPL", 24*60)
	require.NoError(t, err)
	assert.Equal(t, table, again)
}
