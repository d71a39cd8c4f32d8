package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSeries(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.Truef(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDeltaf(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

var nan = math.NaN()

func TestSMA(t *testing.T) {
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assertSeries(t, []float64{nan, nan}, SMA([]float64{1, 2}, 3))
	assertSeries(t, []float64{nan, nan, nan, 3}, SMA([]float64{nan, 2, 3, 4}, 3))
}

func TestEMA(t *testing.T) {
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, EMA([]float64{1, 2, 3, 4, 5}, 3))
	// leading NaNs shift the seed
	assertSeries(t, []float64{nan, nan, 1.5, 2.5}, EMA([]float64{nan, 1, 2, 3}, 2))
}

func TestRSI(t *testing.T) {
	closes := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00}
	rsi := RSI(closes, 14)
	assert.True(t, math.IsNaN(rsi[13]))
	assert.InDelta(t, 70.4641, rsi[14], 1e-3)
	assert.InDelta(t, 66.2496, rsi[15], 1e-3)

	rising := RSI([]float64{1, 2, 3, 4, 5}, 3)
	assert.Equal(t, 100.0, rising[4])

	flat := RSI([]float64{5, 5, 5, 5}, 3)
	assert.Equal(t, 50.0, flat[3])
}

func TestCCI(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	cci := CCI(closes, closes, closes, 5)
	assert.InDelta(t, 111.1111, cci[4], 1e-3)

	flat := []float64{3, 3, 3}
	assert.True(t, math.IsNaN(CCI(flat, flat, flat, 3)[2]), "zero deviation yields NaN")
}

func TestOBV(t *testing.T) {
	assert.Equal(t, []float64{5, 8, 6, 6}, OBV([]float64{10, 11, 10, 10}, []float64{5, 3, 2, 4}))
	assert.Empty(t, OBV(nil, nil))
}

func TestStochastic(t *testing.T) {
	high := []float64{10, 12, 14, 13, 15}
	low := []float64{8, 9, 10, 11, 12}
	closes := []float64{9, 11, 13, 12, 14}

	k, d := Stochastic(high, low, closes, 3, 2, 1)
	// raw %K: idx2 (13-8)/(14-8), idx3 (12-9)/(14-9), idx4 (14-10)/(15-10)
	assertSeries(t, []float64{nan, nan, 500.0 / 6, 60, 80}, k)
	assertSeries(t, []float64{nan, nan, nan, (500.0/6 + 60) / 2, 70}, d)
}

func TestMACD(t *testing.T) {
	closes := []float64{10, 9, 8, 7, 6, 5, 6, 8, 11, 15}
	line, sig := MACD(closes, 2, 3, 2)
	assert.InDelta(t, -0.5, line[2], 1e-9)
	assert.InDelta(t, 0.277778, line[7], 1e-5)
	assert.InDelta(t, 0.092593, sig[7], 1e-5)
	assert.True(t, math.IsNaN(sig[2]))
}
