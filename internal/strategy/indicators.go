package strategy

import "math"

// Indicator series have the same length as their input. Positions without
// enough history hold NaN.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average. A window containing NaN yields NaN.
func SMA(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(x); i++ {
		sum := 0.0
		for _, v := range x[i-n+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA is the exponential moving average with alpha 2/(n+1), seeded with the
// SMA of the first n valid values. Leading NaNs are skipped.
func EMA(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	if n <= 0 {
		return out
	}
	start := 0
	for start < len(x) && math.IsNaN(x[start]) {
		start++
	}
	seed := start + n - 1
	if seed >= len(x) {
		return out
	}

	sum := 0.0
	for _, v := range x[start : seed+1] {
		sum += v
	}
	out[seed] = sum / float64(n)

	alpha := 2 / float64(n+1)
	for i := seed + 1; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI is the relative strength index with Wilder smoothing seeded by the
// mean gain and loss of the first n changes.
func RSI(close []float64, n int) []float64 {
	out := nanSeries(len(close))
	if n <= 0 || len(close) <= n {
		return out
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(n)
	loss /= float64(n)
	out[n] = rsiValue(gain, loss)

	for i := n + 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(n-1) + g) / float64(n)
		loss = (loss*float64(n-1) + l) / float64(n)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// TypicalPrice is (high+low+close)/3.
func TypicalPrice(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		out[i] = (high[i] + low[i] + close[i]) / 3
	}
	return out
}

// MeanDeviation is the rolling mean absolute deviation around the window mean.
func MeanDeviation(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	mean := SMA(x, n)
	for i := n - 1; i < len(x) && n > 0; i++ {
		sum := 0.0
		for _, v := range x[i-n+1 : i+1] {
			sum += math.Abs(v - mean[i])
		}
		out[i] = sum / float64(n)
	}
	return out
}

// CCI is the commodity channel index over the typical price.
// Windows with zero deviation yield NaN.
func CCI(high, low, close []float64, n int) []float64 {
	tp := TypicalPrice(high, low, close)
	mean := SMA(tp, n)
	dev := MeanDeviation(tp, n)
	out := nanSeries(len(close))
	for i := range out {
		if math.IsNaN(dev[i]) || dev[i] == 0 {
			continue
		}
		out[i] = (tp[i] - mean[i]) / (0.015 * dev[i])
	}
	return out
}

// Stochastic returns the smoothed %K and its %D signal line.
func Stochastic(high, low, close []float64, k, d, smooth int) (pctK, pctD []float64) {
	raw := nanSeries(len(close))
	for i := k - 1; i < len(close) && k > 0; i++ {
		hh, ll := high[i-k+1], low[i-k+1]
		for j := i - k + 2; j <= i; j++ {
			hh = max(hh, high[j])
			ll = min(ll, low[j])
		}
		if hh == ll {
			continue
		}
		raw[i] = 100 * (close[i] - ll) / (hh - ll)
	}
	pctK = SMA(raw, smooth)
	pctD = SMA(pctK, d)
	return pctK, pctD
}

// OBV is on-balance volume. The first bar counts as an up bar.
func OBV(close, volume []float64) []float64 {
	out := make([]float64, len(close))
	if len(close) == 0 {
		return out
	}
	out[0] = volume[0]
	for i := 1; i < len(close); i++ {
		switch {
		case close[i] > close[i-1]:
			out[i] = out[i-1] + volume[i]
		case close[i] < close[i-1]:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// MACD returns the fast-slow EMA difference and its signal EMA.
func MACD(close []float64, fast, slow, signal int) (line, sig []float64) {
	f, s := EMA(close, fast), EMA(close, slow)
	line = make([]float64, len(close))
	for i := range close {
		line[i] = f[i] - s[i]
	}
	return line, EMA(line, signal)
}

// windowMax returns the max of x[from:to].
func windowMax(x []float64, from, to int) float64 {
	m := math.Inf(-1)
	for _, v := range x[from:to] {
		m = max(m, v)
	}
	return m
}

// windowMin returns the min of x[from:to].
func windowMin(x []float64, from, to int) float64 {
	m := math.Inf(1)
	for _, v := range x[from:to] {
		m = min(m, v)
	}
	return m
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
