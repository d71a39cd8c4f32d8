package window

import (
	"math"
	"time"
)

type bucket struct {
	open, high, low, close float64
	priced                 bool
	cumVolume              float64
	hasVolume              bool
}

// Resample groups rows into 1-minute buckets. Buckets without a valid price
// carry the previous close forward with zero volume. Volume is the change in
// the last valid cumulative volume between consecutive buckets, and zero for
// the first one.
func Resample(rows []row) []Bar {
	if len(rows) == 0 {
		return []Bar{}
	}

	first, last := rows[0].t.Truncate(time.Minute), rows[0].t.Truncate(time.Minute)
	for _, rw := range rows[1:] {
		m := rw.t.Truncate(time.Minute)
		if m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	buckets := make([]bucket, int(last.Sub(first)/time.Minute)+1)
	for _, rw := range rows {
		b := &buckets[int(rw.t.Truncate(time.Minute).Sub(first)/time.Minute)]
		if !math.IsNaN(rw.price) {
			if !b.priced {
				b.open, b.high, b.low = rw.price, rw.price, rw.price
				b.priced = true
			}
			b.high = max(b.high, rw.price)
			b.low = min(b.low, rw.price)
			b.close = rw.price
		}
		if !math.IsNaN(rw.cumVolume) {
			b.cumVolume = rw.cumVolume
			b.hasVolume = true
		}
	}

	bars := make([]Bar, 0, len(buckets))
	var prevCum float64
	havePrevCum := false
	for i, b := range buckets {
		volume := 0.0
		if b.hasVolume {
			if havePrevCum {
				volume = b.cumVolume - prevCum
			}
			prevCum, havePrevCum = b.cumVolume, true
		}

		ts := first.Add(time.Duration(i) * time.Minute)
		if !b.priced {
			// leading buckets with no price cannot be filled
			if len(bars) == 0 {
				continue
			}
			c := bars[len(bars)-1].Close
			bars = append(bars, Bar{Time: ts, Open: c, High: c, Low: c, Close: c, Volume: volume})
			continue
		}
		bars = append(bars, Bar{Time: ts, Open: b.open, High: b.high, Low: b.low, Close: b.close, Volume: volume})
	}
	return bars
}
