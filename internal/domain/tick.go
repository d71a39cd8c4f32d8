package domain

import "time"

// MarketHours is the session flag attached to every streamed quote
type MarketHours int

const (
	MarketHoursPre MarketHours = iota
	MarketHoursRegular
	MarketHoursPost
	MarketHoursExtended
)

func (m MarketHours) String() string {
	switch m {
	case MarketHoursPre:
		return "PRE"
	case MarketHoursRegular:
		return "REGULAR"
	case MarketHoursPost:
		return "POST"
	case MarketHoursExtended:
		return "EXTENDED"
	}
	return "UNKNOWN"
}

// Tick is a single trade/price update for one ticker as delivered by the stream.
// It is produced by the stream worker and consumed exactly once by the writer.
type Tick struct {
	Ticker        string      `json:"id"`
	TimeMillis    int64       `json:"time"`           // epoch milliseconds
	Price         float64     `json:"price"`          // last trade price
	ChangePercent float64     `json:"change_percent"` // session change (%)
	Change        float64     `json:"change"`         // session change (absolute)
	DayVolume     int64       `json:"day_volume"`     // cumulative session volume
	MarketHours   MarketHours `json:"market_hours"`
}

// Time converts the epoch millisecond timestamp to a time in loc.
func (t Tick) Time(loc *time.Location) time.Time {
	return time.UnixMilli(t.TimeMillis).In(loc)
}

// IsRegular reports whether the tick belongs to the regular trading session.
func (t Tick) IsRegular() bool {
	return t.MarketHours == MarketHoursRegular
}
