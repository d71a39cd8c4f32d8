package domain

import "time"

// MarketSession describes the regular trading hours of an exchange.
type MarketSession struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
}

// NewYorkSession returns the NYSE/Nasdaq regular session (09:30-16:00 ET).
func NewYorkSession() MarketSession {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return MarketSession{Location: loc, Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour}
}

func (s MarketSession) midnight(now time.Time) time.Time {
	local := now.In(s.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.Location)
}

// IsOpen reports whether now falls inside the session on a weekday. Both ends are inclusive.
func (s MarketSession) IsOpen(now time.Time) bool {
	local := now.In(s.Location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mid := s.midnight(now)
	return !local.Before(mid.Add(s.Open)) && !local.After(mid.Add(s.Close))
}

// TimeToClose returns the duration until today's close. Negative after the close.
func (s MarketSession) TimeToClose(now time.Time) time.Duration {
	return s.midnight(now).Add(s.Close).Sub(now)
}
