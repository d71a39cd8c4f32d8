package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"stock_bot/internal/domain"
)

// flexInt accepts a JSON number or a quoted number.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(v)
	return nil
}

// flexFloat accepts a JSON number or a quoted number.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexFloat(v)
	return nil
}

// quote is the provider's pricing message.
type quote struct {
	ID            string    `json:"id"`
	Time          flexInt   `json:"time"`
	Price         flexFloat `json:"price"`
	ChangePercent flexFloat `json:"change_percent"`
	Change        flexFloat `json:"change"`
	DayVolume     flexInt   `json:"day_volume"`
	MarketHours   flexInt   `json:"market_hours"`
}

func (q quote) tick() domain.Tick {
	return domain.Tick{
		Ticker:        q.ID,
		TimeMillis:    int64(q.Time),
		Price:         float64(q.Price),
		ChangePercent: float64(q.ChangePercent),
		Change:        float64(q.Change),
		DayVolume:     int64(q.DayVolume),
		MarketHours:   domain.MarketHours(q.MarketHours),
	}
}

// decodeQuotes parses a single quote object or an array of quotes.
// Entries without a ticker id are skipped.
func decodeQuotes(data []byte) ([]domain.Tick, error) {
	data = bytes.TrimSpace(data)
	var quotes []quote
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &quotes); err != nil {
			return nil, err
		}
	} else {
		var q quote
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, err
		}
		quotes = []quote{q}
	}

	ticks := make([]domain.Tick, 0, len(quotes))
	for _, q := range quotes {
		if q.ID == "" {
			continue
		}
		ticks = append(ticks, q.tick())
	}
	return ticks, nil
}
