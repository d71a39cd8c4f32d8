package domain

import "context"

// TickSink receives ticks from a stream worker. Push must not block.
type TickSink interface {
	Push(tick Tick) bool
}

// PriceLookup resolves the most recent known price for a ticker.
// It returns ErrNoLog, ErrNoPriceHistory or ErrPriceUnavailable when no price exists.
type PriceLookup interface {
	LastPrice(ticker string) (float64, error)
}

// UniverseProvider returns the set of tickers the system should monitor.
type UniverseProvider interface {
	Tickers(ctx context.Context) ([]string, error)
}
