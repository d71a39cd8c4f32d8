package strategy

import (
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"
)

// Signals maps a ticker to the action a strategy suggests for it.
// Tickers without a suggestion are absent.
type Signals map[string]domain.Action

// Strategy turns minute bars into trade signals.
// Implementations keep per-ticker state between calls and are not safe for
// concurrent use; each bot owns its own instance.
type Strategy interface {
	// Name returns the strategy kind, e.g. "rsi".
	Name() string
	// RequiredPeriod is the number of bars needed before any signal is produced.
	RequiredPeriod() int
	// FindSignals evaluates the latest bar of every table.
	FindSignals(tables map[string]*window.Table) Signals
}

// Clock returns the current time. Crossover strategies use it to decide
// whether a cross happened in the last completed minute.
type Clock func() time.Time

// lastCompletedMinute is the bucket a crossover must fall in to be fresh.
func lastCompletedMinute(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(-time.Minute)
}

// eligible reports whether table has at least n bars.
func eligible(table *window.Table, n int) bool {
	return table != nil && table.Len() >= n
}
