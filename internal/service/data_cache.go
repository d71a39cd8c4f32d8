package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent window reads. Reads are I/O bound.
const DefaultWorkers = 32

// WindowReader reads the bar window of one ticker.
type WindowReader interface {
	ReadWindow(ticker string, lengthMinutes int) (*window.Table, error)
}

// DataCache fans window reads out over a bounded pool and keeps the latest
// snapshot for callers that only need recent bars.
type DataCache struct {
	reader  WindowReader
	workers int

	mu       sync.RWMutex
	snapshot map[string]*window.Table
	updated  time.Time
}

// NewDataCache creates a coordinator over reader with the given pool size.
func NewDataCache(reader WindowReader, workers int) *DataCache {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &DataCache{reader: reader, workers: workers, snapshot: make(map[string]*window.Table)}
}

// Retrieve reads every ticker's window concurrently. Only present, non-empty
// tables are returned; unreadable tickers are logged and skipped.
func (c *DataCache) Retrieve(ctx context.Context, tickers []string, lengthMinutes int) map[string]*window.Table {
	var mu sync.Mutex
	out := make(map[string]*window.Table, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, ticker := range tickers {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			table, err := c.reader.ReadWindow(ticker, lengthMinutes)
			if err != nil {
				if errors.Is(err, domain.ErrNoLog) {
					slog.Debug("No price log yet", slog.String("ticker", ticker))
				} else {
					slog.Warn("Window read failed", slog.String("ticker", ticker), slog.Any("error", err))
				}
				return nil
			}
			if table.Empty() {
				return nil
			}
			mu.Lock()
			out[ticker] = table
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.snapshot = out
	c.updated = time.Now()
	c.mu.Unlock()
	return out
}

// Latest returns the table from the last Retrieve, or nil.
func (c *DataCache) Latest(ticker string) *window.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot[ticker]
}

// Tickers returns the tickers present in the last snapshot, sorted.
func (c *DataCache) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.snapshot))
	for t := range c.snapshot {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// Updated returns when the snapshot was last refreshed.
func (c *DataCache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// LastPrices returns each ticker's last close from the snapshot.
func (c *DataCache) LastPrices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prices := make(map[string]float64, len(c.snapshot))
	for t, table := range c.snapshot {
		prices[t] = table.Last().Close
	}
	return prices
}
