package infra

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultUserAgent is sent on screener requests and the stream handshake.
const DefaultUserAgent = "Mozilla/5.0"

// screenerResponse accepts the Yahoo predefined-screener shape.
type screenerResponse struct {
	Finance struct {
		Result []struct {
			Quotes []struct {
				Symbol string `json:"symbol"`
			} `json:"quotes"`
		} `json:"result"`
	} `json:"finance"`
}

// screenerItem accepts a flat list of {"ticker": "..."} or {"symbol": "..."}.
type screenerItem struct {
	Ticker string `json:"ticker"`
	Symbol string `json:"symbol"`
}

// ScreenerClient fetches the most active tickers over HTTP. When a fetch fails
// it serves the last good list, then the fallback list.
type ScreenerClient struct {
	url        string
	limit      int
	fallback   []string
	httpClient *http.Client
	retries    uint64
	retryWait  time.Duration

	mu   sync.RWMutex
	last []string
}

// NewScreenerClient creates a client for url keeping at most limit tickers (0 keeps all).
func NewScreenerClient(url string, limit int, timeout time.Duration, fallback []string) *ScreenerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ScreenerClient{
		url:        url,
		limit:      limit,
		fallback:   slices.Clone(fallback),
		httpClient: &http.Client{Timeout: timeout},
		retries:    2,
		retryWait:  time.Second,
	}
}

// Tickers implements domain.UniverseProvider.
func (c *ScreenerClient) Tickers(ctx context.Context) ([]string, error) {
	tickers, err := c.fetch(ctx)
	if err == nil {
		c.mu.Lock()
		c.last = tickers
		c.mu.Unlock()
		return slices.Clone(tickers), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.last) > 0 {
		slog.Warn("Screener fetch failed, keeping previous universe", slog.Int("tickers", len(c.last)), slog.Any("error", err))
		return slices.Clone(c.last), nil
	}
	if len(c.fallback) > 0 {
		slog.Warn("Screener fetch failed, using fallback universe", slog.Int("tickers", len(c.fallback)), slog.Any("error", err))
		return slices.Clone(c.fallback), nil
	}
	return nil, err
}

// fetch retries with exponential backoff: 1s, 2s, ...
func (c *ScreenerClient) fetch(ctx context.Context) ([]string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	var tickers []string
	op := func() error {
		var err error
		tickers, err = c.doFetch(ctx)
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("Screener fetch attempt failed", slog.Duration("retry_in", delay), slog.Any("error", err))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return tickers, nil
}

func (c *ScreenerClient) doFetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	tickers, err := parseScreener(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("empty response from screener")
	}
	if c.limit > 0 && len(tickers) > c.limit {
		tickers = tickers[:c.limit]
	}
	return tickers, nil
}

// parseScreener extracts tickers in response order, dropping blanks and duplicates.
func parseScreener(body []byte) ([]string, error) {
	var raw []string
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		var items []screenerItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			raw = append(raw, cmp.Or(it.Ticker, it.Symbol))
		}
	} else {
		var data screenerResponse
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		for _, r := range data.Finance.Result {
			for _, q := range r.Quotes {
				raw = append(raw, q.Symbol)
			}
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

