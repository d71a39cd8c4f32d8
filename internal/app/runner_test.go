package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/execution"
	"stock_bot/internal/infra/storage"
	"stock_bot/internal/service"
	"stock_bot/internal/strategy"
	"stock_bot/internal/window"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	period  int
	signals strategy.Signals
	calls   atomic.Int32
}

func (s *stubStrategy) Name() string        { return "stub" }
func (s *stubStrategy) RequiredPeriod() int { return s.period }
func (s *stubStrategy) FindSignals(tables map[string]*window.Table) strategy.Signals {
	s.calls.Add(1)
	out := make(strategy.Signals)
	for t, a := range s.signals {
		if _, ok := tables[t]; ok {
			out[t] = a
		}
	}
	return out
}

type tableReader map[string]*window.Table

func (r tableReader) ReadWindow(ticker string, _ int) (*window.Table, error) {
	t, ok := r[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoLog, ticker)
	}
	return t, nil
}

type fakeStreamer struct {
	mu      sync.Mutex
	tickers []string
	starts  [][]string
	stopped bool
}

func (f *fakeStreamer) Start(_ context.Context, tickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = slices.Clone(tickers)
	f.starts = append(f.starts, f.tickers)
	return nil
}

func (f *fakeStreamer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeStreamer) Tickers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tickers)
}

func closes(cs ...float64) *window.Table {
	t := &window.Table{}
	for _, c := range cs {
		t.Bars = append(t.Bars, window.Bar{Open: c, High: c, Low: c, Close: c})
	}
	return t
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

type fixture struct {
	runner *Runner
	ledger *execution.Ledger
	values *execution.ValueLog
	stream *fakeStreamer
}

func newFixture(t *testing.T, reader tableReader, universe []string, bots ...*Bot) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "portfolios.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := execution.NewLedger(store, nil, nil, nil)
	for _, b := range bots {
		_, err := ledger.EnsurePortfolio(b.Name, decimal.NewFromInt(100_000))
		require.NoError(t, err)
	}
	values := execution.NewValueLog(filepath.Join(dir, "logs"), time.UTC)
	t.Cleanup(values.Close)

	stream := &fakeStreamer{}
	r := NewRunner(RunnerConfig{
		Interval:         time.Minute,
		NoBuyBeforeClose: 10 * time.Minute,
		UniverseRefresh:  time.Hour,
		MaxConcurrent:    2,
		Session:          domain.NewYorkSession(),
		IgnoreHours:      true,
	}, bots, service.NewDataCache(reader, 4), ledger, values, NewStaticUniverse(universe), stream, nil)
	return &fixture{runner: r, ledger: ledger, values: values, stream: stream}
}

func TestPlan(t *testing.T) {
	f := newFixture(t, nil, []string{"AAPL"})
	p := domain.NewPortfolio("bot", decimal.NewFromInt(10_000))
	p.Holdings["MSFT"] = 3
	p.Holdings["TSLA"] = 5

	signals := strategy.Signals{
		"AAPL": domain.ActionBuy,
		"AMD":  domain.ActionSell,
		"MSFT": domain.ActionBuy,
		"NVDA": domain.ActionBuy,
		"TSLA": domain.ActionSell,
		"ZZZ":  domain.ActionBuy,
	}
	prices := map[string]float64{"AAPL": 100, "MSFT": 10, "TSLA": 20, "ZZZ": 50}

	txs := f.runner.Plan(p, 0, signals, prices, time.Now())
	require.Len(t, txs, 3)

	assert.Equal(t, "AAPL", txs[0].Ticker)
	assert.Equal(t, 10.0, txs[0].Quantity)
	assert.False(t, txs[0].AllowAdd)

	assert.Equal(t, "TSLA", txs[1].Ticker)
	assert.Equal(t, domain.ActionSell, txs[1].Action)
	assert.Equal(t, 5.0, txs[1].Quantity)
	assert.True(t, txs[1].Price.Decimal.Equal(decimal.NewFromInt(20)))

	// cash already committed to AAPL is not spent twice
	assert.Equal(t, "ZZZ", txs[2].Ticker)
	assert.Equal(t, 18.0, txs[2].Quantity)
}

func TestPlan_NoBuysNearClose(t *testing.T) {
	f := newFixture(t, nil, []string{"AAPL"})
	f.runner.cfg.IgnoreHours = false
	p := domain.NewPortfolio("bot", decimal.NewFromInt(10_000))
	p.Holdings["TSLA"] = 1

	ny := f.runner.cfg.Session.Location
	late := time.Date(2026, 10, 15, 15, 55, 0, 0, ny)
	signals := strategy.Signals{"AAPL": domain.ActionBuy, "TSLA": domain.ActionSell}
	prices := map[string]float64{"AAPL": 100, "TSLA": 20}

	txs := f.runner.Plan(p, 0.5, signals, prices, late)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.ActionSell, txs[0].Action)

	early := time.Date(2026, 10, 15, 11, 0, 0, 0, ny)
	assert.Len(t, f.runner.Plan(p, 0.5, signals, prices, early), 2)
}

func TestPlan_UnusableInputs(t *testing.T) {
	f := newFixture(t, nil, []string{"AAPL"})
	p := domain.NewPortfolio("bot", decimal.NewFromInt(10_000))
	p.Holdings["TSLA"] = 4

	signals := strategy.Signals{"AAPL": domain.ActionBuy, "NVDA": domain.ActionBuy, "TSLA": domain.ActionSell}
	prices := map[string]float64{"AAPL": 100, "NVDA": math.Inf(1), "TSLA": math.NaN()}

	txs := f.runner.Plan(p, math.NaN(), signals, prices, time.Now())
	require.Len(t, txs, 2)
	assert.Equal(t, "AAPL", txs[0].Ticker)
	assert.Equal(t, 10.0, txs[0].Quantity, "NaN risk falls back to the default")
	assert.Equal(t, "TSLA", txs[1].Ticker)
	assert.False(t, txs[1].Price.Valid, "unpriced sells are left to the ledger lookup")
}

func TestRunCycle_TradesAndRecordsValue(t *testing.T) {
	s := &stubStrategy{period: 2, signals: strategy.Signals{"AAPL": domain.ActionBuy}}
	bot := &Bot{Name: "stub_bot", Strategy: s, Risk: 0.5}
	f := newFixture(t, tableReader{"AAPL": closes(90, 100, 100)}, []string{"AAPL", "MSFT"}, bot)
	now := time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)
	f.runner.now = func() time.Time { return now }

	f.runner.RunCycle(context.Background())

	assert.EqualValues(t, 1, s.calls.Load())
	p, err := f.ledger.Portfolio("stub_bot")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"AAPL": 500}, p.Holdings)
	assert.Equal(t, "50000", p.FreeCash.String())

	// second cycle: already held, nothing more is bought
	f.runner.RunCycle(context.Background())
	p, _ = f.ledger.Portfolio("stub_bot")
	assert.Equal(t, int64(500), p.Holdings["AAPL"])

	assert.Equal(t, []string{
		"TIMESTAMP,BOT,VALUE",
		"2026-10-15 14:00:00,stub_bot,100000.00",
		"2026-10-15 14:00:00,stub_bot,100000.00",
	}, readLines(t, f.values.Path(now)))
}

func TestRunCycle_SkipsBotWithShortWindow(t *testing.T) {
	short := &stubStrategy{period: 5, signals: strategy.Signals{"AAPL": domain.ActionBuy}}
	ok := &stubStrategy{period: 2}
	f := newFixture(t, tableReader{"AAPL": closes(1, 2, 3)}, []string{"AAPL"},
		&Bot{Name: "short", Strategy: short}, &Bot{Name: "ok", Strategy: ok})

	f.runner.RunCycle(context.Background())

	assert.Zero(t, short.calls.Load())
	assert.EqualValues(t, 1, ok.calls.Load())
	p, _ := f.ledger.Portfolio("short")
	assert.Empty(t, p.Holdings)
}

func TestRefreshUniverse_RestartsStreamOnlyOnChange(t *testing.T) {
	bot := &Bot{Name: "b", Strategy: &stubStrategy{period: 1}}
	f := newFixture(t, nil, []string{"msft", "AAPL", "AAPL"}, bot)
	ctx := context.Background()

	require.NoError(t, f.runner.refreshUniverse(ctx))
	require.NoError(t, f.runner.refreshUniverse(ctx))
	assert.Equal(t, [][]string{{"AAPL", "MSFT"}}, f.stream.starts)
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.runner.Universe())

	// held tickers stay monitored after they leave the universe
	require.Equal(t, domain.OutcomeSuccess, f.ledger.ApplyBatch(ctx, "b", []domain.Transaction{
		domain.Transaction{Ticker: "NVDA", Action: domain.ActionBuy, Quantity: 1}.WithPrice(10)})[0])
	require.NoError(t, f.runner.refreshUniverse(ctx))
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, f.stream.Tickers())
}

func TestRefreshUniverse_EmptyUniverse(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.ErrorIs(t, f.runner.refreshUniverse(context.Background()), domain.ErrNoTickers)
	assert.Empty(t, f.stream.starts)
}

func TestLiquidate(t *testing.T) {
	bot := &Bot{Name: "b", Strategy: &stubStrategy{period: 1}}
	f := newFixture(t, tableReader{"AAPL": closes(12)}, []string{"AAPL"}, bot)
	ctx := context.Background()
	f.ledger.ApplyBatch(ctx, "b", []domain.Transaction{
		domain.Transaction{Ticker: "AAPL", Action: domain.ActionBuy, Quantity: 10}.WithPrice(10),
	})
	f.runner.cache.Retrieve(ctx, []string{"AAPL"}, 1)

	f.runner.Liquidate(ctx)

	p, err := f.ledger.Portfolio("b")
	require.NoError(t, err)
	assert.Empty(t, p.Holdings)
	assert.Equal(t, "100020", p.FreeCash.String())
}

func TestRun_ExitsWhenMarketStaysClosed(t *testing.T) {
	bot := &Bot{Name: "b", Strategy: &stubStrategy{period: 1}}
	f := newFixture(t, nil, []string{"AAPL"}, bot)
	f.runner.cfg.IgnoreHours = false
	f.runner.cfg.OpenWait = 0
	saturday := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	f.runner.now = func() time.Time { return saturday }

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not give up on a closed market")
	}
	assert.Empty(t, f.stream.starts)
}

func TestRun_StopsOnCancel(t *testing.T) {
	bot := &Bot{Name: "b", Strategy: &stubStrategy{period: 1}}
	f := newFixture(t, nil, []string{"AAPL"}, bot)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.stream.Tickers()) > 0 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner ignored cancellation")
	}
}

func TestStaticUniverse(t *testing.T) {
	u := NewStaticUniverse([]string{" tsla", "AAPL", "", "aapl"})
	got, err := u.Tickers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, got)

	got[0] = "X"
	again, _ := u.Tickers(context.Background())
	assert.Equal(t, "AAPL", again[0], "callers get a copy")
}
