package app

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/execution"
	"stock_bot/internal/infra"
	"stock_bot/internal/service"
	"stock_bot/internal/strategy"
	"stock_bot/internal/window"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultRisk is the share of free cash a bot spends on one BUY signal.
const DefaultRisk = 0.1

// Bot is one named strategy instance trading its own portfolio.
type Bot struct {
	Name     string
	Strategy strategy.Strategy
	Risk     float64
}

// Streamer keeps the tick stream subscribed to a ticker set.
type Streamer interface {
	Start(ctx context.Context, tickers []string) error
	Stop()
	Tickers() []string
}

// RunnerConfig holds the scheduling settings.
type RunnerConfig struct {
	Interval         time.Duration
	OpenWait         time.Duration
	NoBuyBeforeClose time.Duration
	UniverseRefresh  time.Duration
	MaxConcurrent    int
	Session          domain.MarketSession
	IgnoreHours      bool
}

// Runner drives the bots once per interval while the market is open.
type Runner struct {
	cfg      RunnerConfig
	bots     []*Bot
	cache    *service.DataCache
	ledger   *execution.Ledger
	values   *execution.ValueLog
	universe domain.UniverseProvider
	stream   Streamer
	metrics  *infra.Metrics
	now      func() time.Time

	mu          sync.Mutex
	tickers     []string
	refreshedAt time.Time
}

// NewRunner creates a runner. values and stream may be nil.
func NewRunner(cfg RunnerConfig, bots []*Bot, cache *service.DataCache, ledger *execution.Ledger,
	values *execution.ValueLog, universe domain.UniverseProvider, stream Streamer, metrics *infra.Metrics) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = len(bots)
	}
	if cfg.Session.Location == nil {
		cfg.Session = domain.NewYorkSession()
	}
	return &Runner{
		cfg:      cfg,
		bots:     bots,
		cache:    cache,
		ledger:   ledger,
		values:   values,
		universe: universe,
		stream:   stream,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run waits for the open, then runs one cycle per interval boundary until ctx
// is done or the market closes. Holdings are liquidated before it returns.
func (r *Runner) Run(ctx context.Context) error {
	if !r.waitForOpen(ctx) {
		return ctx.Err()
	}
	if err := r.refreshUniverse(ctx); err != nil {
		return err
	}
	defer r.Liquidate(context.WithoutCancel(ctx))

	slog.Info("✅ Scheduler started", slog.Int("bots", len(r.bots)), slog.Duration("interval", r.cfg.Interval))
	for {
		now := r.now()
		next := now.Truncate(r.cfg.Interval).Add(r.cfg.Interval)
		if err := sleepCtx(ctx, next.Sub(now)); err != nil {
			slog.Info("Scheduler stopped")
			return nil
		}
		if !r.marketOpen(r.now()) {
			slog.Info("🔔 Market closed, stopping scheduler")
			return nil
		}
		r.RunCycle(ctx)
	}
}

// waitForOpen blocks until the market opens. It gives up after OpenWait.
func (r *Runner) waitForOpen(ctx context.Context) bool {
	deadline := r.now().Add(r.cfg.OpenWait)
	for !r.marketOpen(r.now()) {
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			slog.Info("Market is closed and does not open soon", slog.Duration("waited", r.cfg.OpenWait))
			return false
		}
		slog.Info("⏳ Waiting for market open", slog.Duration("remaining", remaining))
		if err := sleepCtx(ctx, min(remaining, r.cfg.Interval)); err != nil {
			return false
		}
	}
	return true
}

func (r *Runner) marketOpen(now time.Time) bool {
	return r.cfg.IgnoreHours || r.cfg.Session.IsOpen(now)
}

// RunCycle takes one snapshot and runs every bot against it.
func (r *Runner) RunCycle(ctx context.Context) {
	start := r.now()
	if start.Sub(r.lastRefresh()) >= r.cfg.UniverseRefresh {
		if err := r.refreshUniverse(ctx); err != nil {
			slog.Warn("Universe refresh failed", slog.Any("error", err))
		}
	}

	universe := r.Universe()
	holdings := r.holdings()
	all := universe
	for _, h := range holdings {
		all = union(all, h)
	}

	period := 1
	for _, b := range r.bots {
		period = max(period, b.Strategy.RequiredPeriod())
	}
	snapshot := r.cache.Retrieve(ctx, all, period)
	prices := r.cache.LastPrices()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrent)
	for _, b := range r.bots {
		tickers := union(universe, holdings[b.Name])
		g.Go(func() error {
			r.runBot(gctx, b, pick(snapshot, tickers), prices, start)
			return nil
		})
	}
	g.Wait()

	elapsed := r.now().Sub(start)
	r.metrics.ObserveCycle(elapsed)
	if elapsed > r.cfg.Interval {
		slog.Warn("Cycle overran its interval", slog.Duration("elapsed", elapsed), slog.Duration("interval", r.cfg.Interval))
	}
}

func (r *Runner) runBot(ctx context.Context, b *Bot, tables map[string]*window.Table, prices map[string]float64, now time.Time) {
	if len(tables) == 0 {
		return
	}
	need := b.Strategy.RequiredPeriod()
	for ticker, t := range tables {
		if t.Len() < need {
			err := &domain.InsufficientDataError{Required: need, Actual: t.Len(), Ticker: ticker}
			slog.Debug("Skipping bot", slog.String("bot", b.Name), slog.Any("error", err))
			return
		}
	}

	signals := b.Strategy.FindSignals(tables)
	for _, action := range signals {
		r.metrics.RecordSignal(b.Name, action)
	}

	p, err := r.ledger.Portfolio(b.Name)
	if err != nil {
		slog.Error("Failed to load portfolio", slog.String("bot", b.Name), slog.Any("error", err))
		return
	}

	if txs := r.Plan(p, b.Risk, signals, prices, now); len(txs) > 0 {
		outcomes := r.ledger.ApplyBatch(ctx, b.Name, txs)
		for i, o := range outcomes {
			if o.OK() || o == domain.OutcomeAddSharesNotAllowed {
				continue
			}
			slog.Warn("Transaction rejected",
				slog.String("bot", b.Name),
				slog.String("ticker", txs[i].Ticker),
				slog.String("action", string(txs[i].Action)),
				slog.String("outcome", o.String()),
			)
		}
	}

	r.recordValue(b.Name, prices, now)
}

// Plan turns signals into an ordered batch. BUYs spend risk of the remaining
// cash on tickers not yet held. SELLs close the whole position.
func (r *Runner) Plan(p *domain.Portfolio, risk float64, signals strategy.Signals, prices map[string]float64, now time.Time) []domain.Transaction {
	if !(risk > 0 && risk <= 1) {
		risk = DefaultRisk
	}
	cash := p.FreeCash
	noBuys := !r.cfg.IgnoreHours && r.cfg.Session.TimeToClose(now) < r.cfg.NoBuyBeforeClose

	var txs []domain.Transaction
	for _, ticker := range slices.Sorted(maps.Keys(signals)) {
		price, priced := prices[ticker]
		priced = priced && price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)

		switch signals[ticker] {
		case domain.ActionBuy:
			if noBuys || !priced || p.Shares(ticker) > 0 {
				continue
			}
			px := decimal.NewFromFloat(price)
			qty := cash.Mul(decimal.NewFromFloat(risk)).Div(px).Floor()
			if qty.LessThan(decimal.NewFromInt(1)) {
				continue
			}
			cash = cash.Sub(qty.Mul(px))
			txs = append(txs, domain.Transaction{Ticker: ticker, Action: domain.ActionBuy, Quantity: qty.InexactFloat64()}.WithPrice(price))

		case domain.ActionSell:
			owned := p.Shares(ticker)
			if owned <= 0 {
				continue
			}
			tx := domain.Transaction{Ticker: ticker, Action: domain.ActionSell, Quantity: float64(owned)}
			if priced {
				tx = tx.WithPrice(price)
			}
			txs = append(txs, tx)
		}
	}
	return txs
}

func (r *Runner) recordValue(bot string, prices map[string]float64, now time.Time) {
	if r.values == nil {
		return
	}
	total, missing, err := r.ledger.Value(bot, prices)
	if err != nil {
		slog.Warn("Failed to value portfolio", slog.String("bot", bot), slog.Any("error", err))
		return
	}
	if len(missing) > 0 {
		slog.Debug("Holdings without a price", slog.String("bot", bot), slog.Any("tickers", missing))
	}
	if err := r.values.Record(now, bot, total); err != nil {
		slog.Warn("Failed to record portfolio value", slog.String("bot", bot), slog.Any("error", err))
	}
}

// Liquidate sells every bot's holdings at the last known prices.
func (r *Runner) Liquidate(ctx context.Context) {
	prices := r.cache.LastPrices()
	for _, b := range r.bots {
		p, err := r.ledger.Portfolio(b.Name)
		if err != nil {
			slog.Warn("Skipping liquidation", slog.String("bot", b.Name), slog.Any("error", err))
			continue
		}
		signals := make(strategy.Signals, len(p.Holdings))
		for _, t := range p.Tickers() {
			signals[t] = domain.ActionSell
		}
		txs := r.Plan(p, b.Risk, signals, prices, r.now())
		if len(txs) == 0 {
			continue
		}
		outcomes := r.ledger.ApplyBatch(ctx, b.Name, txs)
		sold := 0
		for _, o := range outcomes {
			if o.OK() {
				sold++
			}
		}
		slog.Info("🧹 Liquidated holdings", slog.String("bot", b.Name), slog.Int("sold", sold), slog.Int("requested", len(txs)))
	}
}

// refreshUniverse reloads the ticker universe and restarts streaming when the
// monitored set changed.
func (r *Runner) refreshUniverse(ctx context.Context) error {
	tickers, err := r.universe.Tickers(ctx)
	if err != nil {
		return err
	}
	tickers = normalize(tickers)
	if len(tickers) == 0 {
		return domain.ErrNoTickers
	}

	r.mu.Lock()
	r.tickers = tickers
	r.refreshedAt = r.now()
	r.mu.Unlock()

	if r.stream == nil {
		return nil
	}
	monitored := tickers
	for _, h := range r.holdings() {
		monitored = union(monitored, h)
	}
	if slices.Equal(monitored, r.stream.Tickers()) {
		return nil
	}
	slog.Info("🔄 Ticker universe changed", slog.Int("tickers", len(monitored)))
	if err := r.stream.Start(ctx, monitored); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Universe returns the current ticker universe.
func (r *Runner) Universe() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.tickers)
}

func (r *Runner) lastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshedAt
}

// holdings returns each bot's held tickers.
func (r *Runner) holdings() map[string][]string {
	out := make(map[string][]string, len(r.bots))
	for _, b := range r.bots {
		p, err := r.ledger.Portfolio(b.Name)
		if err != nil {
			continue
		}
		out[b.Name] = p.Tickers()
	}
	return out
}

func pick(snapshot map[string]*window.Table, tickers []string) map[string]*window.Table {
	out := make(map[string]*window.Table, len(tickers))
	for _, t := range tickers {
		if table, ok := snapshot[t]; ok {
			out[t] = table
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
