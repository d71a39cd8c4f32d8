package execution

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PortfolioStore loads and persists portfolios.
type PortfolioStore interface {
	CreatePortfolio(p *domain.Portfolio) error
	LoadPortfolio(name string) (*domain.Portfolio, error)
	SavePortfolio(p *domain.Portfolio) error
}

// Ledger applies trades to bot portfolios. Batches on the same portfolio are serialized.
type Ledger struct {
	store   PortfolioStore
	prices  domain.PriceLookup
	txlog   *TxLog
	metrics *infra.Metrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger. prices and txlog may be nil.
func NewLedger(store PortfolioStore, prices domain.PriceLookup, txlog *TxLog, metrics *infra.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		prices:  prices,
		txlog:   txlog,
		metrics: metrics,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lock(bot string) func() {
	l.mu.Lock()
	m, ok := l.locks[bot]
	if !ok {
		m = &sync.Mutex{}
		l.locks[bot] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ApplyBatch applies txs in order against one snapshot of bot's portfolio and
// persists it once if anything changed. It returns one outcome per transaction.
func (l *Ledger) ApplyBatch(ctx context.Context, bot string, txs []domain.Transaction) []domain.Outcome {
	if len(txs) == 0 {
		return nil
	}
	unlock := l.lock(bot)
	defer unlock()

	batchID := uuid.NewString()
	p, err := l.store.LoadPortfolio(bot)
	if err != nil {
		code := domain.OutcomeStorageError
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			code = domain.OutcomePortfolioNoExist
		}
		slog.WarnContext(ctx, "Batch rejected", slog.String("bot", bot), slog.String("batch", batchID), slog.String("outcome", code.String()), slog.Any("error", err))
		return l.record(code.Repeat(len(txs)))
	}

	outcomes := make([]domain.Outcome, len(txs))
	pending := make([]Record, 0, len(txs))
	for i, tx := range txs {
		rec, code := l.apply(p, tx)
		outcomes[i] = code
		if code.OK() {
			rec.Bot = bot
			pending = append(pending, rec)
		}
	}

	if len(pending) == 0 {
		return l.record(outcomes)
	}
	if err := l.store.SavePortfolio(p); err != nil {
		slog.ErrorContext(ctx, "Failed to persist portfolio", slog.String("bot", bot), slog.String("batch", batchID), slog.Any("error", err))
		return l.record(domain.OutcomeStorageError.Repeat(len(txs)))
	}

	for _, rec := range pending {
		l.txlog.Append(rec)
		slog.InfoContext(ctx, "💸 Trade applied",
			slog.String("bot", bot),
			slog.String("batch", batchID),
			slog.String("action", string(rec.Action)),
			slog.String("ticker", rec.Ticker),
			slog.Int64("amount", rec.Amount),
			slog.String("price", rec.Price.String()),
		)
	}
	return l.record(outcomes)
}

func (l *Ledger) record(outcomes []domain.Outcome) []domain.Outcome {
	for _, o := range outcomes {
		l.metrics.RecordOutcome(o)
	}
	return outcomes
}

// apply mutates p for one transaction. p is untouched unless the outcome is SUCCESS.
func (l *Ledger) apply(p *domain.Portfolio, tx domain.Transaction) (Record, domain.Outcome) {
	if _, err := domain.LogFileName(tx.Ticker); err != nil {
		return Record{}, domain.OutcomeInvalidTicker
	}
	if !tx.Action.Valid() {
		return Record{}, domain.OutcomeBuyError
	}
	if math.IsNaN(tx.Quantity) || math.IsInf(tx.Quantity, 0) {
		return Record{}, domain.OutcomeInvalidAmount
	}
	qty := int64(math.Floor(tx.Quantity))
	if qty <= 0 {
		return Record{}, domain.OutcomeInvalidAmount
	}
	price, code := l.resolvePrice(tx)
	if !code.OK() {
		return Record{}, code
	}

	rec := Record{Time: l.now(), Ticker: tx.Ticker, Action: tx.Action, Price: price}
	switch tx.Action {
	case domain.ActionBuy:
		cost := price.Mul(decimal.NewFromInt(qty))
		if cost.GreaterThan(p.FreeCash) {
			return Record{}, domain.OutcomeInsufficientAmount
		}
		if p.Shares(tx.Ticker) > 0 && !tx.AllowAdd {
			return Record{}, domain.OutcomeAddSharesNotAllowed
		}
		p.FreeCash = p.FreeCash.Sub(cost)
		p.Holdings[tx.Ticker] += qty
		rec.Amount, rec.Total = qty, cost

	case domain.ActionSell:
		owned := p.Shares(tx.Ticker)
		if owned <= 0 {
			return Record{}, domain.OutcomeNoShares
		}
		n := min(qty, owned)
		proceeds := price.Mul(decimal.NewFromInt(n))
		p.FreeCash = p.FreeCash.Add(proceeds)
		if owned == n {
			delete(p.Holdings, tx.Ticker)
		} else {
			p.Holdings[tx.Ticker] = owned - n
		}
		rec.Amount, rec.Total = n, proceeds
	}
	return rec, domain.OutcomeSuccess
}

func (l *Ledger) resolvePrice(tx domain.Transaction) (decimal.Decimal, domain.Outcome) {
	if tx.Price.Valid {
		if !tx.Price.Decimal.IsPositive() {
			return decimal.Zero, domain.OutcomePriceUnavailable
		}
		return tx.Price.Decimal, domain.OutcomeSuccess
	}
	if l.prices == nil {
		return decimal.Zero, domain.OutcomePriceUnavailable
	}
	v, err := l.prices.LastPrice(tx.Ticker)
	switch {
	case errors.Is(err, domain.ErrNoLog), errors.Is(err, domain.ErrNoPriceHistory):
		return decimal.Zero, domain.OutcomeHistoryNoExist
	case err != nil, !usablePrice(v):
		return decimal.Zero, domain.OutcomePriceUnavailable
	}
	return decimal.NewFromFloat(v), domain.OutcomeSuccess
}

// Buy applies a single purchase.
func (l *Ledger) Buy(ctx context.Context, bot, ticker string, qty float64, allowAdd bool) domain.Outcome {
	return l.ApplyBatch(ctx, bot, []domain.Transaction{{Ticker: ticker, Action: domain.ActionBuy, Quantity: qty, AllowAdd: allowAdd}})[0]
}

// Sell applies a single sale.
func (l *Ledger) Sell(ctx context.Context, bot, ticker string, qty float64) domain.Outcome {
	return l.ApplyBatch(ctx, bot, []domain.Transaction{{Ticker: ticker, Action: domain.ActionSell, Quantity: qty}})[0]
}

// EnsurePortfolio creates bot's portfolio funded with cash unless it exists. It reports whether it was created.
func (l *Ledger) EnsurePortfolio(bot string, cash decimal.Decimal) (bool, error) {
	unlock := l.lock(bot)
	defer unlock()

	_, err := l.store.LoadPortfolio(bot)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrPortfolioNotFound) {
		return false, err
	}
	if err := l.store.CreatePortfolio(domain.NewPortfolio(bot, cash)); err != nil {
		return false, err
	}
	slog.Info("✅ Portfolio created", slog.String("bot", bot), slog.String("cash", cash.String()))
	return true, nil
}

// Portfolio returns a snapshot of bot's portfolio.
func (l *Ledger) Portfolio(bot string) (*domain.Portfolio, error) {
	unlock := l.lock(bot)
	defer unlock()
	return l.store.LoadPortfolio(bot)
}

// Holdings returns bot's share counts.
func (l *Ledger) Holdings(bot string) (map[string]int64, error) {
	p, err := l.Portfolio(bot)
	if err != nil {
		return nil, err
	}
	return p.Holdings, nil
}

// Value marks bot's portfolio to market. Prices come from prices first and the
// price lookup second. Tickers with no price at all are returned in missing.
func (l *Ledger) Value(bot string, prices map[string]float64) (total decimal.Decimal, missing []string, err error) {
	p, err := l.Portfolio(bot)
	if err != nil {
		return decimal.Zero, nil, err
	}
	marks := make(map[string]decimal.Decimal, len(p.Holdings))
	for _, t := range p.Tickers() {
		if v, ok := prices[t]; ok && usablePrice(v) {
			marks[t] = decimal.NewFromFloat(v)
			continue
		}
		if l.prices == nil {
			continue
		}
		if v, err := l.prices.LastPrice(t); err == nil && usablePrice(v) {
			marks[t] = decimal.NewFromFloat(v)
		}
	}
	total, missing = p.Value(marks)
	return total, missing, nil
}

func usablePrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
