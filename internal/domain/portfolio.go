package domain

import (
	"maps"
	"sort"

	"github.com/shopspring/decimal"
)

// Portfolio is the in-memory snapshot of a bot's cash and holdings.
// Holdings never contain zero or negative counts.
type Portfolio struct {
	Name     string
	FreeCash decimal.Decimal
	Holdings map[string]int64
}

// NewPortfolio creates an empty portfolio funded with cash.
func NewPortfolio(name string, cash decimal.Decimal) *Portfolio {
	return &Portfolio{Name: name, FreeCash: cash, Holdings: make(map[string]int64)}
}

// Clone returns a deep copy.
func (p *Portfolio) Clone() *Portfolio {
	c := &Portfolio{Name: p.Name, FreeCash: p.FreeCash, Holdings: make(map[string]int64, len(p.Holdings))}
	maps.Copy(c.Holdings, p.Holdings)
	return c
}

// Shares returns the owned count for ticker, 0 when not held.
func (p *Portfolio) Shares(ticker string) int64 {
	return p.Holdings[ticker]
}

// Tickers returns the held tickers in sorted order.
func (p *Portfolio) Tickers() []string {
	out := make([]string, 0, len(p.Holdings))
	for t, n := range p.Holdings {
		if n > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Value returns cash plus holdings marked at prices. Tickers without a price are
// skipped and returned in missing.
func (p *Portfolio) Value(prices map[string]decimal.Decimal) (total decimal.Decimal, missing []string) {
	total = p.FreeCash
	for _, t := range p.Tickers() {
		price, ok := prices[t]
		if !ok {
			missing = append(missing, t)
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(p.Holdings[t])))
	}
	return total, missing
}

// ToRecord converts the snapshot to its persisted form.
func (p *Portfolio) ToRecord() *PortfolioRecord {
	rec := &PortfolioRecord{Name: p.Name, FreeCash: p.FreeCash}
	for _, t := range p.Tickers() {
		rec.Holdings = append(rec.Holdings, HoldingRecord{Portfolio: p.Name, Ticker: t, Shares: p.Holdings[t]})
	}
	return rec
}

// PortfolioFromRecord rebuilds a snapshot from storage, dropping empty holdings.
func PortfolioFromRecord(rec *PortfolioRecord) *Portfolio {
	p := NewPortfolio(rec.Name, rec.FreeCash)
	for _, h := range rec.Holdings {
		if h.Shares > 0 {
			p.Holdings[h.Ticker] = h.Shares
		}
	}
	return p
}
