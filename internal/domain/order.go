package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Action is the trade direction of a signal or transaction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Transaction is one requested trade inside a ledger batch.
// Quantity is floored to whole shares before validation.
// When Price is not valid the ledger resolves it through its PriceLookup.
type Transaction struct {
	Ticker   string
	Action   Action
	Quantity float64
	Price    decimal.NullDecimal
	AllowAdd bool
}

// WithPrice returns a copy of t carrying a caller-supplied price.
// NaN and infinite prices are kept as a zero price, which the ledger rejects.
func (t Transaction) WithPrice(p float64) Transaction {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		t.Price = decimal.NullDecimal{Valid: true}
		return t
	}
	t.Price = decimal.NewNullDecimal(decimal.NewFromFloat(p))
	return t
}
