package domain

// Outcome is the per-transaction result code returned by the ledger.
// Numeric values are stable; they appear in logs and metrics.
type Outcome int

const (
	OutcomeSuccess             Outcome = 0
	OutcomeInvalidTicker       Outcome = 1
	OutcomeInvalidAmount       Outcome = 2
	OutcomePortfolioNoExist    Outcome = 3
	OutcomeBuyError            Outcome = 4
	OutcomeHistoryNoExist      Outcome = 5
	OutcomeInsufficientAmount  Outcome = 6
	OutcomeStorageError        Outcome = 7
	OutcomeNoShares            Outcome = 8
	OutcomeAddSharesNotAllowed Outcome = 9
	OutcomePriceUnavailable    Outcome = 10
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:             "SUCCESS",
	OutcomeInvalidTicker:       "INVALID_TICKER",
	OutcomeInvalidAmount:       "INVALID_AMOUNT",
	OutcomePortfolioNoExist:    "PORTFOLIO_NOEXIST",
	OutcomeBuyError:            "BUYERROR",
	OutcomeHistoryNoExist:      "HISTORY_NOEXIST",
	OutcomeInsufficientAmount:  "INSUFFICIENT_AMOUNT",
	OutcomeStorageError:        "STORAGE_ERROR",
	OutcomeNoShares:            "NO_SHARES",
	OutcomeAddSharesNotAllowed: "ADD_SHARES_NOT_ALLOWED",
	OutcomePriceUnavailable:    "PRICE_UNAVAILABLE",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// OK reports whether the transaction was applied.
func (o Outcome) OK() bool {
	return o == OutcomeSuccess
}

// Repeat returns n copies of o. Used when a whole batch fails the same way.
func (o Outcome) Repeat(n int) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}
