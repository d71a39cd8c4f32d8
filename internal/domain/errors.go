package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "subscribe", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InsufficientDataError reports that a ticker window is shorter than a strategy's warm-up.
type InsufficientDataError struct {
	Required int
	Actual   int
	Ticker   string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d bars, have %d", e.Ticker, e.Required, e.Actual)
}

var (
	// ErrNoTickers is returned when streaming is started with an empty ticker set. Not retriable.
	ErrNoTickers = errors.New("no tickers to monitor")

	// ErrInvalidTicker is returned for ticker ids that cannot name a log file
	ErrInvalidTicker = errors.New("invalid ticker")

	// ErrNoLog is returned when a ticker has no append log on disk
	ErrNoLog = errors.New("append log not found")

	// ErrNoPriceHistory is returned when an append log holds no data rows
	ErrNoPriceHistory = errors.New("no price history")

	// ErrPriceUnavailable is returned when no usable price can be resolved for a ticker
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrPortfolioNotFound is returned when a bot's portfolio does not exist
	ErrPortfolioNotFound = errors.New("portfolio not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
