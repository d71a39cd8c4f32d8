package domain

import (
	"fmt"
	"strings"
)

// Append log layout shared by the writer and the window reader.
const (
	LogTimeLayout = "15:04:05"
	LogExt        = ".csv"
)

// LogHeader is the first row of every ticker append log.
var LogHeader = []string{"TIME", "PRICE", "CHANGE_PERCENT", "CHANGE", "CUM_VOLUME"}

// LogFileName returns the append log file name for ticker.
// Tickers that could escape the price directory are rejected.
func LogFileName(ticker string) (string, error) {
	if ticker == "" || strings.HasPrefix(ticker, ".") || strings.ContainsAny(ticker, `/\`+"\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return ticker + LogExt, nil
}
