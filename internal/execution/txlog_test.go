package execution

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stock_bot/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestTxLog_RotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	l := NewTxLog(dir, time.UTC, 1)

	late := time.Date(2026, 10, 15, 23, 59, 59, 0, time.UTC)
	early := late.Add(2 * time.Second)
	rec := Record{Bot: "b", Ticker: "AAPL", Action: domain.ActionBuy, Amount: 1, Price: decimal.NewFromInt(2), Total: decimal.NewFromInt(2)}
	for _, at := range []time.Time{late, late, early} {
		rec.Time = at
		require.True(t, l.Append(rec))
	}
	l.Close()
	assert.False(t, l.Append(rec), "closed logs refuse records")
	l.Close()

	assert.Len(t, readCSV(t, filepath.Join(dir, "transactions-2026-10-15.csv")), 3)
	assert.Equal(t, []string{
		"TIMESTAMP,BOT,TICKER,ACTION,AMOUNT,PRICE,TOTAL",
		"2026-10-16 00:00:01,b,AAPL,BUY,1,2,2",
	}, readCSV(t, filepath.Join(dir, "transactions-2026-10-16.csv")))
}

func TestTxLog_AppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	rec := Record{Time: at, Bot: "b", Ticker: "T", Action: domain.ActionSell, Amount: 1, Price: decimal.NewFromInt(1), Total: decimal.NewFromInt(1)}

	for range 2 {
		l := NewTxLog(dir, time.UTC, 0)
		l.Append(rec)
		l.Close()
	}
	lines := readCSV(t, filepath.Join(dir, "transactions-2026-10-15.csv"))
	assert.Len(t, lines, 3, "header is written once")
}

func TestNilTxLog(t *testing.T) {
	var l *TxLog
	assert.False(t, l.Append(Record{}))
	l.Close()
}

func TestValueLog(t *testing.T) {
	dir := t.TempDir()
	l := NewValueLog(dir, time.UTC)
	defer l.Close()

	at := time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(at, "rsi_bot", decimal.RequireFromString("100123.456")))
	require.NoError(t, l.Record(at.Add(time.Minute), "cci_bot", decimal.NewFromInt(99000)))

	assert.Equal(t, []string{
		"TIMESTAMP,BOT,VALUE",
		"2026-10-15 15:00:00,rsi_bot,100123.46",
		"2026-10-15 15:01:00,cci_bot,99000.00",
	}, readCSV(t, l.Path(at)))
}
