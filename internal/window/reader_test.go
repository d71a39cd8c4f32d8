package window

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stock_bot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "TIME,PRICE,CHANGE_PERCENT,CHANGE,CUM_VOLUME\n"

var testDay = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

func newTestReader(t *testing.T, chunk int) (*Reader, string) {
	t.Helper()
	dir := t.TempDir()
	r := NewReader(dir, time.UTC, chunk, nil)
	r.now = func() time.Time { return testDay.Add(20 * time.Hour) }
	return r, dir
}

func writeLog(t *testing.T, dir, ticker, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ticker+".csv"), []byte(body), 0644))
}

func at(hh, mm int) time.Time {
	return testDay.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func TestReadWindow_Absent(t *testing.T) {
	r, _ := newTestReader(t, 0)
	table, err := r.ReadWindow("AAPL", 10)
	assert.ErrorIs(t, err, domain.ErrNoLog)
	assert.Nil(t, table)
}

func TestReadWindow_HeaderOnlyIsEmpty(t *testing.T) {
	r, dir := newTestReader(t, 0)
	writeLog(t, dir, "AAPL", header)

	table, err := r.ReadWindow("AAPL", 10)
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.True(t, table.Empty())
}

func TestReadWindow_MinuteOHLCV(t *testing.T) {
	r, dir := newTestReader(t, 0)
	writeLog(t, dir, "AAPL", header+
		"14:30:05,10,0,0,100\n"+
		"14:30:40,12,0,0,150\n"+
		"14:30:59,9,0,0,160\n"+
		"14:31:10,11,0,0,200\n"+
		"14:33:00,13,0,0,260\n")

	table, err := r.ReadWindow("AAPL", 10)
	require.NoError(t, err)

	want := []Bar{
		{Time: at(14, 30), Open: 10, High: 12, Low: 9, Close: 9, Volume: 0},
		{Time: at(14, 31), Open: 11, High: 11, Low: 11, Close: 11, Volume: 40},
		{Time: at(14, 32), Open: 11, High: 11, Low: 11, Close: 11, Volume: 0},
		{Time: at(14, 33), Open: 13, High: 13, Low: 13, Close: 13, Volume: 60},
	}
	assert.Equal(t, want, table.Bars)

	sum := 0.0
	for _, v := range table.Volumes() {
		sum += v
	}
	assert.Equal(t, 260.0-160.0, sum)
}

func TestReadWindow_DropsMalformedRows(t *testing.T) {
	r, dir := newTestReader(t, 0)
	writeLog(t, dir, "AAPL", header+
		"garbage\n"+
		"14:30:00,10,0,0,100\n"+
		"25:99:99,50,0,0,100\n"+
		"14:30:30,abc,0,0,x\n"+
		"\n"+
		"14:31:00,11,0,0,120\n")

	table, err := r.ReadWindow("AAPL", 10)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, 10.0, table.Bars[0].High)
	assert.Equal(t, 11.0, table.Last().Close)
	assert.Equal(t, 20.0, table.Last().Volume)
}

func TestReadWindow_IgnoresUnterminatedTail(t *testing.T) {
	r, dir := newTestReader(t, 0)
	writeLog(t, dir, "AAPL", header+"14:30:00,10,0,0,100\n14:31:00,1")

	table, err := r.ReadWindow("AAPL", 10)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, 10.0, table.Last().Close)
}

func minuteLog(n int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := range n {
		ts := at(10, 0).Add(time.Duration(i) * time.Minute)
		fmt.Fprintf(&b, "%s,%d,0,0,%d\n", ts.Format(domain.LogTimeLayout), 100+i, i*10)
	}
	return b.String()
}

func TestReadWindow_ExpandsTailUntilCovered(t *testing.T) {
	r, dir := newTestReader(t, 64)
	writeLog(t, dir, "AAPL", minuteLog(120))

	table, err := r.ReadWindow("AAPL", 30)
	require.NoError(t, err)
	require.GreaterOrEqual(t, table.Len(), 31)
	assert.Less(t, table.Len(), 120, "the whole file is not needed")
	first, last := table.Bars[0].Time, table.Last().Time
	assert.False(t, first.After(last.Add(-30*time.Minute)))
	assert.Equal(t, 219.0, table.Last().Close)
}

func TestReadWindow_ShortLogReturnsEverything(t *testing.T) {
	r, dir := newTestReader(t, 64)
	writeLog(t, dir, "AAPL", minuteLog(120))

	table, err := r.ReadWindow("AAPL", 1000)
	require.NoError(t, err)
	assert.Equal(t, 120, table.Len())
	assert.Equal(t, at(10, 0), table.Bars[0].Time)
}

func TestReadWindow_Idempotent(t *testing.T) {
	r, dir := newTestReader(t, 128)
	writeLog(t, dir, "AAPL", minuteLog(90))

	a, err := r.ReadWindow("AAPL", 45)
	require.NoError(t, err)
	b, err := r.ReadWindow("AAPL", 45)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReadWindow_InvalidTicker(t *testing.T) {
	r, _ := newTestReader(t, 0)
	_, err := r.ReadWindow("../etc/passwd", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTicker)
}

func TestLastPrice(t *testing.T) {
	r, dir := newTestReader(t, 0)
	writeLog(t, dir, "AAPL", minuteLog(300)+"15:00:00,nan-ish,0,0,0\n")
	writeLog(t, dir, "EMPTY", header)

	price, err := r.LastPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 399.0, price)

	_, err = r.LastPrice("EMPTY")
	assert.ErrorIs(t, err, domain.ErrNoPriceHistory)

	_, err = r.LastPrice("MISSING")
	assert.ErrorIs(t, err, domain.ErrNoLog)
}
