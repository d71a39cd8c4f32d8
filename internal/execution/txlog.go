package execution

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"stock_bot/internal/domain"

	"github.com/shopspring/decimal"
)

// TxHeader is the first row of every daily transaction log.
var TxHeader = []string{"TIMESTAMP", "BOT", "TICKER", "ACTION", "AMOUNT", "PRICE", "TOTAL"}

const txTimeLayout = "2006-01-02 15:04:05"

// Record is one applied trade.
type Record struct {
	Time   time.Time
	Bot    string
	Ticker string
	Action domain.Action
	Amount int64
	Price  decimal.Decimal
	Total  decimal.Decimal
}

func (r Record) row(loc *time.Location) []string {
	return []string{
		r.Time.In(loc).Format(txTimeLayout),
		r.Bot,
		r.Ticker,
		string(r.Action),
		strconv.FormatInt(r.Amount, 10),
		r.Price.String(),
		r.Total.String(),
	}
}

// TxLog appends trade records to transactions-YYYY-MM-DD.csv from a single goroutine.
type TxLog struct {
	file    *dailyCSV
	records chan Record
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewTxLog starts the log writer. buffer bounds the number of records waiting to be written.
func NewTxLog(dir string, loc *time.Location, buffer int) *TxLog {
	if buffer <= 0 {
		buffer = 256
	}
	l := &TxLog{
		file:    newDailyCSV(dir, "transactions", TxHeader, loc),
		records: make(chan Record, buffer),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *TxLog) run() {
	defer close(l.done)
	defer l.file.close()
	for r := range l.records {
		if err := l.file.write(r.Time, r.row(l.file.loc)); err != nil {
			slog.Error("Failed to write transaction log", slog.String("bot", r.Bot), slog.String("ticker", r.Ticker), slog.Any("error", err))
		}
	}
}

// Append queues r. It returns false once the log is closed.
func (l *TxLog) Append(r Record) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.records <- r
	return true
}

// Path returns the file that rows stamped at t are written to.
func (l *TxLog) Path(t time.Time) string {
	return l.file.path(t)
}

// Close writes every queued record and closes the file.
func (l *TxLog) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.records)
	}
	l.mu.Unlock()
	<-l.done
}
