package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ValueHeader is the first row of every daily portfolio valuation log.
var ValueHeader = []string{"TIMESTAMP", "BOT", "VALUE"}

// ValueLog records one total portfolio value per bot run in portfolio-values-YYYY-MM-DD.csv.
type ValueLog struct {
	mu   sync.Mutex
	file *dailyCSV
}

func NewValueLog(dir string, loc *time.Location) *ValueLog {
	return &ValueLog{file: newDailyCSV(dir, "portfolio-values", ValueHeader, loc)}
}

// Record appends a row stamped at at.
func (l *ValueLog) Record(at time.Time, bot string, value decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.write(at, []string{at.In(l.file.loc).Format(txTimeLayout), bot, value.StringFixed(2)})
}

// Path returns the file that rows stamped at t are written to.
func (l *ValueLog) Path(t time.Time) string {
	return l.file.path(t)
}

func (l *ValueLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.close()
}
