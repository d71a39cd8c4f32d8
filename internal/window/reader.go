package window

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"
)

// DefaultInitialChunk is the first tail read size in bytes.
const DefaultInitialChunk = 8 * 1024

// Reader rebuilds minute bars from the tail of a ticker's append log.
// It opens logs read-only and never coordinates with the writer.
type Reader struct {
	dir          string
	loc          *time.Location
	initialChunk int64
	now          func() time.Time
	metrics      *infra.Metrics
}

// NewReader creates a reader over the price directory. Row times are
// anchored to the current date in loc.
func NewReader(dir string, loc *time.Location, initialChunk int, metrics *infra.Metrics) *Reader {
	if loc == nil {
		loc = time.Local
	}
	if initialChunk <= 0 {
		initialChunk = DefaultInitialChunk
	}
	return &Reader{dir: dir, loc: loc, initialChunk: int64(initialChunk), now: time.Now, metrics: metrics}
}

// row is one parsed log line. Price and CumVolume are NaN when not numeric.
type row struct {
	t         time.Time
	price     float64
	cumVolume float64
}

// ReadWindow returns at least lengthMinutes of bars ending at the newest row
// when the log is long enough. It returns domain.ErrNoLog when the ticker has no log.
func (r *Reader) ReadWindow(ticker string, lengthMinutes int) (*Table, error) {
	rows, err := r.tailRows(ticker, time.Duration(lengthMinutes)*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrNoLog) {
			r.metrics.RecordWindowRead("absent")
		} else {
			r.metrics.RecordWindowRead("error")
		}
		return nil, err
	}
	r.metrics.RecordWindowRead("ok")
	return &Table{Ticker: ticker, Bars: Resample(rows)}, nil
}

func (r *Reader) open(ticker string) (*os.File, int64, error) {
	name, err := domain.LogFileName(ticker)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", domain.ErrNoLog, ticker)
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// tailRows expands the tail read exponentially until the rows span span
// or the whole file has been read.
func (r *Reader) tailRows(ticker string, span time.Duration) ([]row, error) {
	f, size, err := r.open(ticker)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	day := r.day()
	chunk := r.initialChunk
	for {
		offset := max(0, size-chunk)
		data, err := readAt(f, offset, size-offset)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ticker, err)
		}

		rows := parseRows(data, offset > 0, day)
		if len(rows) == 0 {
			if offset == 0 {
				return nil, nil
			}
			chunk *= 2
			continue
		}

		earliestNeeded := rows[len(rows)-1].t.Add(-span)
		if !rows[0].t.After(earliestNeeded) || offset == 0 {
			return rows, nil
		}
		chunk *= 2
	}
}

func (r *Reader) day() time.Time {
	y, m, d := r.now().In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func readAt(f *os.File, offset, n int64) ([]byte, error) {
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// parseRows decodes log lines. When the chunk starts mid-file the first line
// may be truncated and is skipped. An unterminated last line is still being
// written and is skipped too. Lines whose TIME does not parse are dropped.
func parseRows(data []byte, midFile bool, day time.Time) []row {
	if midFile {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 && i < len(data)-1 {
		data = data[:i+1]
	}

	var rows []row
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if rw, ok := parseRow(bytes.TrimRight(line, "\r"), day); ok {
			rows = append(rows, rw)
		}
	}
	return rows
}

func parseRow(line []byte, day time.Time) (row, bool) {
	fields := bytes.Split(line, []byte{','})
	if len(fields) == 0 {
		return row{}, false
	}
	clock, err := time.Parse(domain.LogTimeLayout, string(fields[0]))
	if err != nil {
		return row{}, false
	}
	rw := row{
		t:         day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute + time.Duration(clock.Second())*time.Second),
		price:     math.NaN(),
		cumVolume: math.NaN(),
	}
	if len(fields) > 1 {
		rw.price = parseNumber(fields[1])
	}
	if len(fields) > 4 {
		rw.cumVolume = parseNumber(fields[4])
	}
	return rw, true
}

func parseNumber(b []byte) float64 {
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(b)), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// LastPrice returns the price of the newest valid row in the ticker's log.
// It implements domain.PriceLookup.
func (r *Reader) LastPrice(ticker string) (float64, error) {
	f, size, err := r.open(ticker)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	day := r.day()
	chunk := int64(512)
	for {
		offset := max(0, size-chunk)
		data, err := readAt(f, offset, size-offset)
		if err != nil {
			return 0, err
		}
		rows := parseRows(data, offset > 0, day)
		for i := len(rows) - 1; i >= 0; i-- {
			if !math.IsNaN(rows[i].price) && rows[i].price > 0 {
				return rows[i].price, nil
			}
		}
		if offset == 0 {
			return 0, fmt.Errorf("%w: %s", domain.ErrNoPriceHistory, ticker)
		}
		chunk *= 2
	}
}
