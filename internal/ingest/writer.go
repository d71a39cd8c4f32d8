package ingest

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Dir         string         // price directory holding one append log per ticker
	Location    *time.Location // zone used to stamp rows
	Interval    time.Duration  // drain cadence
	ReportEvery int            // cycles between diagnostic reports, 0 disables
}

type logFile struct {
	f *os.File
	w *csv.Writer
}

// Writer drains the queue on a fixed cadence and appends one row per tick
// to the ticker's log. Open files are owned exclusively by the Writer.
type Writer struct {
	cfg     WriterConfig
	queue   *Queue
	rotator *Rotator
	metrics *infra.Metrics
	now     func() time.Time

	files  map[string]*logFile
	counts map[string]int
	cycles int
	day    string
}

// NewWriter creates a writer. rotator may be nil to disable the daily purge.
func NewWriter(cfg WriterConfig, queue *Queue, rotator *Rotator, metrics *infra.Metrics) *Writer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Writer{
		cfg:     cfg,
		queue:   queue,
		rotator: rotator,
		metrics: metrics,
		now:     time.Now,
		files:   make(map[string]*logFile),
		counts:  make(map[string]int),
	}
}

// Run drains the queue every interval until ctx is done. On stop it keeps
// draining until the queue is empty, then closes every file.
func (w *Writer) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create price dir: %w", err)
	}
	w.rollDay()
	defer w.closeAll()

	slog.Info("✅ Data writer started", slog.String("dir", w.cfg.Dir))
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for w.queue.Len() > 0 {
				w.Cycle()
			}
			slog.Info("Data writer stopped and files closed")
			return nil
		case <-ticker.C:
			w.Cycle()
		}
	}
}

// Cycle performs one drain-write-flush pass. Exported for tests and shutdown paths.
func (w *Writer) Cycle() {
	w.rollDay()

	batch := w.queue.Drain()
	written := 0
	for _, tick := range batch {
		if err := w.append(tick); err != nil {
			w.metrics.RecordWriteError()
			slog.Warn("Failed to append tick", slog.String("ticker", tick.Ticker), slog.Any("error", err))
			continue
		}
		w.counts[tick.Ticker]++
		written++
	}
	w.flushAll()
	w.metrics.RecordRows(written)

	w.cycles++
	if w.cfg.ReportEvery > 0 && w.cycles >= w.cfg.ReportEvery {
		w.report()
		w.cycles = 0
	}
}

// rollDay closes all files and purges the directory when the calendar day changes.
func (w *Writer) rollDay() {
	now := w.now().In(w.cfg.Location)
	today := now.Format(time.DateOnly)
	if today == w.day {
		return
	}
	w.closeAll()
	if w.rotator != nil {
		if _, err := w.rotator.Rotate(now); err != nil {
			slog.Error("Daily rotation failed", slog.Any("error", err))
		}
	}
	w.day = today
}

func (w *Writer) append(tick domain.Tick) error {
	lf, err := w.open(tick.Ticker)
	if err != nil {
		return err
	}
	row := []string{
		tick.Time(w.cfg.Location).Format(domain.LogTimeLayout),
		formatFloat(tick.Price),
		formatFloat(tick.ChangePercent),
		formatFloat(tick.Change),
		strconv.FormatInt(tick.DayVolume, 10),
	}
	if err := lf.w.Write(row); err != nil {
		w.drop(tick.Ticker)
		return err
	}
	return nil
}

// open resolves or lazily creates the ticker's append log, writing the header on an empty file.
func (w *Writer) open(ticker string) (*logFile, error) {
	if lf, ok := w.files[ticker]; ok {
		return lf, nil
	}
	name, err := domain.LogFileName(ticker)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}

	lf := &logFile{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := lf.w.Write(domain.LogHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	w.files[ticker] = lf
	return lf, nil
}

func (w *Writer) flushAll() {
	for ticker, lf := range w.files {
		lf.w.Flush()
		if err := lf.w.Error(); err != nil {
			w.metrics.RecordWriteError()
			slog.Warn("Failed to flush log", slog.String("ticker", ticker), slog.Any("error", err))
			w.drop(ticker)
		}
	}
}

// drop closes a failing handle so the next tick reopens it.
func (w *Writer) drop(ticker string) {
	if lf, ok := w.files[ticker]; ok {
		lf.f.Close()
		delete(w.files, ticker)
	}
}

func (w *Writer) closeAll() {
	for ticker, lf := range w.files {
		lf.w.Flush()
		if err := lf.f.Close(); err != nil {
			slog.Warn("Failed to close log", slog.String("ticker", ticker), slog.Any("error", err))
		}
	}
	clear(w.files)
}

type tickerCount struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

func (w *Writer) report() {
	total := 0
	top := make([]tickerCount, 0, len(w.counts))
	for t, n := range w.counts {
		total += n
		top = append(top, tickerCount{t, n})
	}
	slices.SortFunc(top, func(a, b tickerCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Ticker, b.Ticker)
	})
	if len(top) > 5 {
		top = top[:5]
	}
	slog.Info("📝 Price updates", slog.Int("total", total), slog.Any("top", top))
	clear(w.counts)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
