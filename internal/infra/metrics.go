package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"stock_bot/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports pipeline counters to Prometheus and keeps atomic mirrors
// for the periodic snapshot log line. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticksReceived    prometheus.Counter
	ticksDiscarded   prometheus.Counter
	ticksDropped     prometheus.Counter
	queueDepth       prometheus.Gauge
	rowsWritten      prometheus.Counter
	writeErrors      prometheus.Counter
	sessions         prometheus.Counter
	reconnects       *prometheus.CounterVec
	watchdogRestarts *prometheus.CounterVec
	windowReads      *prometheus.CounterVec
	ledgerOutcomes   *prometheus.CounterVec
	signals          *prometheus.CounterVec
	cycleSeconds     prometheus.Histogram

	// Snapshot mirrors
	received atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64
	writeErr atomic.Uint64
	restarts atomic.Uint64
	sessionN atomic.Uint64
	trades   atomic.Uint64
	depth    atomic.Int64
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_ticks_received_total", Help: "Ticks accepted from the stream.",
		}),
		ticksDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_ticks_discarded_total", Help: "Ticks discarded because they were outside the regular session.",
		}),
		ticksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_ticks_dropped_total", Help: "Ticks evicted from a full ingestion queue.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockbot_queue_depth", Help: "Ticks waiting in the ingestion queue.",
		}),
		rowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_rows_written_total", Help: "Rows appended to ticker logs.",
		}),
		writeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_write_errors_total", Help: "Failed appends to ticker logs.",
		}),
		sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbot_stream_sessions_total", Help: "Stream sessions opened.",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbot_stream_reconnects_total", Help: "Stream session ends by disconnect reason.",
		}, []string{"reason"}),
		watchdogRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbot_watchdog_restarts_total", Help: "Forced stream restarts by cause.",
		}, []string{"cause"}),
		windowReads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbot_window_reads_total", Help: "Window reads by result.",
		}, []string{"result"}),
		ledgerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbot_ledger_outcomes_total", Help: "Ledger transaction outcomes.",
		}, []string{"outcome"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbot_signals_total", Help: "Strategy signals emitted.",
		}, []string{"bot", "action"}),
		cycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "stockbot_cycle_seconds", Help: "Duration of one scheduler cycle.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// RecordTick records a tick accepted from the stream.
func (m *Metrics) RecordTick() {
	if m == nil {
		return
	}
	m.ticksReceived.Inc()
	m.received.Add(1)
}

// RecordDiscard records a tick rejected by the session filter.
func (m *Metrics) RecordDiscard() {
	if m == nil {
		return
	}
	m.ticksDiscarded.Inc()
}

// RecordDropped records ticks evicted by the queue overflow policy.
func (m *Metrics) RecordDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ticksDropped.Add(float64(n))
	m.dropped.Add(uint64(n))
}

// SetQueueDepth sets the current ingestion queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
	m.depth.Store(int64(n))
}

// RecordRows records rows appended to ticker logs.
func (m *Metrics) RecordRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.Add(float64(n))
	m.written.Add(uint64(n))
}

// RecordWriteError records a failed append.
func (m *Metrics) RecordWriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
	m.writeErr.Add(1)
}

// RecordSession records a newly opened stream session.
func (m *Metrics) RecordSession() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.sessionN.Add(1)
}

// RecordDisconnect records the end of a stream session.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

// RecordRestart records a watchdog-forced restart.
func (m *Metrics) RecordRestart(cause string) {
	if m == nil {
		return
	}
	m.watchdogRestarts.WithLabelValues(cause).Inc()
	m.restarts.Add(1)
}

// RecordWindowRead records a window read result ("ok", "absent", "error").
func (m *Metrics) RecordWindowRead(result string) {
	if m == nil {
		return
	}
	m.windowReads.WithLabelValues(result).Inc()
}

// RecordOutcome records one ledger outcome.
func (m *Metrics) RecordOutcome(o domain.Outcome) {
	if m == nil {
		return
	}
	m.ledgerOutcomes.WithLabelValues(o.String()).Inc()
	if o.OK() {
		m.trades.Add(1)
	}
}

// RecordSignal records a strategy signal.
func (m *Metrics) RecordSignal(bot string, action domain.Action) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(bot, string(action)).Inc()
}

// ObserveCycle records the duration of a scheduler cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleSeconds.Observe(d.Seconds())
}

// MetricsSnapshot is a point-in-time view of the main counters.
type MetricsSnapshot struct {
	TicksReceived uint64
	TicksDropped  uint64
	RowsWritten   uint64
	WriteErrors   uint64
	Sessions      uint64
	Restarts      uint64
	Trades        uint64
	QueueDepth    int64
	Timestamp     time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	return MetricsSnapshot{
		TicksReceived: m.received.Load(),
		TicksDropped:  m.dropped.Load(),
		RowsWritten:   m.written.Load(),
		WriteErrors:   m.writeErr.Load(),
		Sessions:      m.sessionN.Load(),
		Restarts:      m.restarts.Load(),
		Trades:        m.trades.Load(),
		QueueDepth:    m.depth.Load(),
		Timestamp:     time.Now(),
	}
}

// LogSnapshots writes a snapshot log line every interval until ctx is done.
func (m *Metrics) LogSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := m.Snapshot()
			slog.Info("📊 Pipeline metrics",
				slog.Uint64("ticks", s.TicksReceived),
				slog.Uint64("dropped", s.TicksDropped),
				slog.Uint64("rows", s.RowsWritten),
				slog.Uint64("write_errors", s.WriteErrors),
				slog.Uint64("sessions", s.Sessions),
				slog.Uint64("restarts", s.Restarts),
				slog.Uint64("trades", s.Trades),
				slog.Int64("queue_depth", s.QueueDepth),
			)
		}
	}
}

// ServeMetrics exposes gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("📈 Metrics server started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
