package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds the connection settings of a Worker.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	Backoff          *PolicyTable
}

// ConfigFrom builds a worker config from the stream section.
func ConfigFrom(cfg *infra.Config) Config {
	s := cfg.Stream
	return Config{
		URL:              s.URL,
		HandshakeTimeout: s.HandshakeTimeout,
		ReadTimeout:      s.ReadTimeout,
		PingInterval:     s.PingInterval,
		Backoff:          NewPolicyTable(s.Backoff.Clean, s.Backoff.Abnormal, s.Backoff.Dial),
	}
}

// SessionResult describes how one connection attempt ended.
type SessionResult struct {
	ID       string
	Reason   Reason
	Err      error
	Duration time.Duration
	Ticks    int
}

// Worker keeps a streaming session subscribed to a ticker set and pushes
// regular-session ticks into the sink. It reconnects until stopped.
type Worker struct {
	cfg     Config
	sink    domain.TickSink
	metrics *infra.Metrics
	now     func() time.Time

	lifeMu  sync.Mutex // serializes Start, Stop and Restart
	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	tickers []string

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	lastMessage  atomic.Int64 // unix nanos
	sessionStart atomic.Int64 // unix nanos, 0 when no session is open
}

// NewWorker creates a stream worker.
func NewWorker(cfg Config, sink domain.TickSink, metrics *infra.Metrics) *Worker {
	if cfg.Backoff == nil {
		def := infra.DefaultConfig().Stream.Backoff
		cfg.Backoff = NewPolicyTable(def.Clean, def.Abnormal, def.Dial)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Worker{cfg: cfg, sink: sink, metrics: metrics, now: time.Now}
}

// Start subscribes to tickers and runs the connection loop in the background.
// A running loop is stopped first. An empty ticker set is a contract violation.
func (w *Worker) Start(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return domain.ErrNoTickers
	}
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	return w.start(ctx, tickers)
}

func (w *Worker) start(ctx context.Context, tickers []string) error {
	w.stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	w.parent = ctx
	w.cancel = cancel
	w.done = make(chan struct{})
	w.tickers = slices.Clone(tickers)
	w.lastMessage.Store(w.now().UnixNano())

	go w.connectionLoop(runCtx, w.tickers, w.done)
	return nil
}

// Stop ends the loop, closes the active session and waits for the loop to exit.
func (w *Worker) Stop() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	w.stop()
}

func (w *Worker) stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.closeConnection()
	<-done
}

// Restart performs an ordered stop and start with the same ticker set.
func (w *Worker) Restart(cause string) error {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()

	w.mu.Lock()
	parent, tickers := w.parent, w.tickers
	running := w.cancel != nil
	w.mu.Unlock()

	if !running || parent == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}

	slog.Warn("🔄 Restarting stream", slog.String("cause", cause))
	return w.start(parent, tickers)
}

// Running reports whether the connection loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Tickers returns the subscribed ticker set.
func (w *Worker) Tickers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.tickers)
}

// LastMessage returns when the last regular-session tick arrived.
func (w *Worker) LastMessage() time.Time {
	return time.Unix(0, w.lastMessage.Load())
}

// SessionStart returns when the current session was opened, zero when disconnected.
func (w *Worker) SessionStart() time.Time {
	ns := w.sessionStart.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (w *Worker) connectionLoop(ctx context.Context, tickers []string, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Stream panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			slog.Info("Stream connection loop stopped")
			return
		}

		res := w.session(ctx, tickers)
		w.metrics.RecordDisconnect(string(res.Reason))
		if res.Reason == ReasonStopped {
			slog.Info("Stream connection loop stopped", slog.String("session", res.ID))
			return
		}

		delay := w.cfg.Backoff.Next(res.Reason)
		slog.Warn("Stream session ended",
			slog.String("session", res.ID),
			slog.String("reason", string(res.Reason)),
			slog.Any("error", res.Err),
			slog.Duration("duration", res.Duration),
			slog.Int("ticks", res.Ticks),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connect-subscribe-read cycle and classifies how it ended.
func (w *Worker) session(ctx context.Context, tickers []string) (res SessionResult) {
	res.ID = uuid.NewString()
	started := w.now()
	defer func() { res.Duration = w.now().Sub(started) }()

	conn, err := w.dial(ctx)
	if err != nil {
		res.Reason, res.Err = w.classify(ctx, err), err
		if res.Reason != ReasonStopped {
			res.Reason = ReasonDial
		}
		return res
	}
	defer w.closeConnection()
	stop := context.AfterFunc(ctx, w.closeConnection)
	defer stop()

	if err := w.subscribe(tickers); err != nil {
		res.Reason, res.Err = w.classify(ctx, err), fmt.Errorf("subscribe failed: %w", err)
		if res.Reason != ReasonStopped {
			res.Reason = ReasonDial
		}
		return res
	}

	w.metrics.RecordSession()
	w.sessionStart.Store(w.now().UnixNano())
	defer w.sessionStart.Store(0)
	slog.Info("✅ Stream connected", slog.String("session", res.ID), slog.Int("tickers", len(tickers)))

	pingDone := make(chan struct{})
	defer close(pingDone)
	if w.cfg.PingInterval > 0 {
		go w.pingLoop(pingDone)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(w.now().Add(w.cfg.ReadTimeout))
	})

	for {
		conn.SetReadDeadline(w.now().Add(w.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			res.Reason, res.Err = w.classify(ctx, err), err
			return res
		}
		n := w.handleMessage(msg)
		if n > 0 && res.Ticks == 0 {
			w.cfg.Backoff.Reset()
		}
		res.Ticks += n
	}
}

func (w *Worker) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		return nil, domain.NewNetworkError("dial", err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	return conn, nil
}

type subscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

func (w *Worker) subscribe(tickers []string) error {
	b, err := json.Marshal(subscribeMessage{Subscribe: tickers})
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) pingLoop(done <-chan struct{}) {
	t := time.NewTicker(w.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := w.writeControl(websocket.PingMessage); err != nil {
				slog.Debug("Stream ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return errors.New("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (w *Worker) writeControl(messageType int) error {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return errors.New("connection is nil")
	}
	return conn.WriteControl(messageType, nil, w.now().Add(5*time.Second))
}

// classify maps a session error to its disconnect reason.
func (w *Worker) classify(ctx context.Context, err error) Reason {
	switch {
	case ctx.Err() != nil:
		return ReasonStopped
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return ReasonClean
	default:
		return ReasonAbnormal
	}
}

// handleMessage decodes a frame and pushes its regular-session ticks.
// It returns the number of ticks pushed.
func (w *Worker) handleMessage(msg []byte) int {
	ticks, err := decodeQuotes(msg)
	if err != nil {
		slog.Debug("Stream message parse error", slog.Any("error", err))
		return 0
	}

	pushed := 0
	for _, t := range ticks {
		if !t.IsRegular() {
			w.metrics.RecordDiscard()
			continue
		}
		w.lastMessage.Store(w.now().UnixNano())
		w.metrics.RecordTick()
		w.sink.Push(t)
		pushed++
	}
	return pushed
}

func (w *Worker) closeConnection() {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
