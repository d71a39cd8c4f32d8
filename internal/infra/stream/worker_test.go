package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (s *collectSink) Push(t domain.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return true
}

func (s *collectSink) snapshot() []domain.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Tick(nil), s.ticks...)
}

// fakeProvider accepts websocket sessions, records each subscribe request
// and replies with the given frames before closing normally.
type fakeProvider struct {
	frames     []string
	sessions   atomic.Int32
	mu         sync.Mutex
	subscribes [][]string
	holdOpen   bool
}

func (p *fakeProvider) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		p.sessions.Add(1)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribeMessage
		if json.Unmarshal(msg, &sub) == nil {
			p.mu.Lock()
			p.subscribes = append(p.subscribes, sub.Subscribe)
			p.mu.Unlock()
		}

		for _, f := range p.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if p.holdOpen {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}
}

func fastBackoff() *PolicyTable {
	row := infra.BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 1.5}
	return NewPolicyTable(row, row, row)
}

func startProvider(t *testing.T, p *fakeProvider) string {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWorker_StartRequiresTickers(t *testing.T) {
	w := NewWorker(Config{URL: "ws://127.0.0.1:1"}, &collectSink{}, nil)
	assert.ErrorIs(t, w.Start(context.Background(), nil), domain.ErrNoTickers)
	assert.False(t, w.Running())
}

func TestWorker_PushesRegularSessionTicks(t *testing.T) {
	p := &fakeProvider{
		frames: []string{
			`{"id":"AAPL","time":"1792074600000","price":236.27,"change_percent":0.5,"change":1.2,"day_volume":"1500","market_hours":1}`,
			`{"id":"AAPL","time":"1792074601000","price":236.3,"market_hours":2}`,
			`not json`,
		},
		holdOpen: true,
	}
	url := startProvider(t, p)
	m := infra.NewMetrics(prometheus.NewRegistry())
	sink := &collectSink{}
	w := NewWorker(Config{URL: url, Backoff: fastBackoff()}, sink, m)

	require.NoError(t, w.Start(context.Background(), []string{"AAPL", "MSFT"}))
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()[0]
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, int64(1792074600000), got.TimeMillis)
	assert.Equal(t, int64(1500), got.DayVolume)
	assert.True(t, got.IsRegular())

	p.mu.Lock()
	assert.Equal(t, []string{"AAPL", "MSFT"}, p.subscribes[0])
	p.mu.Unlock()

	assert.Equal(t, uint64(1), m.Snapshot().TicksReceived)
	assert.Equal(t, uint64(1), m.Snapshot().Sessions)
	assert.False(t, w.SessionStart().IsZero())
}

func TestWorker_ReconnectsAfterClose(t *testing.T) {
	p := &fakeProvider{frames: []string{`{"id":"AAPL","time":1,"price":1,"market_hours":1}`}}
	url := startProvider(t, p)
	sink := &collectSink{}
	w := NewWorker(Config{URL: url, Backoff: fastBackoff()}, sink, nil)

	require.NoError(t, w.Start(context.Background(), []string{"AAPL"}))
	require.Eventually(t, func() bool { return p.sessions.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	w.Stop()

	assert.False(t, w.Running())
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscribes {
		assert.Equal(t, []string{"AAPL"}, sub, "every session resubscribes to the same set")
	}
}

func TestWorker_DialFailureRetriesUntilStopped(t *testing.T) {
	w := NewWorker(Config{URL: "ws://127.0.0.1:1", Backoff: fastBackoff()}, &collectSink{}, nil)
	require.NoError(t, w.Start(context.Background(), []string{"AAPL"}))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, w.Running(), "network errors are never fatal")

	w.Stop()
	assert.False(t, w.Running())
}

func TestWorker_RestartKeepsTickers(t *testing.T) {
	p := &fakeProvider{holdOpen: true}
	url := startProvider(t, p)
	w := NewWorker(Config{URL: url, Backoff: fastBackoff()}, &collectSink{}, nil)

	require.NoError(t, w.Start(context.Background(), []string{"AAPL", "NVDA"}))
	defer w.Stop()
	require.Eventually(t, func() bool { return p.sessions.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Restart(CauseStall))
	require.Eventually(t, func() bool { return p.sessions.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"AAPL", "NVDA"}, w.Tickers())
}

func TestWorker_StopOnCancelledParent(t *testing.T) {
	p := &fakeProvider{holdOpen: true}
	url := startProvider(t, p)
	w := NewWorker(Config{URL: url, Backoff: fastBackoff()}, &collectSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx, []string{"AAPL"}))
	require.Eventually(t, func() bool { return p.sessions.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.Error(t, w.Restart(CauseStall))
	w.Stop()
}
