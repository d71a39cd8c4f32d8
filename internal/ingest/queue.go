package ingest

import (
	"log/slog"
	"sync"
	"time"

	"stock_bot/internal/domain"
	"stock_bot/internal/infra"
)

// Queue is the FIFO between the stream worker and the writer.
// It is bounded; when full, Push evicts the oldest tick so the
// stream worker never blocks on disk I/O.
type Queue struct {
	mu       sync.Mutex
	buf      []domain.Tick
	capacity int
	dropped  int
	metrics  *infra.Metrics

	lastWarn time.Time
}

// NewQueue creates a queue holding at most capacity ticks.
func NewQueue(capacity int, metrics *infra.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		buf:      make([]domain.Tick, 0, min(capacity, 1024)),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Push appends tick. It returns false when an older tick had to be evicted.
func (q *Queue) Push(tick domain.Tick) bool {
	q.mu.Lock()
	evicted := false
	if len(q.buf) >= q.capacity {
		// drop-oldest; the backing array is released on the next Drain
		q.buf = q.buf[1:]
		q.dropped++
		evicted = true
	}
	q.buf = append(q.buf, tick)
	depth := len(q.buf)
	warn := evicted && time.Since(q.lastWarn) > 10*time.Second
	if warn {
		q.lastWarn = time.Now()
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	if evicted {
		q.metrics.RecordDropped(1)
	}
	if warn {
		slog.Warn("⚠️ Ingestion queue full, dropping oldest ticks", slog.Int("capacity", q.capacity))
	}
	return !evicted
}

// Drain removes and returns every queued tick in FIFO order.
// The returned slice is owned by the caller.
func (q *Queue) Drain() []domain.Tick {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return nil
	}
	out := q.buf
	q.buf = make([]domain.Tick, 0, min(cap(out), 1024))
	q.mu.Unlock()

	q.metrics.SetQueueDepth(0)
	return out
}

// Len returns the number of queued ticks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many ticks were evicted since creation.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
