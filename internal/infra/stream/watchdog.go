package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stock_bot/internal/infra"
)

// Supervised is the part of Worker the watchdog needs.
type Supervised interface {
	Running() bool
	LastMessage() time.Time
	SessionStart() time.Time
	Restart(cause string) error
}

// Restart causes
const (
	CauseStall      = "stall"
	CauseMaxSession = "max_session"
)

// Watchdog forces a stream restart when no tick arrived within the stall
// timeout or the session outlived its maximum lifetime.
type Watchdog struct {
	target       Supervised
	stallTimeout time.Duration
	maxSession   time.Duration
	poll         time.Duration
	metrics      *infra.Metrics
	now          func() time.Time

	restarting atomic.Bool
	wg         sync.WaitGroup
}

// NewWatchdog creates a watchdog. A zero maxSession disables session rotation.
func NewWatchdog(target Supervised, stallTimeout, maxSession, poll time.Duration, metrics *infra.Metrics) *Watchdog {
	if poll <= 0 {
		poll = time.Second
	}
	return &Watchdog{
		target:       target,
		stallTimeout: stallTimeout,
		maxSession:   maxSession,
		poll:         poll,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Run polls until ctx is done and waits for an in-flight restart before returning.
func (d *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(d.poll)
	defer t.Stop()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Check()
		}
	}
}

// Check evaluates both triggers once. It returns the cause when a restart was launched.
func (d *Watchdog) Check() string {
	if !d.target.Running() || d.restarting.Load() {
		return ""
	}

	now := d.now()
	cause := ""
	if d.stallTimeout > 0 && now.Sub(d.target.LastMessage()) >= d.stallTimeout {
		cause = CauseStall
	} else if start := d.target.SessionStart(); d.maxSession > 0 && !start.IsZero() && now.Sub(start) >= d.maxSession {
		cause = CauseMaxSession
	}
	if cause == "" || !d.restarting.CompareAndSwap(false, true) {
		return ""
	}

	slog.Warn("⚠️ Stream watchdog triggered",
		slog.String("cause", cause),
		slog.Time("last_message", d.target.LastMessage()),
	)
	d.metrics.RecordRestart(cause)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.restarting.Store(false)
		if err := d.target.Restart(cause); err != nil {
			slog.Error("Stream restart failed", slog.Any("error", err))
		}
	}()
	return cause
}

// Restarting reports whether a restart is in progress.
func (d *Watchdog) Restarting() bool {
	return d.restarting.Load()
}
