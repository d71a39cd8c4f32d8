package stream

import (
	"sync"
	"time"

	"stock_bot/internal/infra"

	"github.com/cenkalti/backoff/v4"
)

// Reason classifies why a stream session ended.
type Reason string

const (
	ReasonClean    Reason = "clean"    // normal or going-away close frame
	ReasonAbnormal Reason = "abnormal" // transport error, read timeout, unexpected close
	ReasonDial     Reason = "dial"     // dial or subscribe failed
	ReasonStopped  Reason = "stopped"  // stop signal, never retried
)

// PolicyTable maps each disconnect reason to its own exponential backoff.
type PolicyTable struct {
	mu       sync.Mutex
	policies map[Reason]*backoff.ExponentialBackOff
}

// NewPolicyTable builds the table from the configured rows.
func NewPolicyTable(clean, abnormal, dial infra.BackoffConfig) *PolicyTable {
	return &PolicyTable{policies: map[Reason]*backoff.ExponentialBackOff{
		ReasonClean:    newExponential(clean),
		ReasonAbnormal: newExponential(abnormal),
		ReasonDial:     newExponential(dial),
	}}
}

func newExponential(c infra.BackoffConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.MaxInterval = c.Max
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Next returns the delay before reconnecting after a session ended for reason.
func (t *PolicyTable) Next(reason Reason) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.policies[reason]
	if !ok {
		p = t.policies[ReasonAbnormal]
	}
	d := p.NextBackOff()
	if d == backoff.Stop {
		return p.MaxInterval
	}
	return d
}

// Reset restarts every policy at its initial interval. Called once a session delivers data.
func (t *PolicyTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.policies {
		p.Reset()
	}
}
