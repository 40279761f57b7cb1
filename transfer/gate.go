// Package transfer moves bulk assets over a link that allows one outstanding
// write: the write gate, MTU chunking, stop-and-wait acknowledgements,
// inbound recording assembly and the tile inventory round trip.
package transfer

import (
	"context"
	"time"
)

// Gate timing. The transport allows one outstanding write; the next write may
// only be issued once the previous one reported completion.
const (
	PollInterval = 10 * time.Millisecond
	PollAttempts = 100
)

// WriteGate serializes writes. Holding the token means the previous write has
// completed and a new one may be issued.
type WriteGate struct {
	token    chan struct{}
	interval time.Duration
	attempts int
}

// NewWriteGate returns an open gate. Zero values use PollInterval and PollAttempts.
func NewWriteGate(interval time.Duration, attempts int) *WriteGate {
	if interval <= 0 {
		interval = PollInterval
	}
	if attempts <= 0 {
		attempts = PollAttempts
	}
	g := &WriteGate{
		token:    make(chan struct{}, 1),
		interval: interval,
		attempts: attempts,
	}
	g.token <- struct{}{}
	return g
}

// Budget is how long Acquire waits for the previous write.
func (g *WriteGate) Budget() time.Duration {
	return g.interval * time.Duration(g.attempts)
}

// Acquire takes the right to issue the next write. It fails with
// ErrWriteTimeout once the budget is spent.
func (g *WriteGate) Acquire(ctx context.Context) error {
	select {
	case <-g.token:
		return nil
	default:
	}

	timer := time.NewTimer(g.Budget())
	defer timer.Stop()

	select {
	case <-g.token:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release marks the outstanding write complete. Extra releases are ignored.
func (g *WriteGate) Release() {
	select {
	case g.token <- struct{}{}:
	default:
	}
}

// Reset reopens the gate for a fresh link.
func (g *WriteGate) Reset() {
	g.Release()
}
