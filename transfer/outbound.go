package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

// Item is one asset of a batch.
type Item struct {
	Label string // for logs and summaries, e.g. the tile key
	Frame []byte
}

// Failure records why one asset of a batch did not go through.
type Failure struct {
	Label string
	Err   error
}

// Summary is the outcome of a batch. A failed asset never aborts the batch.
type Summary struct {
	Attempted  int
	Succeeded  int
	Failed     int
	Skipped    int // filtered out by the inventory diff
	FirstError error
	Failures   []Failure
	Duration   time.Duration
}

func (s *Summary) fail(label string, err error) {
	s.Failed++
	if s.FirstError == nil {
		s.FirstError = err
	}
	s.Failures = append(s.Failures, Failure{Label: label, Err: err})
}

func (s Summary) String() string {
	str := fmt.Sprintf("%d/%d sent, %d failed, %d skipped in %s",
		s.Succeeded, s.Attempted, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	if s.FirstError != nil {
		str += fmt.Sprintf(" (first error: %v)", s.FirstError)
	}
	return str
}

// Outbound sends frames through a Pipe, one transfer per channel at a time.
type Outbound struct {
	pipe       *Pipe
	ackTimeout time.Duration

	mu   sync.Mutex
	busy map[protocol.Channel]bool
}

// NewOutbound sends through pipe. A zero ackTimeout uses AckTimeout.
func NewOutbound(pipe *Pipe, ackTimeout time.Duration) *Outbound {
	if ackTimeout <= 0 {
		ackTimeout = AckTimeout
	}
	return &Outbound{
		pipe:       pipe,
		ackTimeout: ackTimeout,
		busy:       make(map[protocol.Channel]bool),
	}
}

func (o *Outbound) claim(ch protocol.Channel) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[ch] {
		return fmt.Errorf("%w on %s", ErrTransferBusy, ch)
	}
	o.busy[ch] = true
	return nil
}

func (o *Outbound) release(ch protocol.Channel) {
	o.mu.Lock()
	delete(o.busy, ch)
	o.mu.Unlock()
}

// Busy reports whether a transfer is in flight on ch.
func (o *Outbound) Busy(ch protocol.Channel) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy[ch]
}

// Send writes a single unacknowledged frame and returns once its last write
// has completed.
func (o *Outbound) Send(ctx context.Context, ch protocol.Channel, frame []byte) error {
	if err := o.claim(ch); err != nil {
		return err
	}
	defer o.release(ch)
	return o.pipe.WriteFrame(ctx, ch, frame)
}

// SendBatch sends items stop-and-wait on an acknowledged channel. For each
// item every chunk is written, stale acks are discarded, then a fresh ack is
// awaited for up to the ack timeout. Failures are counted and the batch moves
// on. Only cancellation of ctx stops the batch early.
func (o *Outbound) SendBatch(ctx context.Context, ch protocol.Channel, items []Item, acks *AckWaiter, progress func(done int, item Item, err error)) (Summary, error) {
	var sum Summary
	if err := o.claim(ch); err != nil {
		return sum, err
	}
	defer o.release(ch)

	start := time.Now()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		sum.Attempted++

		err := o.sendOne(ctx, ch, item, acks)
		if err != nil {
			if ctx.Err() != nil {
				sum.fail(item.Label, err)
				sum.Duration = time.Since(start)
				return sum, ctx.Err()
			}
			logger.Warn("transfer", "%s %s failed: %v", ch, item.Label, err)
			sum.fail(item.Label, err)
		} else {
			sum.Succeeded++
		}
		if progress != nil {
			progress(i+1, item, err)
		}
	}

	sum.Duration = time.Since(start)
	logger.Info("transfer", "%s batch: %s", ch, sum)
	return sum, nil
}

func (o *Outbound) sendOne(ctx context.Context, ch protocol.Channel, item Item, acks *AckWaiter) error {
	stale := 0
	err := o.pipe.writeFrame(ctx, ch, item.Frame, func() {
		stale = acks.Drain()
	})
	if err != nil {
		return err
	}
	if stale > 0 {
		logger.Debug("transfer", "%s %s: discarded %d stale ack(s)", ch, item.Label, stale)
	}

	status, err := acks.Wait(ctx, o.ackTimeout)
	if err != nil {
		if errors.Is(err, ErrAckTimeout) {
			return fmt.Errorf("%s %s: %w", ch, item.Label, err)
		}
		return err
	}
	if status != protocol.AckStored {
		return &PeerError{Channel: ch, Status: status}
	}
	logger.Trace("transfer", "%s %s acknowledged (%d bytes)", ch, item.Label, len(item.Frame))
	return nil
}
