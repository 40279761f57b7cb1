package transfer

import (
	"context"
	"time"
)

// AckTimeout is how long the sender waits for an asset acknowledgement.
const AckTimeout = 3 * time.Second

// AckWaiter carries acknowledgements notified by the peripheral to the sender
// waiting on them. Acks that arrive with nobody waiting stay buffered until
// drained.
type AckWaiter struct {
	acks chan uint8
}

func NewAckWaiter() *AckWaiter {
	return &AckWaiter{acks: make(chan uint8, 8)}
}

// Signal records an ack with the given status. When the buffer is full the
// oldest ack is dropped.
func (a *AckWaiter) Signal(status uint8) {
	for {
		select {
		case a.acks <- status:
			return
		default:
		}
		select {
		case <-a.acks:
		default:
		}
	}
}

// Drain discards every buffered ack and returns how many there were.
func (a *AckWaiter) Drain() int {
	n := 0
	for {
		select {
		case <-a.acks:
			n++
		default:
			return n
		}
	}
}

// Wait blocks for the next ack. It returns its status, ErrAckTimeout, or the
// context error.
func (a *AckWaiter) Wait(ctx context.Context, timeout time.Duration) (uint8, error) {
	if timeout <= 0 {
		timeout = AckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-a.acks:
		return status, nil
	case <-timer.C:
		return 0, ErrAckTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
