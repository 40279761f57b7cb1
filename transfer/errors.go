package transfer

import (
	"errors"
	"fmt"

	"github.com/user/papersync/protocol"
)

var (
	// ErrWriteTimeout is returned when the previous write did not complete
	// within the gate's poll budget.
	ErrWriteTimeout = errors.New("transfer: previous write did not complete")

	// ErrAckTimeout is returned when the peripheral did not acknowledge an
	// asset in time.
	ErrAckTimeout = errors.New("transfer: acknowledgement timeout")

	// ErrIncomplete marks an inbound transfer that ended before all declared
	// bytes arrived.
	ErrIncomplete = errors.New("transfer: incomplete transfer")

	// ErrInventoryBusy is returned when an inventory request is already
	// outstanding.
	ErrInventoryBusy = errors.New("transfer: inventory request already pending")

	// ErrInventoryTimeout is returned when the inventory answer did not
	// finish in time.
	ErrInventoryTimeout = errors.New("transfer: inventory request timed out")

	// ErrTransferBusy is returned when a transfer is already in flight on the
	// channel.
	ErrTransferBusy = errors.New("transfer: transfer already in progress")

	// ErrCancelled is delivered to waiters when the link goes away.
	ErrCancelled = errors.New("transfer: cancelled")
)

// PeerError is an explicit failure reported by the peripheral.
type PeerError struct {
	Channel protocol.Channel
	Status  uint8
	Message string
}

func (e *PeerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transfer: peer error on %s: %s", e.Channel, e.Message)
	}
	return fmt.Sprintf("transfer: peer error on %s: status 0x%02X", e.Channel, e.Status)
}
