// Package link defines the transport primitives the session drives: scan,
// connect, enable notifications, write, and the callbacks that report their
// completion. Implementations live in link/memlink and link/wslink; a real
// BLE stack plugs in the same way.
package link

import (
	"context"
	"errors"

	"github.com/user/papersync/protocol"
)

var (
	// ErrLinkLost is reported through Handler.OnDisconnect when the peer goes away.
	ErrLinkLost = errors.New("link: connection lost")

	// ErrNotConnected is returned by operations issued without a link.
	ErrNotConnected = errors.New("link: not connected")

	// ErrNoPeripheral is returned by Scan when nothing was found in the window.
	ErrNoPeripheral = errors.New("link: no peripheral found")
)

// Handler receives transport events. Callbacks may arrive on any goroutine
// and must not block.
type Handler interface {
	// OnWriteComplete reports that the outstanding write finished.
	OnWriteComplete(ch protocol.Channel, err error)
	// OnNotificationsEnabled answers EnableNotifications.
	OnNotificationsEnabled(ch protocol.Channel, err error)
	// OnNotify delivers one notification from the peripheral.
	OnNotify(ch protocol.Channel, data []byte)
	// OnDisconnect reports link loss. It is not called after Close.
	OnDisconnect(err error)
}

// Transport is one central-side connection to the peripheral. Only one
// write may be outstanding at a time.
type Transport interface {
	SetHandler(h Handler)

	// Scan looks for the peripheral until ctx is done and returns its address.
	Scan(ctx context.Context) (string, error)
	// Connect establishes the link and negotiates the MTU.
	Connect(ctx context.Context, addr string) error
	// MTU is the negotiated ATT MTU.
	MTU() int

	// EnableNotifications subscribes to ch; the answer arrives through
	// Handler.OnNotificationsEnabled.
	EnableNotifications(ch protocol.Channel) error
	// Write issues one write of at most MTU-3 bytes; completion arrives
	// through Handler.OnWriteComplete.
	Write(ch protocol.Channel, data []byte) error

	// Close tears the link down and releases the transport.
	Close() error
}
