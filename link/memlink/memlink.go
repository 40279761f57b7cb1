// Package memlink is an in-memory link.Transport wired straight to a peer
// implementation, usually the peripheral emulator. It reproduces the
// properties the session depends on: asynchronous write completion, per-channel
// notification subscription, ordered notifications and link loss.
package memlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/papersync/link"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

// Notifier lets the peer push notifications to the central.
type Notifier interface {
	Notify(ch protocol.Channel, data []byte) error
	// MTU is the negotiated ATT MTU of the link.
	MTU() int
}

// Peer is the peripheral end of the link.
type Peer interface {
	// Attach is called when a central connects.
	Attach(n Notifier)
	// HandleWrite receives one write as issued by the central.
	HandleWrite(ch protocol.Channel, data []byte) error
	// Detach is called when the link goes away.
	Detach()
}

var errConnectFailed = errors.New("memlink: connection attempt failed")

const notifyQueueSize = 256

type notification struct {
	ch   protocol.Channel
	data []byte
}

// conn is one live link instance.
type conn struct {
	id      string
	enabled map[protocol.Channel]bool
	queue   chan notification
	done    chan struct{}
}

// Central is the central-side transport.
type Central struct {
	peer    Peer
	sim     *simulator
	address string

	mu          sync.Mutex
	handler     link.Handler
	conn        *conn
	advertising bool
	rejects     map[protocol.Channel]error
	failConnect int
}

// New returns a transport for peer. A nil config uses DefaultSimulationConfig.
func New(peer Peer, config *SimulationConfig) *Central {
	return &Central{
		peer:        peer,
		sim:         newSimulator(config),
		address:     "mem-" + uuid.New().String(),
		advertising: true,
		rejects:     make(map[protocol.Channel]error),
	}
}

// Address is what Scan reports.
func (c *Central) Address() string {
	return c.address
}

// SetAdvertising makes the peer visible to Scan or hides it.
func (c *Central) SetAdvertising(on bool) {
	c.mu.Lock()
	c.advertising = on
	c.mu.Unlock()
}

// RejectNotifications makes EnableNotifications on ch fail with err. A nil
// err clears the rejection.
func (c *Central) RejectNotifications(ch protocol.Channel, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.rejects, ch)
		return
	}
	c.rejects[ch] = err
}

// FailConnects makes the next n connection attempts fail.
func (c *Central) FailConnects(n int) {
	c.mu.Lock()
	c.failConnect = n
	c.mu.Unlock()
}

// Connected reports whether a link is up.
func (c *Central) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Central) SetHandler(h link.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Central) getHandler() link.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Central) Scan(ctx context.Context) (string, error) {
	delay := c.sim.discoveryDelay()
	ticker := time.NewTicker(max(delay, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		c.mu.Lock()
		visible := c.advertising
		c.mu.Unlock()
		if visible {
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
			return c.address, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", link.ErrNoPeripheral, ctx.Err())
		}
	}
}

func (c *Central) Connect(ctx context.Context, addr string) error {
	if addr != c.address {
		return fmt.Errorf("memlink: unknown address %q", addr)
	}
	if err := sleepCtx(ctx, c.sim.connectionDelay()); err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("memlink: already connected")
	}
	if c.failConnect > 0 {
		c.failConnect--
		c.mu.Unlock()
		return errConnectFailed
	}
	if !c.sim.connectionSucceeds() {
		c.mu.Unlock()
		return errConnectFailed
	}

	cn := &conn{
		id:      uuid.New().String(),
		enabled: make(map[protocol.Channel]bool),
		queue:   make(chan notification, notifyQueueSize),
		done:    make(chan struct{}),
	}
	c.conn = cn
	c.mu.Unlock()

	go c.pump(cn)
	c.peer.Attach(&notifier{c: c, cn: cn})
	logger.Debug("memlink", "link %s up (mtu %d)", cn.id[:8], c.MTU())
	return nil
}

func (c *Central) MTU() int {
	return c.sim.mtu()
}

func (c *Central) current() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, link.ErrNotConnected
	}
	return c.conn, nil
}

func (c *Central) EnableNotifications(ch protocol.Channel) error {
	cn, err := c.current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	rejectErr := c.rejects[ch]
	c.mu.Unlock()

	info, ok := ch.Info()
	if rejectErr == nil && (!ok || !info.Notify) {
		rejectErr = fmt.Errorf("memlink: %s has no notify property", ch)
	}

	go func() {
		if rejectErr == nil {
			c.mu.Lock()
			if c.conn == cn {
				cn.enabled[ch] = true
			}
			c.mu.Unlock()
		}
		if h := c.getHandler(); h != nil {
			h.OnNotificationsEnabled(ch, rejectErr)
		}
	}()
	return nil
}

func (c *Central) Write(ch protocol.Channel, data []byte) error {
	cn, err := c.current()
	if err != nil {
		return err
	}
	if limit := max(c.MTU()-3, 20); len(data) > limit {
		return fmt.Errorf("memlink: write of %d bytes exceeds %d", len(data), limit)
	}

	buf := append([]byte(nil), data...)
	delay := c.sim.config.WriteDelay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		select {
		case <-cn.done:
			return
		default:
		}
		werr := c.peer.HandleWrite(ch, buf)
		if h := c.getHandler(); h != nil {
			h.OnWriteComplete(ch, werr)
		}
	}()
	return nil
}

// Drop simulates link loss: the peer is detached and the handler is told.
func (c *Central) Drop() {
	if c.teardown() {
		if h := c.getHandler(); h != nil {
			h.OnDisconnect(link.ErrLinkLost)
		}
	}
}

func (c *Central) Close() error {
	c.teardown()
	return nil
}

func (c *Central) teardown() bool {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cn == nil {
		return false
	}
	close(cn.done)
	c.peer.Detach()
	logger.Debug("memlink", "link %s down", cn.id[:8])
	return true
}

// pump delivers notifications in order for one link instance.
func (c *Central) pump(cn *conn) {
	for {
		select {
		case n := <-cn.queue:
			if h := c.getHandler(); h != nil {
				h.OnNotify(n.ch, n.data)
			}
		case <-cn.done:
			return
		}
	}
}

type notifier struct {
	c  *Central
	cn *conn
}

func (n *notifier) Notify(ch protocol.Channel, data []byte) error {
	n.c.mu.Lock()
	live := n.c.conn == n.cn
	enabled := n.cn.enabled[ch]
	n.c.mu.Unlock()

	if !live {
		return link.ErrNotConnected
	}
	if !enabled {
		return fmt.Errorf("memlink: notifications not enabled on %s", ch)
	}

	select {
	case n.cn.queue <- notification{ch: ch, data: append([]byte(nil), data...)}:
		return nil
	case <-n.cn.done:
		return link.ErrNotConnected
	}
}

func (n *notifier) MTU() int {
	return n.c.MTU()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
