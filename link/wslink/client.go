package wslink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/papersync/link"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

const (
	probeInterval  = 250 * time.Millisecond
	minWriteLength = 20
)

// PeerError is a failure reported by the far end for a write or subscription.
type PeerError struct {
	Op      string
	Channel protocol.Channel
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("wslink: %s on %s: %s", e.Op, e.Channel, e.Message)
}

// Client is a link.Transport that talks to a Server.
type Client struct {
	url string
	mtu int

	mu         sync.Mutex
	handler    link.Handler
	conn       *websocket.Conn
	negotiated int
	closing    bool

	wmu sync.Mutex
}

// NewClient returns a transport for the server at rawURL (ws:// or wss://)
// that asks for the given ATT MTU.
func NewClient(rawURL string, mtu int) *Client {
	return &Client{url: rawURL, mtu: mtu}
}

func (c *Client) SetHandler(h link.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) getHandler() link.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Scan waits until the server accepts TCP connections.
func (c *Client) Scan(ctx context.Context) (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("wslink: bad url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", host)
		if err == nil {
			conn.Close()
			return c.url, nil
		}
		select {
		case <-time.After(probeInterval):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", link.ErrNoPeripheral, ctx.Err())
		}
	}
}

func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("wslink: already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("wslink: dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, helloMessage(c.mtu).encode()); err != nil {
		conn.Close()
		return fmt.Errorf("wslink: hello: %w", err)
	}
	_, buf, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("wslink: hello: %w", err)
	}
	m, err := decodeMessage(buf)
	if err != nil {
		conn.Close()
		return err
	}
	mtu, err := helloMTU(m)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.negotiated = mtu
	c.closing = false
	c.mu.Unlock()

	go c.readLoop(conn)
	logger.Debug("wslink", "connected to %s (mtu %d)", addr, mtu)
	return nil
}

func (c *Client) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.negotiated == 0 {
		return c.mtu
	}
	return c.negotiated
}

func (c *Client) send(m message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return link.ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, m.encode())
}

func (c *Client) EnableNotifications(ch protocol.Channel) error {
	return c.send(message{op: opEnable, ch: ch})
}

func (c *Client) Write(ch protocol.Channel, data []byte) error {
	if limit := max(c.MTU()-3, minWriteLength); len(data) > limit {
		return fmt.Errorf("wslink: write of %d bytes exceeds %d", len(data), limit)
	}
	return c.send(message{op: opWrite, ch: ch, payload: data})
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.wmu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		m, err := decodeMessage(buf)
		if err != nil {
			logger.Warn("wslink", "%v", err)
			continue
		}

		h := c.getHandler()
		if h == nil {
			continue
		}
		switch m.op {
		case opWriteDone:
			h.OnWriteComplete(m.ch, peerError("write", m))
		case opEnabled:
			h.OnNotificationsEnabled(m.ch, peerError("subscribe", m))
		case opNotify:
			h.OnNotify(m.ch, m.payload)
		default:
			logger.Warn("wslink", "unexpected op 0x%02X from server", m.op)
		}
	}
}

func (c *Client) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	closing := c.closing
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	if closing || !current {
		return
	}
	logger.Debug("wslink", "read failed: %v", err)
	if h := c.getHandler(); h != nil {
		h.OnDisconnect(fmt.Errorf("%w: %v", link.ErrLinkLost, err))
	}
}

func peerError(op string, m message) error {
	if len(m.payload) == 0 {
		return nil
	}
	return &PeerError{Op: op, Channel: m.ch, Message: string(m.payload)}
}
