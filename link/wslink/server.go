package wslink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/papersync/link"
	"github.com/user/papersync/link/memlink"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const helloTimeout = 5 * time.Second

// Server exposes a peer (usually the emulator) to one Client at a time.
type Server struct {
	peer   memlink.Peer
	maxMTU int

	mu     sync.Mutex
	active *serverConn
}

// NewServer serves peer and caps the negotiated MTU at maxMTU.
func NewServer(peer memlink.Peer, maxMTU int) *Server {
	return &Server{peer: peer, maxMTU: maxMTU}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		// Only one central at a time, like a BLE peripheral.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	sc := &serverConn{conn: conn, enabled: make(map[protocol.Channel]bool)}
	s.active = sc
	s.mu.Unlock()

	s.serve(sc)
	s.release(sc)
}

func (s *Server) release(sc *serverConn) {
	s.mu.Lock()
	if s.active == sc {
		s.active = nil
	}
	s.mu.Unlock()
}

// Kick drops the current central, as if it went out of range.
func (s *Server) Kick() {
	s.mu.Lock()
	sc := s.active
	s.mu.Unlock()
	if sc != nil {
		sc.conn.Close()
	}
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wslink: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/link", s)
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		s.Kick()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("wslink", "listening on ws://%s/link", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serve(sc *serverConn) {
	defer sc.conn.Close()

	sc.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, buf, err := sc.conn.ReadMessage()
	if err != nil {
		return
	}
	m, err := decodeMessage(buf)
	if err != nil {
		logger.Warn("wslink", "%v", err)
		return
	}
	want, err := helloMTU(m)
	if err != nil {
		logger.Warn("wslink", "%v", err)
		return
	}
	sc.mtu = want
	if s.maxMTU > 0 {
		sc.mtu = min(want, s.maxMTU)
	}
	sc.mtu = max(sc.mtu, 23)
	if err := sc.send(helloMessage(sc.mtu)); err != nil {
		return
	}
	sc.conn.SetReadDeadline(time.Time{})

	s.peer.Attach(sc)
	defer func() {
		sc.close()
		s.peer.Detach()
		s.release(sc)
	}()
	logger.Info("wslink", "central %s connected (mtu %d)", sc.conn.RemoteAddr(), sc.mtu)

	for {
		_, buf, err := sc.conn.ReadMessage()
		if err != nil {
			logger.Info("wslink", "central %s gone: %v", sc.conn.RemoteAddr(), err)
			return
		}
		m, err := decodeMessage(buf)
		if err != nil {
			logger.Warn("wslink", "%v", err)
			continue
		}

		switch m.op {
		case opWrite:
			werr := s.peer.HandleWrite(m.ch, m.payload)
			if err := sc.send(message{op: opWriteDone, ch: m.ch, payload: errorPayload(werr)}); err != nil {
				return
			}
		case opEnable:
			eerr := sc.enable(m.ch)
			if err := sc.send(message{op: opEnabled, ch: m.ch, payload: errorPayload(eerr)}); err != nil {
				return
			}
		default:
			logger.Warn("wslink", "unexpected op 0x%02X from central", m.op)
		}
	}
}

// serverConn is the peripheral side of one connection. It is the peer's
// memlink.Notifier.
type serverConn struct {
	conn *websocket.Conn
	mtu  int

	mu      sync.Mutex
	enabled map[protocol.Channel]bool
	closed  bool

	wmu sync.Mutex
}

func (sc *serverConn) enable(ch protocol.Channel) error {
	info, ok := ch.Info()
	if !ok || !info.Notify {
		return fmt.Errorf("%s has no notify property", ch)
	}
	sc.mu.Lock()
	sc.enabled[ch] = true
	sc.mu.Unlock()
	return nil
}

func (sc *serverConn) close() {
	sc.mu.Lock()
	sc.closed = true
	sc.mu.Unlock()
}

func (sc *serverConn) send(m message) error {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	return sc.conn.WriteMessage(websocket.BinaryMessage, m.encode())
}

func (sc *serverConn) Notify(ch protocol.Channel, data []byte) error {
	sc.mu.Lock()
	closed := sc.closed
	enabled := sc.enabled[ch]
	sc.mu.Unlock()

	if closed {
		return link.ErrNotConnected
	}
	if !enabled {
		return fmt.Errorf("wslink: notifications not enabled on %s", ch)
	}
	return sc.send(message{op: opNotify, ch: ch, payload: data})
}

func (sc *serverConn) MTU() int {
	return sc.mtu
}
