// Package session drives one link to the peripheral: scanning, connecting,
// the ordered channel activation, inbound dispatch and the reconnect loop.
// Callers send through the Session once it is Ready and read what the
// peripheral reports from Events().
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/papersync/config"
	"github.com/user/papersync/link"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/tracelog"
	"github.com/user/papersync/transfer"
)

var (
	// ErrNotReady is returned by send operations issued before activation finished.
	ErrNotReady = errors.New("session: not ready")

	// ErrConnectTimeout is returned when a link does not reach Ready within the connect bound.
	ErrConnectTimeout = errors.New("session: connect timed out before ready")

	// ErrClosed is returned once Close was called.
	ErrClosed = errors.New("session: closed")
)

// Session owns the transport and all per-link state. It implements
// link.Handler; New registers it with the transport.
type Session struct {
	cfg       config.Config
	transport link.Transport

	gate       *transfer.WriteGate
	pipe       *transfer.Pipe
	out        *transfer.Outbound
	tileAcks   *transfer.AckWaiter
	routeAcks  *transfer.AckWaiter
	inventory  *transfer.InventoryTracker
	recordings *transfer.RecordingReceiver

	events  chan Event
	dropped atomic.Int64

	mu         sync.Mutex
	state      State
	reason     string
	id         uuid.UUID
	plan       []Step
	step       int
	enabled    map[protocol.Channel]bool
	linkCtx    context.Context
	linkCancel context.CancelCauseFunc
	changed    chan struct{}
	trace      *tracelog.Logger
	closed     bool
}

// New returns a disconnected session on t.
func New(t link.Transport, cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		transport:  t,
		tileAcks:   transfer.NewAckWaiter(),
		routeAcks:  transfer.NewAckWaiter(),
		inventory:  transfer.NewInventoryTracker(),
		recordings: transfer.NewRecordingReceiver(),
		events:     make(chan Event, cfg.EventBuffer),
		enabled:    make(map[protocol.Channel]bool),
		changed:    make(chan struct{}),
		trace:      tracelog.New("", false),
	}
	s.gate = transfer.NewWriteGate(cfg.PollInterval, cfg.PollAttempts)
	s.pipe = transfer.NewPipe(tracedWriter{s}, s.gate)
	s.out = transfer.NewOutbound(s.pipe, cfg.AckTimeout)

	t.SetHandler(s)
	return s, nil
}

// tracedWriter is the pipe's view of the transport.
type tracedWriter struct {
	s *Session
}

func (w tracedWriter) Write(ch protocol.Channel, data []byte) error {
	w.s.currentTrace().LogFrame("tx", ch, data)
	return w.s.transport.Write(ch, data)
}

// ID identifies the current link. It changes on every link-up.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state and the reason given for it.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Events delivers what the peripheral reports. Events are dropped, not
// queued, when the buffer is full.
func (s *Session) Events() <-chan Event {
	return s.events
}

// DroppedEvents counts events lost to a full buffer.
func (s *Session) DroppedEvents() int64 {
	return s.dropped.Load()
}

// Enabled reports whether notifications on ch were activated on this link.
func (s *Session) Enabled(ch protocol.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[ch]
}

func (s *Session) currentTrace() *tracelog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace
}

func (s *Session) setStateLocked(to State, reason string) (StateChanged, bool) {
	if s.state == to && s.reason == reason {
		return StateChanged{}, false
	}
	ev := StateChanged{From: s.state, To: to, Reason: reason}
	s.state = to
	s.reason = reason
	close(s.changed)
	s.changed = make(chan struct{})
	return ev, true
}

func (s *Session) setState(to State, reason string) {
	s.mu.Lock()
	ev, ok := s.setStateLocked(to, reason)
	s.mu.Unlock()
	if ok {
		s.transition(ev)
	}
}

func (s *Session) transition(ev StateChanged) {
	switch ev.To {
	case Error:
		logger.Error("session", "%s -> error: %s", ev.From, ev.Reason)
		s.dumpLogTail()
	case Ready:
		logger.Info("session", "ready (link %s)", s.ID())
	default:
		if ev.Reason != "" {
			logger.Info("session", "%s -> %s (%s)", ev.From, ev.To, ev.Reason)
		} else {
			logger.Info("session", "%s -> %s", ev.From, ev.To)
		}
	}
	s.emit(ev)
}

// dumpLogTail saves recent log output next to the frame trace.
func (s *Session) dumpLogTail() {
	tr := s.currentTrace()
	if !tr.Enabled() {
		return
	}
	f, err := os.Create(filepath.Join(tr.Dir(), fmt.Sprintf("error-%d.log", time.Now().Unix())))
	if err != nil {
		return
	}
	defer f.Close()
	logger.Tail(f)
}

func (s *Session) emit(ev Event) {
	logger.DebugJSON("session", ev.EventName(), Describe(ev))
	s.currentTrace().LogEvent(ev.EventName(), ev.fields())

	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		logger.Warn("session", "event buffer full, dropped %s", ev.EventName())
	}
}

// WaitReady blocks until the session is Ready or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		st, changed := s.state, s.changed
		s.mu.Unlock()
		if st == Ready {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Connect makes one attempt to take the session from Disconnected (or Error)
// to Ready: one scan window, connect, activation, client-ready. The whole
// attempt is bounded by the connect timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Disconnected && s.state != Error {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: connect while %s", st)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.setState(Scanning, "")
	scanCtx, scanCancel := context.WithTimeout(ctx, s.cfg.ScanWindow)
	addr, err := s.transport.Scan(scanCtx)
	scanCancel()
	if err != nil {
		s.setState(Disconnected, err.Error())
		return fmt.Errorf("session: scan: %w", err)
	}

	s.setState(Connecting, addr)
	if err := s.transport.Connect(ctx, addr); err != nil {
		s.setState(Error, err.Error())
		return fmt.Errorf("session: connect %s: %w", addr, err)
	}

	first := s.beginLink()
	if err := s.transport.EnableNotifications(first); err != nil {
		err = fmt.Errorf("session: enable %s: %w", first, err)
		s.teardown(Error, err)
		return err
	}

	if err := s.waitActivation(ctx); err != nil {
		s.teardown(Error, err)
		return err
	}
	return nil
}

// beginLink resets per-link state and returns the first channel to enable.
func (s *Session) beginLink() protocol.Channel {
	mtu := s.transport.MTU()
	s.pipe.Reset()
	s.pipe.SetMTU(mtu)
	s.tileAcks.Drain()
	s.routeAcks.Drain()

	s.mu.Lock()
	s.id = uuid.New()
	s.linkCtx, s.linkCancel = context.WithCancelCause(context.Background())
	s.plan = ActivationPlan()
	s.step = 0
	s.enabled = make(map[protocol.Channel]bool)
	s.trace = tracelog.New(s.id.String(), s.cfg.Trace)
	first := s.plan[0].Channel
	ev, ok := s.setStateLocked(Activating, fmt.Sprintf("mtu %d", mtu))
	s.mu.Unlock()

	if ok {
		s.transition(ev)
	}
	return first
}

func (s *Session) waitActivation(ctx context.Context) error {
	for {
		s.mu.Lock()
		st, reason, changed := s.state, s.reason, s.changed
		s.mu.Unlock()

		switch st {
		case Ready:
			return nil
		case Error, Disconnected:
			return fmt.Errorf("session: activation failed: %s", reason)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w (%s)", ErrConnectTimeout, s.cfg.ConnectTimeout)
			}
			return ctx.Err()
		}
	}
}

// fail moves a live link to Error. Teardown is left to whoever waits on it.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == Disconnected || s.state == Error {
		s.mu.Unlock()
		return
	}
	ev, ok := s.setStateLocked(Error, err.Error())
	s.mu.Unlock()
	if ok {
		s.transition(ev)
	}
}

func (s *Session) finishActivation(lctx context.Context) {
	if err := s.out.Send(lctx, protocol.ChannelTripControl, protocol.EncodeClientReady()); err != nil {
		if lctx.Err() == nil {
			s.fail(fmt.Errorf("client-ready: %w", err))
		}
		return
	}

	s.mu.Lock()
	if s.state != Activating || s.linkCtx != lctx {
		s.mu.Unlock()
		return
	}
	ev, ok := s.setStateLocked(Ready, "")
	s.mu.Unlock()
	if ok {
		s.transition(ev)
	}
}

// teardown ends the current link: waiters fail with cause, the transport is
// closed and the state becomes to.
func (s *Session) teardown(to State, cause error) {
	s.mu.Lock()
	cancel := s.linkCancel
	s.linkCancel = nil
	ev, ok := s.setStateLocked(to, cause.Error())
	s.mu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
	s.inventory.Cancel(cause)
	s.recordings.Cancel(cause)
	s.tileAcks.Drain()
	s.routeAcks.Drain()
	s.transport.Close()

	if ok {
		s.transition(ev)
	}
}

// linkDone is closed when the current link ends.
func (s *Session) linkDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkCtx == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.linkCtx.Done()
}

// Close tears the link down and stops the session for good.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown(Disconnected, ErrClosed)
	return nil
}

// Run keeps the session connected until ctx is done: scan windows alternate
// with pauses while nothing is found, failed attempts back off exponentially,
// and a lost link is re-established. Run closes the session on return.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.BackoffMin
	for {
		err := s.Connect(ctx)
		if err == nil {
			backoff = s.cfg.BackoffMin
			select {
			case <-s.linkDone():
				logger.Info("session", "link ended, reconnecting")
				continue
			case <-ctx.Done():
				s.Close()
				return ctx.Err()
			}
		}

		if ctx.Err() != nil {
			s.Close()
			return ctx.Err()
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		wait := backoff
		if errors.Is(err, link.ErrNoPeripheral) {
			wait = s.cfg.ScanPause
		} else {
			backoff = min(backoff*2, s.cfg.BackoffMax)
		}
		logger.Info("session", "%v; retrying in %s", err, wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		}
	}
}

// link.Handler

func (s *Session) OnWriteComplete(ch protocol.Channel, err error) {
	if err != nil {
		logger.Warn("session", "write on %s failed: %v", ch, err)
	}
	s.pipe.WriteComplete(err)
}

func (s *Session) OnNotificationsEnabled(ch protocol.Channel, err error) {
	s.mu.Lock()
	if s.state != Activating || s.step >= len(s.plan) || s.plan[s.step].Channel != ch {
		st := s.state
		s.mu.Unlock()
		logger.Warn("session", "ignoring subscription answer for %s while %s", ch, st)
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(fmt.Errorf("enable %s: %w", ch, err))
		return
	}

	s.enabled[ch] = true
	s.step++
	total := len(s.plan)
	done := s.step == total
	var next protocol.Channel
	if !done {
		next = s.plan[s.step].Channel
	}
	lctx := s.linkCtx
	step := s.step
	s.mu.Unlock()

	logger.Debug("session", "subscribed to %s (%d/%d)", ch, step, total)
	if done {
		go s.finishActivation(lctx)
		return
	}
	if err := s.transport.EnableNotifications(next); err != nil {
		s.fail(fmt.Errorf("enable %s: %w", next, err))
	}
}

func (s *Session) OnNotify(ch protocol.Channel, data []byte) {
	s.currentTrace().LogFrame("rx", ch, data)
	s.dispatch(ch, data)
}

func (s *Session) OnDisconnect(err error) {
	s.mu.Lock()
	live := s.linkCancel != nil
	s.mu.Unlock()
	if !live {
		return
	}
	if err == nil {
		err = link.ErrLinkLost
	}
	if !errors.Is(err, link.ErrLinkLost) {
		err = fmt.Errorf("%w: %v", link.ErrLinkLost, err)
	}
	logger.Warn("session", "link lost: %v", err)
	s.teardown(Disconnected, err)
}
