package memlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/papersync/link"
	"github.com/user/papersync/protocol"
)

type echoPeer struct {
	mu       sync.Mutex
	notifier Notifier
	writes   [][]byte
	detached int
	fail     error
}

func (p *echoPeer) Attach(n Notifier) {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
}

func (p *echoPeer) HandleWrite(ch protocol.Channel, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, data)
	return p.fail
}

func (p *echoPeer) Detach() {
	p.mu.Lock()
	p.detached++
	p.mu.Unlock()
}

func (p *echoPeer) getNotifier() Notifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifier
}

type event struct {
	kind string
	ch   protocol.Channel
	data []byte
	err  error
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 64)}
}

func (r *recorder) OnWriteComplete(ch protocol.Channel, err error) {
	r.events <- event{kind: "write", ch: ch, err: err}
}

func (r *recorder) OnNotificationsEnabled(ch protocol.Channel, err error) {
	r.events <- event{kind: "enabled", ch: ch, err: err}
}

func (r *recorder) OnNotify(ch protocol.Channel, data []byte) {
	r.events <- event{kind: "notify", ch: ch, data: data}
}

func (r *recorder) OnDisconnect(err error) {
	r.events <- event{kind: "disconnect", err: err}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for transport event")
		return event{}
	}
}

func connected(t *testing.T, peer *echoPeer) (*Central, *recorder) {
	t.Helper()
	c := New(peer, PerfectSimulationConfig())
	rec := newRecorder()
	c.SetHandler(rec)

	addr, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if peer.getNotifier() == nil {
		t.Fatal("Peer was not attached")
	}
	return c, rec
}

func TestCentral_WriteCompletes(t *testing.T) {
	peer := &echoPeer{}
	c, rec := connected(t, peer)
	defer c.Close()

	if err := c.Write(protocol.ChannelWeather, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	ev := rec.next(t)
	if ev.kind != "write" || ev.ch != protocol.ChannelWeather || ev.err != nil {
		t.Fatalf("Event = %+v", ev)
	}

	if err := c.Write(protocol.ChannelWeather, make([]byte, c.MTU())); err == nil {
		t.Error("Expected error for oversized write")
	}

	peer.fail = errors.New("write rejected")
	c.Write(protocol.ChannelWeather, []byte{1})
	if ev := rec.next(t); ev.err == nil {
		t.Error("Expected write error to be reported")
	}
}

func TestCentral_NotificationsInOrder(t *testing.T) {
	peer := &echoPeer{}
	c, rec := connected(t, peer)
	defer c.Close()

	n := peer.getNotifier()
	if err := n.Notify(protocol.ChannelTripList, []byte{0}); err == nil {
		t.Fatal("Notify before subscription should fail")
	}

	c.EnableNotifications(protocol.ChannelTripList)
	if ev := rec.next(t); ev.kind != "enabled" || ev.err != nil {
		t.Fatalf("Event = %+v", ev)
	}

	for i := range 50 {
		if err := n.Notify(protocol.ChannelTripList, []byte{byte(i)}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	for i := range 50 {
		ev := rec.next(t)
		if ev.kind != "notify" || ev.data[0] != byte(i) {
			t.Fatalf("Notification %d out of order: %+v", i, ev)
		}
	}
}

func TestCentral_EnableRejected(t *testing.T) {
	peer := &echoPeer{}
	c, rec := connected(t, peer)
	defer c.Close()

	c.RejectNotifications(protocol.ChannelTile, errors.New("cccd write failed"))
	c.EnableNotifications(protocol.ChannelTile)
	if ev := rec.next(t); ev.err == nil {
		t.Error("Expected rejection")
	}

	c.EnableNotifications(protocol.ChannelWeather)
	if ev := rec.next(t); ev.err == nil {
		t.Error("Expected error for a channel without notify")
	}
}

func TestCentral_DropAndClose(t *testing.T) {
	peer := &echoPeer{}
	c, rec := connected(t, peer)

	c.Drop()
	ev := rec.next(t)
	if ev.kind != "disconnect" || !errors.Is(ev.err, link.ErrLinkLost) {
		t.Fatalf("Event = %+v", ev)
	}
	if c.Connected() {
		t.Error("Still connected after drop")
	}
	if err := c.Write(protocol.ChannelTile, []byte{1}); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// reconnect, then Close does not report a disconnect
	if err := c.Connect(context.Background(), c.Address()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	c.Close()
	select {
	case ev := <-rec.events:
		t.Errorf("Unexpected event after Close: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	if peer.detached != 2 {
		t.Errorf("detached = %d", peer.detached)
	}
}

func TestCentral_ScanAndConnectFailures(t *testing.T) {
	c := New(&echoPeer{}, PerfectSimulationConfig())
	c.SetAdvertising(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Scan(ctx); !errors.Is(err, link.ErrNoPeripheral) {
		t.Errorf("Expected ErrNoPeripheral, got %v", err)
	}

	c.SetAdvertising(true)
	c.FailConnects(2)
	for range 2 {
		if err := c.Connect(context.Background(), c.Address()); err == nil {
			t.Fatal("Expected connect failure")
		}
	}
	if err := c.Connect(context.Background(), c.Address()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Close()

	if err := c.Connect(context.Background(), "elsewhere"); err == nil {
		t.Error("Expected error for unknown address")
	}
}
