// Package peripheral emulates the e-paper display end of the link. It
// reassembles central writes per channel, stores tiles and acknowledges them,
// answers inventory and recording requests, and lets tests and the demo CLI
// inject the events a real device would raise.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/user/papersync/link"
	"github.com/user/papersync/link/memlink"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

const minNotifySize = 20

// Options configures a Device.
type Options struct {
	Tiles      TileStore       // nil uses a MemoryStore
	Recordings RecordingSource // nil uses the same MemoryStore as Tiles when possible
	Trips      []string
}

// Faults makes the device misbehave in controlled ways.
type Faults struct {
	// AckStatus overrides the tile ack. Returning send=false withholds it.
	AckStatus func(key protocol.AssetKey) (status uint8, send bool)
	// InventoryError answers inventory requests with an error frame.
	InventoryError string
	// SilentInventory ignores inventory requests.
	SilentInventory bool
	// TruncateRecording withholds this many trailing bytes of each download.
	TruncateRecording int
}

// State is a snapshot of what the device has received.
type State struct {
	Attached          bool
	ClientReady       int
	Tiles             int
	Routes            []string
	Weather           *protocol.Weather
	Radar             *protocol.RadarHeader
	Notifications     map[uint32]protocol.Notification
	Status            *protocol.DeviceStatus
	Home              *protocol.HomeReply
	ActiveTrip        string
	InventoryRequests int
	Downloads         []string
	Rejected          int
}

// Device is the emulated peripheral. It implements memlink.Peer.
type Device struct {
	id         string
	tiles      TileStore
	recordings RecordingSource

	mu       sync.Mutex
	notifier memlink.Notifier
	bufs     map[protocol.Channel][]byte
	trips    []string
	faults   Faults
	state    State
	changed  chan struct{}
}

// New returns a device with empty storage unless opts provides some.
func New(opts Options) *Device {
	d := &Device{
		id:         uuid.New().String(),
		tiles:      opts.Tiles,
		recordings: opts.Recordings,
		bufs:       make(map[protocol.Channel][]byte),
		trips:      append([]string(nil), opts.Trips...),
		changed:    make(chan struct{}),
	}
	if d.tiles == nil {
		d.tiles = NewMemoryStore()
	}
	if d.recordings == nil {
		if src, ok := d.tiles.(RecordingSource); ok {
			d.recordings = src
		} else {
			d.recordings = NewMemoryStore()
		}
	}
	d.state.Notifications = make(map[uint32]protocol.Notification)
	return d
}

// ID identifies this device instance in logs.
func (d *Device) ID() string {
	return d.id
}

func (d *Device) tag() string {
	return "peripheral " + d.id[:8]
}

// SetFaults replaces the active fault configuration.
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	d.faults = f
	d.mu.Unlock()
}

func (d *Device) Attach(n memlink.Notifier) {
	d.mu.Lock()
	d.notifier = n
	d.bufs = make(map[protocol.Channel][]byte)
	d.state.Attached = true
	d.bumpLocked()
	d.mu.Unlock()
	logger.Info(d.tag(), "central attached (mtu %d)", n.MTU())
}

func (d *Device) Detach() {
	d.mu.Lock()
	d.notifier = nil
	d.bufs = make(map[protocol.Channel][]byte)
	d.state.Attached = false
	d.bumpLocked()
	d.mu.Unlock()
	logger.Info(d.tag(), "central detached")
}

// HandleWrite accumulates data on ch and processes every complete frame.
func (d *Device) HandleWrite(ch protocol.Channel, data []byte) error {
	d.mu.Lock()
	buf := d.bufs[ch]
	// A lone 8-byte write is a coordinate pair even when it starts with the
	// error marker byte.
	if ch == protocol.ChannelNavigateHome && len(buf) == 0 && len(data) == protocol.NavigateCoordsSize {
		d.mu.Unlock()
		d.handleFrame(ch, data)
		return nil
	}
	buf = append(buf, data...)

	var frames [][]byte
	for len(buf) > 0 {
		n, err := protocol.FrameLength(ch, buf)
		if err != nil {
			delete(d.bufs, ch)
			d.state.Rejected++
			d.bumpLocked()
			d.mu.Unlock()
			logger.Warn(d.tag(), "dropping %s buffer: %v", ch, err)
			return err
		}
		if n == 0 || len(buf) < n {
			break
		}
		frames = append(frames, buf[:n:n])
		buf = buf[n:]
	}
	if len(buf) == 0 {
		delete(d.bufs, ch)
	} else {
		d.bufs[ch] = buf
	}
	d.mu.Unlock()

	for _, f := range frames {
		d.handleFrame(ch, f)
	}
	return nil
}

func (d *Device) handleFrame(ch protocol.Channel, frame []byte) {
	logger.Trace(d.tag(), "rx %s frame (%d bytes)", ch, len(frame))

	var err error
	switch ch {
	case protocol.ChannelTile:
		d.handleTile(frame)
	case protocol.ChannelRoute:
		d.handleRoute(frame)
	case protocol.ChannelWeather:
		var w *protocol.Weather
		if w, err = protocol.DecodeWeather(frame); err == nil {
			d.update(func(s *State) { s.Weather = w })
		}
	case protocol.ChannelRadar:
		var r *protocol.Radar
		if r, err = protocol.DecodeRadar(frame); err == nil {
			d.update(func(s *State) { s.Radar = &r.Header })
		}
	case protocol.ChannelNotification:
		err = d.handleNotification(frame)
	case protocol.ChannelDeviceStatus:
		var st *protocol.DeviceStatus
		if st, err = protocol.DecodeDeviceStatus(frame); err == nil {
			d.update(func(s *State) { s.Status = st })
		}
	case protocol.ChannelNavigateHome:
		var h *protocol.HomeReply
		if h, err = protocol.DecodeHomeReply(frame); err == nil {
			d.update(func(s *State) { s.Home = h })
		}
	case protocol.ChannelTripControl:
		err = d.handleTripControl(frame)
	case protocol.ChannelRecordingControl:
		err = d.handleRecordingControl(frame)
	}

	if err != nil {
		d.update(func(s *State) { s.Rejected++ })
		logger.Warn(d.tag(), "rejected %s frame: %v", ch, err)
	}
}

func (d *Device) handleTile(frame []byte) {
	status := uint8(protocol.AckStored)
	var key protocol.AssetKey

	tile, err := protocol.DecodeTile(frame)
	if err == nil {
		key = tile.Key()
		var bitmap []byte
		if bitmap, err = tile.Bitmap(); err == nil {
			err = d.tiles.PutTile(key, bitmap)
		}
	}
	if err != nil {
		status = 1
		logger.Warn(d.tag(), "tile %s not stored: %v", key, err)
	} else {
		d.update(func(s *State) { s.Tiles++ })
		logger.Debug(d.tag(), "stored tile %s (compressed=%v)", key, tile.Compressed)
	}

	d.mu.Lock()
	override := d.faults.AckStatus
	d.mu.Unlock()
	if override != nil {
		var send bool
		if status, send = override(key); !send {
			return
		}
	}
	d.notify(protocol.ChannelTile, protocol.EncodeAck(status))
}

func (d *Device) handleRoute(frame []byte) {
	route, err := protocol.DecodeRoute(frame)
	if err != nil {
		logger.Warn(d.tag(), "route rejected: %v", err)
		d.notify(protocol.ChannelRoute, protocol.EncodeAck(1))
		return
	}
	d.update(func(s *State) { s.Routes = append(s.Routes, route.Name) })
	logger.Debug(d.tag(), "stored route %q (%d bytes gpx)", route.Name, len(route.GPX))
	d.notify(protocol.ChannelRoute, protocol.EncodeAck(protocol.AckStored))
}

func (d *Device) handleNotification(frame []byte) error {
	nf, err := protocol.DecodeNotification(frame)
	if err != nil {
		return err
	}
	d.update(func(s *State) {
		switch nf.Op {
		case protocol.NotificationAdd:
			s.Notifications[nf.Notification.ID] = nf.Notification
		case protocol.NotificationRemove:
			delete(s.Notifications, nf.Notification.ID)
		}
	})
	return nil
}

func (d *Device) handleTripControl(frame []byte) error {
	tc, err := protocol.DecodeTripControl(frame)
	if err != nil {
		return err
	}

	switch tc.Op {
	case protocol.OpStartTrip:
		d.update(func(s *State) { s.ActiveTrip = tc.Name })
		d.notify(protocol.ChannelTripControl, protocol.EncodeActiveTrip(tc.Name))
	case protocol.OpStopTrip:
		d.update(func(s *State) { s.ActiveTrip = "" })
		d.notify(protocol.ChannelTripControl, protocol.EncodeActiveTrip(""))
	case protocol.OpActiveTrip:
		d.update(func(s *State) { s.ActiveTrip = tc.Name })
	case protocol.OpInventoryRequest:
		d.update(func(s *State) { s.InventoryRequests++ })
		d.answerInventory()
	case protocol.OpClientReady:
		d.update(func(s *State) { s.ClientReady++ })
		d.sendTripList()
		d.sendRecordingList()
	default:
		return fmt.Errorf("unexpected trip-control op %s", protocol.TripOpName(tc.Op))
	}
	return nil
}

func (d *Device) answerInventory() {
	d.mu.Lock()
	faults := d.faults
	d.mu.Unlock()

	if faults.SilentInventory {
		logger.Debug(d.tag(), "ignoring inventory request")
		return
	}
	if faults.InventoryError != "" {
		d.notify(protocol.ChannelTripControl, protocol.EncodeInventoryError(faults.InventoryError))
		return
	}

	keys, err := d.tiles.TileKeys()
	if err != nil {
		d.notify(protocol.ChannelTripControl, protocol.EncodeInventoryError(err.Error()))
		return
	}
	for _, f := range protocol.InventoryFrames(keys, d.notifySize()) {
		if !d.notify(protocol.ChannelTripControl, f) {
			return
		}
	}
	logger.Debug(d.tag(), "sent inventory of %d tiles", len(keys))
}

func (d *Device) handleRecordingControl(frame []byte) error {
	rc, err := protocol.DecodeRecordingControl(frame)
	if err != nil {
		return err
	}
	switch rc.Op {
	case protocol.OpRecordingList:
		d.sendRecordingList()
	case protocol.OpRecordingDownload:
		d.update(func(s *State) { s.Downloads = append(s.Downloads, rc.Name) })
		d.streamRecording(rc.Name)
	}
	return nil
}

func (d *Device) streamRecording(name string) {
	meta, gpx, ok, err := d.recordings.Recording(name)
	switch {
	case err != nil:
		d.notify(protocol.ChannelRecordingTransfer, protocol.EncodeRecordingError(err.Error()))
		return
	case !ok:
		d.notify(protocol.ChannelRecordingTransfer, protocol.EncodeRecordingError("recording not found: "+name))
		return
	}

	body := make([]byte, 0, len(meta)+len(gpx))
	body = append(append(body, meta...), gpx...)

	d.mu.Lock()
	cut := d.faults.TruncateRecording
	d.mu.Unlock()
	if cut > 0 {
		body = body[:max(len(body)-cut, 0)]
	}

	if !d.notify(protocol.ChannelRecordingTransfer, protocol.EncodeRecordingStart(name, uint32(len(meta)), uint32(len(gpx)))) {
		return
	}
	step := d.notifySize() - 1
	for off := 0; off < len(body); off += step {
		end := min(off+step, len(body))
		if !d.notify(protocol.ChannelRecordingTransfer, protocol.EncodeRecordingData(body[off:end])) {
			return
		}
	}
	d.notify(protocol.ChannelRecordingTransfer, protocol.EncodeRecordingEnd())
	logger.Debug(d.tag(), "streamed recording %q (%d bytes)", name, len(body))
}

// SetTrips replaces the trip list and pushes it to an attached central.
func (d *Device) SetTrips(names []string) {
	d.mu.Lock()
	d.trips = append([]string(nil), names...)
	d.mu.Unlock()
	d.sendTripList()
}

func (d *Device) sendTripList() {
	d.mu.Lock()
	names := append([]string(nil), d.trips...)
	d.mu.Unlock()
	d.sendNameList(protocol.ChannelTripList, names)
}

// SendRecordingList pushes the current recording names.
func (d *Device) SendRecordingList() {
	d.sendRecordingList()
}

func (d *Device) sendRecordingList() {
	names, err := d.recordings.RecordingNames()
	if err != nil {
		logger.Warn(d.tag(), "listing recordings: %v", err)
		return
	}
	d.sendNameList(protocol.ChannelRecordingList, names)
}

// sendNameList drops trailing names until the list fits one notification.
func (d *Device) sendNameList(ch protocol.Channel, names []string) {
	limit := d.notifySize()
	for {
		frame, err := protocol.EncodeNameList(ch, names)
		if err != nil {
			logger.Warn(d.tag(), "encoding %s: %v", ch, err)
			return
		}
		if len(frame) <= limit || len(names) == 0 {
			d.notify(ch, frame)
			return
		}
		names = names[:len(names)-1]
	}
}

// DismissNotification removes a notification as if the user swiped it away.
func (d *Device) DismissNotification(id uint32) bool {
	d.update(func(s *State) { delete(s.Notifications, id) })
	return d.notify(protocol.ChannelNotification, protocol.EncodeNotificationRemove(id))
}

// SendTelemetry reports battery and GPS state.
func (d *Device) SendTelemetry(t protocol.Telemetry) bool {
	return d.notify(protocol.ChannelDeviceStatus, protocol.EncodeTelemetry(t))
}

// SendCommand reports a button press or menu action.
func (d *Device) SendCommand(c protocol.DeviceCommand) bool {
	return d.notify(protocol.ChannelDeviceStatus, protocol.EncodeCommand(c))
}

// RequestNavigateHome asks the central for a route home.
func (d *Device) RequestNavigateHome() bool {
	return d.notify(protocol.ChannelNavigateHome, protocol.EncodeNavigateRequest())
}

// State returns a snapshot of what the device holds.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// WaitFor blocks until cond holds for the device state or ctx is done.
func (d *Device) WaitFor(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		d.mu.Lock()
		st := d.snapshotLocked()
		changed := d.changed
		d.mu.Unlock()

		if cond(st) {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (d *Device) snapshotLocked() State {
	st := d.state
	st.Routes = append([]string(nil), d.state.Routes...)
	st.Downloads = append([]string(nil), d.state.Downloads...)
	st.Notifications = maps.Clone(d.state.Notifications)
	return st
}

func (d *Device) update(fn func(*State)) {
	d.mu.Lock()
	fn(&d.state)
	d.bumpLocked()
	d.mu.Unlock()
}

func (d *Device) bumpLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

func (d *Device) notifySize() int {
	d.mu.Lock()
	n := d.notifier
	d.mu.Unlock()
	if n == nil {
		return minNotifySize
	}
	return max(n.MTU()-3, minNotifySize)
}

// notify sends one notification and reports whether it was queued.
func (d *Device) notify(ch protocol.Channel, data []byte) bool {
	d.mu.Lock()
	n := d.notifier
	d.mu.Unlock()
	if n == nil {
		logger.Debug(d.tag(), "no central for %s notify", ch)
		return false
	}
	if err := n.Notify(ch, data); err != nil {
		if !errors.Is(err, link.ErrNotConnected) {
			logger.Warn(d.tag(), "notify %s: %v", ch, err)
		}
		return false
	}
	return true
}
