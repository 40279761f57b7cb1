package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/user/papersync/config"
	"github.com/user/papersync/link/memlink"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/peripheral"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/session"
	"github.com/user/papersync/transfer"
)

// Runner executes a scenario against an in-memory link and emulator.
type Runner struct {
	scenario *Scenario
	cfg      config.Config

	store   *peripheral.MemoryStore
	device  *peripheral.Device
	central *memlink.Central
	session *session.Session

	startTime time.Time
	stopC     chan struct{}
	wg        sync.WaitGroup

	mu               sync.Mutex
	eventLog         []EventLogEntry
	eventCounts      map[string]int
	tiles            transfer.Summary
	recordings       map[string]*transfer.Recording
	failedActions    map[string]int
	assertionResults []AssertionResult
}

// EventLogEntry records an event that occurred during the scenario
type EventLogEntry struct {
	TimeMs    int
	Source    string // "runner", "session" or "peripheral"
	EventType string
	Message   string
}

// AssertionResult records the outcome of an assertion
type AssertionResult struct {
	Assertion *Assertion
	Passed    bool
	Message   string
}

// NewRunner prepares a runner. cfg supplies the session timings; the
// scenario's link section overrides some of them.
func NewRunner(s *Scenario, cfg config.Config) *Runner {
	if s.Link.AckTimeoutMs > 0 {
		cfg.AckTimeout = time.Duration(s.Link.AckTimeoutMs) * time.Millisecond
	}
	if s.Link.InventoryTimeoutMs > 0 {
		cfg.InventoryTimeout = time.Duration(s.Link.InventoryTimeoutMs) * time.Millisecond
	}
	return &Runner{
		scenario:      s,
		cfg:           cfg,
		stopC:         make(chan struct{}),
		eventCounts:   make(map[string]int),
		recordings:    make(map[string]*transfer.Recording),
		failedActions: make(map[string]int),
	}
}

// Setup builds the emulator, link and session.
func (r *Runner) Setup() error {
	if problems := r.scenario.Validate(); len(problems) > 0 {
		return fmt.Errorf("scenario validation failed: %v", problems)
	}

	pc := r.scenario.Peripheral
	r.store = peripheral.NewMemoryStore()
	for _, k := range pc.Tiles {
		key, _ := ParseKey(k)
		if err := r.store.PutTile(key, tileBitmap(key)); err != nil {
			return err
		}
	}
	for _, rec := range pc.Recordings {
		r.store.AddRecording(peripheral.StoredRecording{Name: rec.Name, Meta: []byte(rec.Meta), GPX: []byte(rec.GPX)})
	}

	r.device = peripheral.New(peripheral.Options{Tiles: r.store, Trips: pc.Trips})
	r.device.SetFaults(r.faults())

	sim := memlink.PerfectSimulationConfig()
	if r.scenario.Link.MTU > 0 {
		sim.MTU = r.scenario.Link.MTU
	}
	sim.WriteDelay = time.Duration(r.scenario.Link.WriteDelayMs) * time.Millisecond
	r.central = memlink.New(r.device, sim)

	s, err := session.New(r.central, r.cfg)
	if err != nil {
		return err
	}
	r.session = s
	return nil
}

func (r *Runner) faults() peripheral.Faults {
	fc := r.scenario.Peripheral.Faults
	f := peripheral.Faults{
		InventoryError:    fc.InventoryError,
		SilentInventory:   fc.SilentInventory,
		TruncateRecording: fc.TruncateRecording,
	}
	if len(fc.RejectTiles) == 0 && len(fc.WithholdAcks) == 0 {
		return f
	}

	reject := make(map[protocol.AssetKey]bool)
	for _, k := range fc.RejectTiles {
		key, _ := ParseKey(k)
		reject[key] = true
	}
	withhold := make(map[protocol.AssetKey]bool)
	for _, k := range fc.WithholdAcks {
		key, _ := ParseKey(k)
		withhold[key] = true
	}
	f.AckStatus = func(key protocol.AssetKey) (uint8, bool) {
		switch {
		case withhold[key]:
			return 0, false
		case reject[key]:
			return 1, true
		}
		return protocol.AckStored, true
	}
	return f
}

// tileBitmap is a deterministic test pattern for key.
func tileBitmap(key protocol.AssetKey) []byte {
	b := make([]byte, protocol.TileBitmapBytes)
	seed := byte(key)
	for i := range b {
		if (i/32)%2 == 0 {
			b[i] = 0xFF
		} else {
			b[i] = seed ^ byte(i)
		}
	}
	return b
}

// Run executes the timeline. Action failures are logged, not fatal, so
// assertions can check for them.
func (r *Runner) Run(ctx context.Context) error {
	if r.session == nil {
		return errors.New("scenario: Setup not called")
	}
	r.startTime = time.Now()

	r.wg.Add(1)
	go r.collectEvents()

	timeline := append([]TimelineEvent(nil), r.scenario.Timeline...)
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].TimeMs < timeline[j].TimeMs })

	for _, event := range timeline {
		at := r.startTime.Add(time.Duration(event.TimeMs) * time.Millisecond)
		if wait := time.Until(at); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := r.executeEvent(ctx, &event); err != nil {
			r.mu.Lock()
			r.failedActions[event.Action]++
			r.mu.Unlock()
			r.logEvent("runner", "error", fmt.Sprintf("%s failed: %v", event.Action, err))
		}
	}

	settle := r.scenario.SettleMs
	if settle <= 0 {
		settle = 100
	}
	select {
	case <-time.After(time.Duration(settle) * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close stops the session and the event collector.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
	}
	select {
	case <-r.stopC:
	default:
		close(r.stopC)
	}
	r.wg.Wait()
}

func (r *Runner) collectEvents() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.session.Events():
			r.mu.Lock()
			r.eventCounts[ev.EventName()]++
			if rec, ok := ev.(session.RecordingReceived); ok && rec.Recording != nil {
				r.recordings[rec.Recording.Name] = rec.Recording
			}
			r.mu.Unlock()
			r.logEvent("session", ev.EventName(), describe(ev))
		case <-r.stopC:
			return
		}
	}
}

func describe(ev session.Event) string {
	switch e := ev.(type) {
	case session.StateChanged:
		if e.Reason != "" {
			return fmt.Sprintf("%s -> %s (%s)", e.From, e.To, e.Reason)
		}
		return fmt.Sprintf("%s -> %s", e.From, e.To)
	case session.FrameDropped:
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	}
	return logger.ToJSON(session.Describe(ev))
}

func (r *Runner) executeEvent(ctx context.Context, event *TimelineEvent) error {
	d := event.Data
	r.logEvent("runner", event.Action, event.Comment)

	switch event.Action {
	case ActionConnect:
		return r.session.Connect(ctx)
	case ActionDropLink:
		r.central.Drop()
		return nil
	case ActionSetAdvertising:
		r.central.SetAdvertising(dataBool(d, "on", true))
		return nil
	case ActionRejectChannel:
		ch, ok := channelByName(dataString(d, "channel"))
		if !ok {
			return fmt.Errorf("unknown channel %q", dataString(d, "channel"))
		}
		var err error
		if dataBool(d, "reject", true) {
			err = errors.New("rejected by scenario")
		}
		r.central.RejectNotifications(ch, err)
		return nil

	case ActionSendTiles:
		return r.handleSendTiles(ctx, d)
	case ActionSendRoute:
		return r.session.SendRoute(ctx, protocol.Route{
			Name: dataString(d, "name"),
			GPX:  []byte(dataString(d, "gpx")),
			Meta: []byte(dataString(d, "meta")),
		})
	case ActionSendWeather:
		return r.session.SendWeather(ctx, protocol.Weather{
			Location: dataString(d, "location"),
			Temp:     float64(dataInt(d, "temp", 0)),
			BaseHour: uint8(dataInt(d, "base_hour", 0)),
		})
	case ActionSendNotification:
		return r.session.SendNotification(ctx, protocol.Notification{
			ID:    uint32(dataInt(d, "id", 0)),
			App:   dataString(d, "app"),
			Title: dataString(d, "title"),
			Text:  dataString(d, "text"),
		})
	case ActionRemoveNotification:
		return r.session.RemoveNotification(ctx, uint32(dataInt(d, "id", 0)))
	case ActionStartTrip:
		return r.session.StartTrip(ctx, dataString(d, "name"))
	case ActionStopTrip:
		return r.session.StopTrip(ctx)
	case ActionDownloadRecording:
		return r.handleDownload(ctx, dataString(d, "name"))

	case ActionDismissNotification:
		return delivered(r.device.DismissNotification(uint32(dataInt(d, "id", 0))))
	case ActionTelemetry:
		return delivered(r.device.SendTelemetry(protocol.Telemetry{
			Battery:    uint8(dataInt(d, "battery", 100)),
			GPSStage:   uint8(dataInt(d, "gps_stage", 0)),
			Satellites: uint8(dataInt(d, "satellites", 0)),
		}))
	case ActionCommand:
		c, ok := commandByName(dataString(d, "command"))
		if !ok {
			return fmt.Errorf("unknown command %q", dataString(d, "command"))
		}
		return delivered(r.device.SendCommand(c))
	case ActionNavigateHome:
		return delivered(r.device.RequestNavigateHome())
	case ActionSetTrips:
		r.device.SetTrips(dataStrings(d, "names"))
		return nil
	}
	return fmt.Errorf("unknown action %q", event.Action)
}

func delivered(ok bool) error {
	if !ok {
		return errors.New("peripheral has no central to notify")
	}
	return nil
}

func (r *Runner) handleSendTiles(ctx context.Context, d map[string]interface{}) error {
	var tiles []session.TileAsset
	for _, k := range dataStrings(d, "tiles") {
		key, err := ParseKey(k)
		if err != nil {
			return err
		}
		tiles = append(tiles, session.TileAsset{Key: key, Bitmap: tileBitmap(key)})
	}

	sum, err := r.session.SendTiles(ctx, tiles, session.TileOptions{SkipExisting: dataBool(d, "skip_existing", false)})

	r.mu.Lock()
	r.tiles.Attempted += sum.Attempted
	r.tiles.Succeeded += sum.Succeeded
	r.tiles.Failed += sum.Failed
	r.tiles.Skipped += sum.Skipped
	r.tiles.Failures = append(r.tiles.Failures, sum.Failures...)
	r.mu.Unlock()

	r.logEvent("runner", "tiles", sum.String())
	return err
}

func (r *Runner) handleDownload(ctx context.Context, name string) error {
	rec, err := r.session.DownloadRecording(ctx, name, 0)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.recordings[rec.Name] = rec
	r.mu.Unlock()
	return nil
}

func channelByName(name string) (protocol.Channel, bool) {
	for _, info := range protocol.Channels() {
		if info.Name == name {
			return info.Channel, true
		}
	}
	return 0, false
}

func commandByName(name string) (protocol.DeviceCommand, bool) {
	for c := protocol.MinDeviceCommand; c <= protocol.MaxDeviceCommand; c++ {
		if c.Known() && c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// CheckAssertions evaluates every assertion against the finished run.
func (r *Runner) CheckAssertions() []AssertionResult {
	results := make([]AssertionResult, 0, len(r.scenario.Assertions))
	for i := range r.scenario.Assertions {
		results = append(results, r.checkAssertion(&r.scenario.Assertions[i]))
	}
	r.mu.Lock()
	r.assertionResults = results
	r.mu.Unlock()
	return results
}

func (r *Runner) checkAssertion(a *Assertion) AssertionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := a.Data
	st := r.device.State()

	switch a.Type {
	case AssertState:
		got, reason := r.session.State()
		return result(a, got.String() == dataString(d, "state"), "session is %s (%s)", got, reason)

	case AssertEvent:
		name := dataString(d, "name")
		n := r.eventCounts[name]
		lo, hi := dataInt(d, "min", 1), dataInt(d, "max", -1)
		ok := n >= lo && (hi < 0 || n <= hi)
		return result(a, ok, "%d %s event(s)", n, name)

	case AssertTilesSent:
		return result(a, r.tiles.Succeeded == dataInt(d, "count", 0), "%d tiles acknowledged", r.tiles.Succeeded)
	case AssertTilesFailed:
		return result(a, r.tiles.Failed == dataInt(d, "count", 0), "%d tiles failed", r.tiles.Failed)
	case AssertTilesSkipped:
		return result(a, r.tiles.Skipped == dataInt(d, "count", 0), "%d tiles skipped", r.tiles.Skipped)
	case AssertDeviceTiles:
		keys, _ := r.store.TileKeys()
		return result(a, len(keys) == dataInt(d, "count", 0), "peripheral holds %d tiles", len(keys))

	case AssertRouteStored:
		name := dataString(d, "name")
		return result(a, slices.Contains(st.Routes, name), "routes on peripheral: %v", st.Routes)
	case AssertNotification:
		_, shown := st.Notifications[uint32(dataInt(d, "id", 0))]
		return result(a, shown == dataBool(d, "shown", true), "notification %d shown=%v", dataInt(d, "id", 0), shown)
	case AssertActiveTrip:
		return result(a, st.ActiveTrip == dataString(d, "name"), "active trip %q", st.ActiveTrip)
	case AssertClientReadySeen:
		return result(a, st.ClientReady == dataInt(d, "count", 1), "peripheral saw %d client-ready", st.ClientReady)

	case AssertRecording:
		name := dataString(d, "name")
		rec, ok := r.recordings[name]
		if !ok {
			return result(a, false, "recording %q not received", name)
		}
		want := dataBool(d, "complete", true)
		return result(a, rec.Complete == want, "recording %q complete=%v (%d/%d bytes)", name, rec.Complete, rec.Received, rec.Expected)

	case AssertActionFailed:
		action := dataString(d, "action")
		n := r.failedActions[action]
		return result(a, n >= dataInt(d, "min", 1), "%s failed %d time(s)", action, n)
	}
	return result(a, false, "unknown assertion type %q", a.Type)
}

func result(a *Assertion, passed bool, format string, args ...interface{}) AssertionResult {
	return AssertionResult{Assertion: a, Passed: passed, Message: fmt.Sprintf(format, args...)}
}

func (r *Runner) logEvent(source, eventType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventLog = append(r.eventLog, EventLogEntry{
		TimeMs:    int(time.Since(r.startTime).Milliseconds()),
		Source:    source,
		EventType: eventType,
		Message:   message,
	})
}

// EventLog returns a copy of everything logged so far.
func (r *Runner) EventLog() []EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLogEntry(nil), r.eventLog...)
}

// Passed reports whether every checked assertion passed.
func Passed(results []AssertionResult) bool {
	for _, res := range results {
		if !res.Passed {
			return false
		}
	}
	return true
}
