// Package scenario replays scripted sync sessions against the peripheral
// emulator: a JSON file describes the emulator's starting content and faults,
// a timeline of actions, and the assertions that must hold afterwards.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/user/papersync/protocol"
)

// Scenario is one scripted run.
type Scenario struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Link        LinkConfig       `json:"link"`
	Peripheral  PeripheralConfig `json:"peripheral"`
	Timeline    []TimelineEvent  `json:"timeline"`
	Assertions  []Assertion      `json:"assertions"`
	SettleMs    int              `json:"settle_ms,omitempty"` // wait after the last action; default 100
}

// LinkConfig tunes the in-memory link and the session timeouts.
type LinkConfig struct {
	MTU                int `json:"mtu,omitempty"`
	WriteDelayMs       int `json:"write_delay_ms,omitempty"`
	AckTimeoutMs       int `json:"ack_timeout_ms,omitempty"`
	InventoryTimeoutMs int `json:"inventory_timeout_ms,omitempty"`
}

// PeripheralConfig is what the emulator holds before the run.
type PeripheralConfig struct {
	Trips      []string          `json:"trips,omitempty"`
	Tiles      []string          `json:"tiles,omitempty"` // "z/x/y" keys already stored
	Recordings []RecordingConfig `json:"recordings,omitempty"`
	Faults     FaultConfig       `json:"faults,omitempty"`
}

type RecordingConfig struct {
	Name string `json:"name"`
	Meta string `json:"meta,omitempty"`
	GPX  string `json:"gpx"`
}

// FaultConfig maps onto peripheral.Faults.
type FaultConfig struct {
	RejectTiles       []string `json:"reject_tiles,omitempty"`   // acked with a failure status
	WithholdAcks      []string `json:"withhold_acks,omitempty"`  // never acked
	InventoryError    string   `json:"inventory_error,omitempty"`
	SilentInventory   bool     `json:"silent_inventory,omitempty"`
	TruncateRecording int      `json:"truncate_recording,omitempty"`
}

// TimelineEvent is an action at a point in time, relative to the start.
type TimelineEvent struct {
	TimeMs  int                    `json:"time_ms"`
	Action  string                 `json:"action"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Action types
const (
	ActionConnect             = "connect"
	ActionDropLink            = "drop_link"
	ActionSetAdvertising      = "set_advertising"
	ActionRejectChannel       = "reject_channel"
	ActionSendTiles           = "send_tiles"
	ActionSendRoute           = "send_route"
	ActionSendWeather         = "send_weather"
	ActionSendNotification    = "send_notification"
	ActionRemoveNotification  = "remove_notification"
	ActionStartTrip           = "start_trip"
	ActionStopTrip            = "stop_trip"
	ActionDownloadRecording   = "download_recording"
	ActionDismissNotification = "dismiss_notification" // peripheral side
	ActionTelemetry           = "telemetry"            // peripheral side
	ActionCommand             = "command"              // peripheral side
	ActionNavigateHome        = "navigate_home"        // peripheral side
	ActionSetTrips            = "set_trips"            // peripheral side
)

var knownActions = map[string]bool{
	ActionConnect: true, ActionDropLink: true, ActionSetAdvertising: true, ActionRejectChannel: true,
	ActionSendTiles: true, ActionSendRoute: true, ActionSendWeather: true, ActionSendNotification: true,
	ActionRemoveNotification: true, ActionStartTrip: true, ActionStopTrip: true,
	ActionDownloadRecording: true, ActionDismissNotification: true, ActionTelemetry: true,
	ActionCommand: true, ActionNavigateHome: true, ActionSetTrips: true,
}

// Assertion is an expected outcome checked after the timeline ran.
type Assertion struct {
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Assertion types
const (
	AssertState           = "state"            // data: state
	AssertEvent           = "event"            // data: name, min, max
	AssertTilesSent       = "tiles_sent"       // data: count
	AssertTilesFailed     = "tiles_failed"     // data: count
	AssertTilesSkipped    = "tiles_skipped"    // data: count
	AssertDeviceTiles     = "device_tiles"     // data: count
	AssertRouteStored     = "route_stored"     // data: name
	AssertNotification    = "notification"     // data: id, shown
	AssertActiveTrip      = "active_trip"      // data: name
	AssertRecording       = "recording"        // data: name, complete
	AssertActionFailed    = "action_failed"    // data: action
	AssertClientReadySeen = "client_ready"     // data: count
)

var knownAssertions = map[string]bool{
	AssertState: true, AssertEvent: true, AssertTilesSent: true, AssertTilesFailed: true,
	AssertTilesSkipped: true, AssertDeviceTiles: true, AssertRouteStored: true,
	AssertNotification: true, AssertActiveTrip: true, AssertRecording: true,
	AssertActionFailed: true, AssertClientReadySeen: true,
}

// LoadScenario loads a scenario from a JSON file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := json.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &scenario, nil
}

// Save writes the scenario as indented JSON.
func (s *Scenario) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Duration returns the time of the last timeline event.
func (s *Scenario) Duration() time.Duration {
	maxTime := 0
	for _, event := range s.Timeline {
		maxTime = max(maxTime, event.TimeMs)
	}
	return time.Duration(maxTime) * time.Millisecond
}

// Validate reports every problem found; an empty result means the scenario can run.
func (s *Scenario) Validate() []string {
	var problems []string

	for _, k := range s.Peripheral.Tiles {
		if _, err := ParseKey(k); err != nil {
			problems = append(problems, "Bad stored tile: "+err.Error())
		}
	}
	for _, k := range append(append([]string(nil), s.Peripheral.Faults.RejectTiles...), s.Peripheral.Faults.WithholdAcks...) {
		if _, err := ParseKey(k); err != nil {
			problems = append(problems, "Bad fault tile: "+err.Error())
		}
	}
	for i, event := range s.Timeline {
		if !knownActions[event.Action] {
			problems = append(problems, fmt.Sprintf("Event %d has unknown action %q", i, event.Action))
		}
		if event.TimeMs < 0 {
			problems = append(problems, fmt.Sprintf("Event %d has negative time", i))
		}
	}
	for i, a := range s.Assertions {
		if !knownAssertions[a.Type] {
			problems = append(problems, fmt.Sprintf("Assertion %d has unknown type %q", i, a.Type))
		}
	}
	return problems
}

// ParseKey reads a "z/x/y" tile key.
func ParseKey(s string) (protocol.AssetKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("tile key %q: want z/x/y", s)
	}
	var n [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("tile key %q: %w", s, err)
		}
		n[i] = v
	}
	if n[0] > 255 {
		return 0, fmt.Errorf("tile key %q: zoom out of range", s)
	}
	return protocol.PackKey(uint8(n[0]), uint32(n[1]), uint32(n[2]))
}

func dataString(d map[string]interface{}, key string) string {
	s, _ := d[key].(string)
	return s
}

func dataInt(d map[string]interface{}, key string, def int) int {
	switch v := d[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func dataBool(d map[string]interface{}, key string, def bool) bool {
	if b, ok := d[key].(bool); ok {
		return b
	}
	return def
}

func dataStrings(d map[string]interface{}, key string) []string {
	raw, _ := d[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
