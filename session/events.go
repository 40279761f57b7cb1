package session

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/papersync/protocol"
	"github.com/user/papersync/transfer"
)

// Event is something the peripheral (or the link) told the session. Each
// inbound frame type has one variant.
type Event interface {
	EventName() string
	fields() map[string]interface{}
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	From, To State
	Reason   string
}

// TripListReceived carries the trips stored on the peripheral.
type TripListReceived struct {
	Names []string
}

// RecordingListReceived carries the recorded trips available for download.
type RecordingListReceived struct {
	Names []string
}

// ActiveTripChanged reports the trip the peripheral is navigating; "" is none.
type ActiveTripChanged struct {
	Name string
}

// NotificationDismissed is sent when the user clears a notification on the display.
type NotificationDismissed struct {
	ID uint32
}

type TelemetryReceived struct {
	Telemetry protocol.Telemetry
}

// CommandReceived is a button or menu action on the peripheral.
type CommandReceived struct {
	Command protocol.DeviceCommand
}

type NavigateHomeRequested struct{}

// RecordingReceived is emitted for every finished recording transfer,
// requested or not.
type RecordingReceived struct {
	Recording *transfer.Recording
}

// FrameDropped reports an inbound frame that could not be decoded or routed.
type FrameDropped struct {
	Channel protocol.Channel
	Err     error
}

func (StateChanged) EventName() string          { return "state-changed" }
func (TripListReceived) EventName() string      { return "trip-list" }
func (RecordingListReceived) EventName() string { return "recording-list" }
func (ActiveTripChanged) EventName() string     { return "active-trip" }
func (NotificationDismissed) EventName() string { return "notification-dismissed" }
func (TelemetryReceived) EventName() string     { return "telemetry" }
func (CommandReceived) EventName() string       { return "command" }
func (NavigateHomeRequested) EventName() string { return "navigate-home" }
func (RecordingReceived) EventName() string     { return "recording" }
func (FrameDropped) EventName() string          { return "frame-dropped" }

func (e StateChanged) fields() map[string]interface{} {
	return map[string]interface{}{"from": e.From.String(), "to": e.To.String(), "reason": e.Reason}
}

func (e TripListReceived) fields() map[string]interface{} {
	return map[string]interface{}{"names": stringList(e.Names)}
}

func (e RecordingListReceived) fields() map[string]interface{} {
	return map[string]interface{}{"names": stringList(e.Names)}
}

func (e ActiveTripChanged) fields() map[string]interface{} {
	return map[string]interface{}{"name": e.Name}
}

func (e NotificationDismissed) fields() map[string]interface{} {
	return map[string]interface{}{"id": int64(e.ID)}
}

func (e TelemetryReceived) fields() map[string]interface{} {
	return map[string]interface{}{
		"battery":    int(e.Telemetry.Battery),
		"gps_stage":  int(e.Telemetry.GPSStage),
		"satellites": int(e.Telemetry.Satellites),
	}
}

func (e CommandReceived) fields() map[string]interface{} {
	return map[string]interface{}{"command": e.Command.String(), "code": int(e.Command)}
}

func (NavigateHomeRequested) fields() map[string]interface{} {
	return map[string]interface{}{}
}

func (e RecordingReceived) fields() map[string]interface{} {
	r := e.Recording
	if r == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"name":     r.Name,
		"complete": r.Complete,
		"received": r.Received,
		"expected": r.Expected,
	}
}

func (e FrameDropped) fields() map[string]interface{} {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return map[string]interface{}{"channel": e.Channel.String(), "error": msg}
}

func stringList(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Describe renders an event as a protobuf Struct for logs and traces.
func Describe(ev Event) *structpb.Struct {
	f := ev.fields()
	f["event"] = ev.EventName()
	s, err := structpb.NewStruct(f)
	if err != nil {
		s, _ = structpb.NewStruct(map[string]interface{}{"event": ev.EventName(), "error": err.Error()})
	}
	return s
}
