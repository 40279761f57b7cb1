package session

import (
	"errors"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/transfer"
)

// dispatch routes one inbound notification. Frames that do not decode are
// logged and reported as FrameDropped; they never affect the link.
func (s *Session) dispatch(ch protocol.Channel, data []byte) {
	var ev Event
	var err error

	switch ch {
	case protocol.ChannelTile:
		s.tileAcks.Signal(protocol.DecodeAck(data))
		return
	case protocol.ChannelRoute:
		s.routeAcks.Signal(protocol.DecodeAck(data))
		return

	case protocol.ChannelTripList:
		var names []string
		if names, err = protocol.DecodeNameList(ch, data); err == nil {
			ev = TripListReceived{Names: names}
		}
	case protocol.ChannelRecordingList:
		var names []string
		if names, err = protocol.DecodeNameList(ch, data); err == nil {
			ev = RecordingListReceived{Names: names}
		}

	case protocol.ChannelTripControl:
		ev, err = s.dispatchTripControl(data)

	case protocol.ChannelNotification:
		var id uint32
		if id, err = protocol.DecodeDismissal(data); err == nil {
			ev = NotificationDismissed{ID: id}
		}

	case protocol.ChannelDeviceStatus:
		var in *protocol.DeviceInput
		if in, err = protocol.DecodeDeviceInput(data); err == nil {
			if in.Telemetry != nil {
				ev = TelemetryReceived{Telemetry: *in.Telemetry}
			} else {
				ev = CommandReceived{Command: in.Command}
			}
		}

	case protocol.ChannelNavigateHome:
		if err = protocol.DecodeNavigateRequest(data); err == nil {
			ev = NavigateHomeRequested{}
		}

	case protocol.ChannelRecordingTransfer:
		ev, err = s.dispatchRecording(data)

	default:
		err = &protocol.ParseError{Channel: ch, Reason: "no inbound frames expected"}
	}

	if err != nil {
		logger.Warn("session", "dropping %d-byte frame on %s: %v", len(data), ch, err)
		s.emit(FrameDropped{Channel: ch, Err: err})
		return
	}
	if ev != nil {
		s.emit(ev)
	}
}

func (s *Session) dispatchTripControl(data []byte) (Event, error) {
	tc, err := protocol.DecodeTripControl(data)
	if err != nil {
		return nil, err
	}
	if s.inventory.HandleFrame(tc) {
		return nil, nil
	}
	switch tc.Op {
	case protocol.OpActiveTrip:
		return ActiveTripChanged{Name: tc.Name}, nil
	}
	return nil, &protocol.ParseError{Channel: protocol.ChannelTripControl, Reason: "unexpected " + protocol.TripOpName(tc.Op) + " from peripheral"}
}

func (s *Session) dispatchRecording(data []byte) (Event, error) {
	f, err := protocol.DecodeRecordingFrame(data)
	if err != nil {
		return nil, err
	}
	rec, err := s.recordings.HandleFrame(f)
	if err != nil {
		var peerErr *transfer.PeerError
		if errors.As(err, &peerErr) {
			// Delivered to the download waiter, if any.
			logger.Warn("session", "recording transfer failed: %s", peerErr.Message)
			return nil, nil
		}
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return RecordingReceived{Recording: rec}, nil
}
