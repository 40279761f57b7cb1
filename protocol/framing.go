package protocol

import "encoding/binary"

// FrameLength reports the total size of the central-to-peripheral frame that
// starts at buf. It returns 0 when more bytes are needed to tell. A receiver
// uses it to reassemble frames that were split into several writes.
func FrameLength(ch Channel, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	switch ch {
	case ChannelTile:
		if len(buf) < TileHeaderSize {
			return 0, nil
		}
		size := binary.BigEndian.Uint32(buf[10:14])
		if size > MaxTilePayload {
			return 0, parseErrorf(ch, "payload length %d exceeds maximum %d", size, MaxTilePayload)
		}
		return TileHeaderSize + int(size), nil

	case ChannelRoute:
		if len(buf) < RouteHeaderSize {
			return 0, nil
		}
		nameLen, gpxLen, metaLen := routeSizes(buf)
		return RouteHeaderSize + nameLen + gpxLen + metaLen, nil

	case ChannelWeather:
		return WeatherRecordSize, nil

	case ChannelRadar:
		return RadarFrameSize, nil

	case ChannelDeviceStatus:
		return DeviceStatusSize, nil

	case ChannelNotification:
		switch buf[0] {
		case NotificationAdd:
			return NotificationAddSize, nil
		case NotificationRemove:
			return NotificationRemoveSize, nil
		}

	case ChannelNavigateHome:
		if buf[0] == NavigateErrorMarker {
			return NavigateErrorSize, nil
		}
		return NavigateCoordsSize, nil

	case ChannelRecordingControl:
		switch buf[0] {
		case OpRecordingList:
			return 1, nil
		case OpRecordingDownload:
			return shortFrameLength(buf)
		}

	case ChannelTripControl:
		switch buf[0] {
		case OpStopTrip, OpInventoryRequest, OpInventoryEnd, OpClientReady:
			return 1, nil
		case OpStartTrip, OpActiveTrip, OpInventoryError:
			return shortFrameLength(buf)
		case OpInventoryStart:
			return 5, nil
		}

	default:
		return 0, parseErrorf(ch, "channel does not accept writes")
	}

	return 0, parseErrorf(ch, "unknown opcode 0x%02X", buf[0])
}

// shortFrameLength sizes an [op][len1][bytes] frame.
func shortFrameLength(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, nil
	}
	return 2 + int(buf[1]), nil
}
