package protocol

import (
	"encoding/binary"
	"math"
)

const (
	NavigateCoordsSize  = 8
	NavigateErrorSize   = 64
	NavigateErrorMarker = 0xFF
	NavigateRequest     = 0x01
)

// HomeReply is what the central answers to a navigate-home request.
type HomeReply struct {
	Lat, Lon float32
	Error    string // set instead of coordinates when no route home exists
}

// IsError reports whether the reply carries an error.
func (r HomeReply) IsError() bool {
	return r.Error != ""
}

// EncodeHomeCoords serializes [lat f32 LE][lon f32 LE].
func EncodeHomeCoords(lat, lon float32) []byte {
	frame := make([]byte, NavigateCoordsSize)
	binary.LittleEndian.PutUint32(frame[0:4], math.Float32bits(lat))
	binary.LittleEndian.PutUint32(frame[4:8], math.Float32bits(lon))
	return frame
}

// EncodeNavigateError serializes [FF][text 63].
func EncodeNavigateError(msg string) []byte {
	frame := make([]byte, NavigateErrorSize)
	frame[0] = NavigateErrorMarker
	putFixed(frame[1:], msg)
	return frame
}

// DecodeHomeReply parses a coordinates or error frame.
func DecodeHomeReply(data []byte) (*HomeReply, error) {
	switch {
	case len(data) == NavigateErrorSize && data[0] == NavigateErrorMarker:
		msg := getFixed(data[1:])
		if msg == "" {
			msg = "unknown error"
		}
		return &HomeReply{Error: msg}, nil
	case len(data) == NavigateCoordsSize:
		return &HomeReply{
			Lat: math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
			Lon: math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
		}, nil
	default:
		return nil, parseErrorf(ChannelNavigateHome, "unexpected %d-byte reply", len(data))
	}
}

// EncodeNavigateRequest is the peripheral's "navigate home" button press.
func EncodeNavigateRequest() []byte {
	return []byte{NavigateRequest}
}

// DecodeNavigateRequest validates a navigate-home request.
func DecodeNavigateRequest(data []byte) error {
	if len(data) != 1 || data[0] != NavigateRequest {
		return parseErrorf(ChannelNavigateHome, "unexpected request % X", data)
	}
	return nil
}
