package protocol

import "encoding/binary"

const (
	RadarHeaderSize   = 72
	RadarOverlayBytes = 8192 // 256x256 at 1 bit per pixel
	RadarFrameSize    = RadarHeaderSize + RadarOverlayBytes
	RadarMagic        = 0xA5
	RadarTextSize     = 64

	UnknownBaseMinutes = 0xFFFF
)

// RadarHeader precedes every radar overlay.
type RadarHeader struct {
	Error       bool
	FrameOffset int8 // frames relative to now; negative is past
	StepMinutes uint8
	TotalFrames uint8
	BaseMinutes uint16 // minutes past midnight UTC of frame 0
	NowcastStep uint8
	ErrorText   string
}

// Radar is a header plus a packed overlay (bit 1 = blank).
type Radar struct {
	Header  RadarHeader
	Overlay []byte
}

// RadarError builds a frame that only carries an error message.
func RadarError(msg string) Radar {
	return Radar{Header: RadarHeader{Error: true, BaseMinutes: UnknownBaseMinutes, ErrorText: msg}}
}

// EncodeRadar serializes the header and overlay. A nil overlay is sent blank.
func EncodeRadar(r Radar) ([]byte, error) {
	if r.Overlay != nil && len(r.Overlay) != RadarOverlayBytes {
		return nil, parseErrorf(ChannelRadar, "overlay is %d bytes, want %d", len(r.Overlay), RadarOverlayBytes)
	}

	frame := make([]byte, RadarFrameSize)
	h := r.Header
	if h.Error {
		frame[0] = 1
	}
	frame[1] = byte(h.FrameOffset)
	frame[2] = h.StepMinutes
	frame[3] = h.TotalFrames
	binary.LittleEndian.PutUint16(frame[4:6], h.BaseMinutes)
	frame[6] = RadarMagic
	frame[7] = h.NowcastStep
	putFixed(frame[8:RadarHeaderSize], h.ErrorText)

	if r.Overlay != nil {
		copy(frame[RadarHeaderSize:], r.Overlay)
	} else {
		for i := RadarHeaderSize; i < len(frame); i++ {
			frame[i] = 0xFF
		}
	}
	return frame, nil
}

// DecodeRadar parses a complete radar frame.
func DecodeRadar(data []byte) (*Radar, error) {
	if len(data) < RadarHeaderSize {
		return nil, tooShort(ChannelRadar, "radar header", len(data), RadarHeaderSize)
	}
	if data[6] != RadarMagic {
		return nil, parseErrorf(ChannelRadar, "bad magic 0x%02X", data[6])
	}
	if len(data) != RadarFrameSize {
		return nil, parseErrorf(ChannelRadar, "frame is %d bytes, want %d", len(data), RadarFrameSize)
	}

	return &Radar{
		Header: RadarHeader{
			Error:       data[0] != 0,
			FrameOffset: int8(data[1]),
			StepMinutes: data[2],
			TotalFrames: data[3],
			BaseMinutes: binary.LittleEndian.Uint16(data[4:6]),
			NowcastStep: data[7],
			ErrorText:   getFixed(data[8:RadarHeaderSize]),
		},
		Overlay: data[RadarHeaderSize:],
	}, nil
}
