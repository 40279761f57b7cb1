package protocol

import (
	"bytes"
	"testing"
)

// reassemble feeds chunks to a receiver that cuts frames with FrameLength.
func reassemble(t *testing.T, ch Channel, chunks [][]byte) [][]byte {
	t.Helper()

	var buf []byte
	var frames [][]byte
	for _, c := range chunks {
		buf = append(buf, c...)
		for {
			n, err := FrameLength(ch, buf)
			if err != nil {
				t.Fatalf("FrameLength failed: %v", err)
			}
			if n == 0 || len(buf) < n {
				break
			}
			frames = append(frames, append([]byte(nil), buf[:n]...))
			buf = buf[n:]
		}
	}
	if len(buf) != 0 {
		t.Fatalf("%d bytes left over", len(buf))
	}
	return frames
}

func split(data []byte, size int) [][]byte {
	var chunks [][]byte
	for off := 0; off < len(data); off += size {
		chunks = append(chunks, data[off:min(off+size, len(data))])
	}
	return chunks
}

func TestFrameLength_ReassemblyAnyChunkSize(t *testing.T) {
	bitmap := make([]byte, TileBitmapBytes)
	for i := range bitmap {
		bitmap[i] = byte(i * 7)
	}
	key, _ := PackKey(16, 34000, 22000)
	tileFrame := EncodeTile(NewTile(key, bitmap))
	routeFrame, _ := EncodeRoute(Route{Name: "Ridge", GPX: bytes.Repeat([]byte("<trkpt/>"), 300), Meta: []byte("{}")})
	notif, _ := EncodeNotificationAdd(Notification{ID: 1, Title: "hi"})
	radar, _ := EncodeRadar(RadarError("x"))

	tests := []struct {
		name   string
		ch     Channel
		frames [][]byte
	}{
		{"tile", ChannelTile, [][]byte{tileFrame}},
		{"route", ChannelRoute, [][]byte{routeFrame}},
		{"weather", ChannelWeather, [][]byte{EncodeWeather(Weather{Location: "Bern"})}},
		{"radar", ChannelRadar, [][]byte{radar}},
		{"notification", ChannelNotification, [][]byte{notif, EncodeNotificationRemove(1)}},
		{"device status", ChannelDeviceStatus, [][]byte{EncodeDeviceStatus(DeviceStatus{Battery: 9})}},
		{"navigate", ChannelNavigateHome, [][]byte{EncodeHomeCoords(1, 2), EncodeNavigateError("nope")}},
		{"recording control", ChannelRecordingControl, [][]byte{EncodeRecordingListRequest(), EncodeRecordingDownload("a")}},
		{"trip control", ChannelTripControl, [][]byte{EncodeStartTrip("Long name for a trip"), EncodeStopTrip(), EncodeClientReady(), EncodeInventoryRequest()}},
	}

	for _, tt := range tests {
		for _, size := range []int{1, 2, 7, 20, 182, 244, 509, 100000} {
			var stream []byte
			for _, f := range tt.frames {
				stream = append(stream, f...)
			}

			got := reassemble(t, tt.ch, split(stream, size))
			if len(got) != len(tt.frames) {
				t.Fatalf("%s/%d: got %d frames, want %d", tt.name, size, len(got), len(tt.frames))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.frames[i]) {
					t.Errorf("%s/%d: frame %d mismatch", tt.name, size, i)
				}
			}
		}
	}
}

func TestFrameLength_Errors(t *testing.T) {
	if _, err := FrameLength(ChannelTripList, []byte{0}); err == nil {
		t.Error("Expected notify-only channel to reject writes")
	}
	if _, err := FrameLength(ChannelNotification, []byte{9}); err == nil {
		t.Error("Expected unknown notification opcode to fail")
	}
	if n, err := FrameLength(ChannelTile, make([]byte, 5)); n != 0 || err != nil {
		t.Errorf("Expected need-more for partial header, got %d, %v", n, err)
	}
}
