package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPackKey_RoundTrip(t *testing.T) {
	tests := []struct {
		zoom uint8
		x, y uint32
	}{
		{0, 0, 0},
		{255, MaxTileCoord, MaxTileCoord},
		{14, 8514, 5504},
		{1, MaxTileCoord, 0},
		{200, 0, MaxTileCoord},
	}

	for _, tt := range tests {
		key, err := PackKey(tt.zoom, tt.x, tt.y)
		if err != nil {
			t.Fatalf("PackKey(%d,%d,%d) failed: %v", tt.zoom, tt.x, tt.y, err)
		}
		z, x, y := key.Unpack()
		if z != tt.zoom || x != tt.x || y != tt.y {
			t.Errorf("Unpack(PackKey(%d,%d,%d)) = (%d,%d,%d)", tt.zoom, tt.x, tt.y, z, x, y)
		}
	}

	key, _ := PackKey(3, 1, 2)
	if uint64(key) != 3<<40|1<<20|2 {
		t.Errorf("Unexpected packing 0x%X", uint64(key))
	}
	if key.String() != "3/1/2" {
		t.Errorf("String() = %q", key.String())
	}
}

func TestPackKey_OutOfRange(t *testing.T) {
	if _, err := PackKey(1, MaxTileCoord+1, 0); !errors.Is(err, ErrKeyRange) {
		t.Errorf("Expected ErrKeyRange for x, got %v", err)
	}
	if _, err := PackKey(1, 0, MaxTileCoord+1); !errors.Is(err, ErrKeyRange) {
		t.Errorf("Expected ErrKeyRange for y, got %v", err)
	}
}

func TestChannelTable(t *testing.T) {
	order := ActivationOrder()
	if len(order) != 9 {
		t.Fatalf("Expected 9 channels to activate, got %d", len(order))
	}
	if order[0] != ChannelTripList || order[len(order)-1] != ChannelRecordingTransfer {
		t.Errorf("Unexpected activation order %v", order)
	}

	seen := map[string]bool{}
	for _, info := range Channels() {
		if seen[info.UUID] {
			t.Errorf("Duplicate UUID %s", info.UUID)
		}
		seen[info.UUID] = true

		ch, ok := ChannelByUUID(strings.ToLower(info.UUID))
		if !ok || ch != info.Channel {
			t.Errorf("ChannelByUUID(%s) = %v, %v", info.UUID, ch, ok)
		}
	}

	for _, ch := range order {
		info, _ := ch.Info()
		if !info.Notify {
			t.Errorf("Channel %s in activation order but not notify-capable", ch)
		}
	}
	if Channel(0).Valid() || Channel(13).Valid() {
		t.Error("Expected channels 0 and 13 to be invalid")
	}
}

func TestTile_EncodeDecode(t *testing.T) {
	bitmap := bytes.Repeat([]byte{0xFF}, TileBitmapBytes)
	bitmap[100] = 0x00
	key, _ := PackKey(15, 17000, 11000)

	tile := NewTile(key, bitmap)
	if !tile.Compressed {
		t.Fatal("Expected sparse tile to be compressed")
	}

	frame := EncodeTile(tile)
	if frame[0] != FlagCompressed || frame[1] != 15 {
		t.Errorf("Unexpected header % X", frame[:2])
	}
	if !bytes.Equal(frame[2:6], []byte{0x00, 0x00, 0x42, 0x68}) {
		t.Errorf("x not big-endian: % X", frame[2:6])
	}

	decoded, err := DecodeTile(frame)
	if err != nil {
		t.Fatalf("DecodeTile failed: %v", err)
	}
	if decoded.Key() != key {
		t.Errorf("Key = %v, want %v", decoded.Key(), key)
	}
	raw, err := decoded.Bitmap()
	if err != nil {
		t.Fatalf("Bitmap failed: %v", err)
	}
	if !bytes.Equal(raw, bitmap) {
		t.Error("Bitmap round trip mismatch")
	}
}

func TestTile_Incompressible(t *testing.T) {
	bitmap := make([]byte, TileBitmapBytes)
	for i := range bitmap {
		bitmap[i] = byte(i)
	}
	tile := NewTile(0, bitmap)
	if tile.Compressed {
		t.Fatal("Expected noisy tile to be sent raw")
	}
	if len(EncodeTile(tile)) != TileHeaderSize+TileBitmapBytes {
		t.Errorf("Unexpected frame size")
	}
}

func TestDecodeTile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"short header", make([]byte, 13)},
		{"length beyond buffer", append(make([]byte, 10), 0, 0, 0, 9, 1, 2)},
		{"length beyond maximum", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTile(tt.frame)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ParseError, got %v", err)
			}
			if pe.Channel != ChannelTile {
				t.Errorf("Channel = %v", pe.Channel)
			}
		})
	}
}

func TestAck(t *testing.T) {
	if DecodeAck(nil) != AckStored {
		t.Error("Empty ack should mean stored")
	}
	if DecodeAck(EncodeAck(3)) != 3 {
		t.Error("Status not preserved")
	}
}

func TestRoute_EncodeDecode(t *testing.T) {
	r := Route{Name: "Lakeside loop", GPX: []byte("<gpx></gpx>"), Meta: []byte{1, 2, 3}}
	frame, err := EncodeRoute(r)
	if err != nil {
		t.Fatalf("EncodeRoute failed: %v", err)
	}
	if !bytes.Equal(frame[:RouteHeaderSize], []byte{0, 13, 0, 0, 0, 11, 0, 0, 0, 3}) {
		t.Errorf("Unexpected header % X", frame[:RouteHeaderSize])
	}

	decoded, err := DecodeRoute(frame)
	if err != nil {
		t.Fatalf("DecodeRoute failed: %v", err)
	}
	if decoded.Name != r.Name || !bytes.Equal(decoded.GPX, r.GPX) || !bytes.Equal(decoded.Meta, r.Meta) {
		t.Errorf("Decoded = %+v", decoded)
	}

	if _, err := DecodeRoute(frame[:len(frame)-1]); err == nil {
		t.Error("Expected error for truncated route")
	}
}

func TestWeather_EncodeDecode(t *testing.T) {
	sunrise := time.Date(2024, 6, 1, 4, 45, 0, 0, time.UTC)
	w := Weather{
		Location:  "Zürich",
		Temp:      -3.4,
		FeelsLike: -7.0,
		Condition: 4,
		Humidity:  81,
		WindSpeed: 12.5,
		WindDir:   270,
		Pressure:  1013,
		Precip:    40,
		Sunrise:   sunrise,
		Sunset:    sunrise.Add(16 * time.Hour),
		BaseHour:  22,
	}
	for i := range w.Hourly {
		w.Hourly[i] = HourlyForecast{Temp: float64(i) - 0.5, Condition: uint8(i), Precip: uint8(10 * i)}
	}

	rec := EncodeWeather(w)
	if len(rec) != WeatherRecordSize {
		t.Fatalf("Record is %d bytes, want %d", len(rec), WeatherRecordSize)
	}
	// -34 little-endian
	if rec[97] != 0xDE || rec[98] != 0xFF {
		t.Errorf("Temp bytes = % X", rec[97:99])
	}

	decoded, err := DecodeWeather(rec)
	if err != nil {
		t.Fatalf("DecodeWeather failed: %v", err)
	}
	if decoded.Location != w.Location || decoded.Temp != w.Temp || decoded.WindSpeed != w.WindSpeed {
		t.Errorf("Decoded = %+v", decoded)
	}
	if !decoded.Sunrise.Equal(sunrise) {
		t.Errorf("Sunrise = %v", decoded.Sunrise)
	}
	if decoded.Hourly[5].Precip != 50 || decoded.Hourly[0].Temp != -0.5 {
		t.Errorf("Hourly = %+v", decoded.Hourly)
	}
	if decoded.Hour(3) != 1 {
		t.Errorf("Hour(3) = %d, want 1", decoded.Hour(3))
	}

	errRec := EncodeWeather(WeatherError("no fix"))
	decoded, err = DecodeWeather(errRec)
	if err != nil {
		t.Fatalf("DecodeWeather failed: %v", err)
	}
	if !decoded.Error || decoded.ErrorText != "no fix" || !decoded.Sunrise.IsZero() {
		t.Errorf("Decoded error record = %+v", decoded)
	}
}

func TestFixedStrings_TruncateOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 40) // 80 bytes
	w := Weather{Location: long}
	decoded, err := DecodeWeather(EncodeWeather(w))
	if err != nil {
		t.Fatalf("DecodeWeather failed: %v", err)
	}
	if decoded.Location != strings.Repeat("é", 16) {
		t.Errorf("Location = %q", decoded.Location)
	}

	odd := "a" + strings.Repeat("é", 40)
	decoded, _ = DecodeWeather(EncodeWeather(Weather{Location: odd}))
	if decoded.Location != "a"+strings.Repeat("é", 15) {
		t.Errorf("Location = %q", decoded.Location)
	}
}

func TestRadar_EncodeDecode(t *testing.T) {
	overlay := bytes.Repeat([]byte{0xF0}, RadarOverlayBytes)
	r := Radar{
		Header:  RadarHeader{FrameOffset: -2, StepMinutes: 5, TotalFrames: 12, BaseMinutes: 615, NowcastStep: 3},
		Overlay: overlay,
	}
	frame, err := EncodeRadar(r)
	if err != nil {
		t.Fatalf("EncodeRadar failed: %v", err)
	}
	if len(frame) != RadarFrameSize || frame[6] != RadarMagic || frame[1] != 0xFE {
		t.Errorf("Unexpected header % X", frame[:8])
	}

	decoded, err := DecodeRadar(frame)
	if err != nil {
		t.Fatalf("DecodeRadar failed: %v", err)
	}
	if decoded.Header != r.Header || !bytes.Equal(decoded.Overlay, overlay) {
		t.Errorf("Decoded header = %+v", decoded.Header)
	}

	frame[6] = 0
	if _, err := DecodeRadar(frame); err == nil {
		t.Error("Expected bad magic to fail")
	}

	if _, err := EncodeRadar(Radar{Overlay: []byte{1}}); err == nil {
		t.Error("Expected short overlay to fail")
	}

	errFrame, _ := EncodeRadar(RadarError("radar offline"))
	decoded, err = DecodeRadar(errFrame)
	if err != nil {
		t.Fatalf("DecodeRadar failed: %v", err)
	}
	if !decoded.Header.Error || decoded.Header.BaseMinutes != UnknownBaseMinutes || decoded.Overlay[0] != 0xFF {
		t.Errorf("Unexpected error frame %+v", decoded.Header)
	}
}

func TestNotification_EncodeDecode(t *testing.T) {
	icon := bytes.Repeat([]byte{0xAA}, NotificationIconBytes)
	n := Notification{ID: 0x01020304, App: "Messages", Title: "Anna", Text: "On my way", Icon: icon}
	frame, err := EncodeNotificationAdd(n)
	if err != nil {
		t.Fatalf("EncodeNotificationAdd failed: %v", err)
	}
	if len(frame) != 425 {
		t.Fatalf("Frame is %d bytes, want 425", len(frame))
	}
	if !bytes.Equal(frame[:5], []byte{0x01, 0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("Unexpected header % X", frame[:5])
	}

	decoded, err := DecodeNotification(frame)
	if err != nil {
		t.Fatalf("DecodeNotification failed: %v", err)
	}
	got := decoded.Notification
	if got.ID != n.ID || got.App != n.App || got.Title != n.Title || got.Text != n.Text || !bytes.Equal(got.Icon, icon) {
		t.Errorf("Decoded = %+v", got)
	}

	noIcon, _ := EncodeNotificationAdd(Notification{ID: 7})
	decoded, _ = DecodeNotification(noIcon)
	if decoded.Notification.Icon != nil {
		t.Error("Expected no icon")
	}

	if _, err := EncodeNotificationAdd(Notification{Icon: []byte{1}}); err == nil {
		t.Error("Expected wrong icon size to fail")
	}

	id, err := DecodeDismissal(EncodeNotificationRemove(99))
	if err != nil || id != 99 {
		t.Errorf("DecodeDismissal = %d, %v", id, err)
	}
	if _, err := DecodeDismissal([]byte{0x02, 0}); err == nil {
		t.Error("Expected short dismissal to fail")
	}
}

func TestNameList(t *testing.T) {
	names := []string{"Morning ride", "", "Col du Galibier"}
	frame, err := EncodeNameList(ChannelTripList, names)
	if err != nil {
		t.Fatalf("EncodeNameList failed: %v", err)
	}
	if frame[0] != 0 || frame[1] != 3 || frame[2] != 12 {
		t.Errorf("Unexpected header % X", frame[:3])
	}

	decoded, err := DecodeNameList(ChannelTripList, frame)
	if err != nil {
		t.Fatalf("DecodeNameList failed: %v", err)
	}
	if len(decoded) != 3 || decoded[2] != names[2] || decoded[1] != "" {
		t.Errorf("Decoded = %q", decoded)
	}

	tests := []struct {
		name  string
		frame []byte
	}{
		{"no count", []byte{0}},
		{"count beyond data", []byte{0, 5, 0}},
		{"name beyond data", []byte{0, 1, 10, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeNameList(ChannelRecordingList, tt.frame); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestTripControl(t *testing.T) {
	k1, _ := PackKey(12, 1, 2)
	k2, _ := PackKey(13, 3, 4)

	tests := []struct {
		name  string
		frame []byte
		check func(t *testing.T, tc *TripControl)
	}{
		{"stop", EncodeStopTrip(), func(t *testing.T, tc *TripControl) {}},
		{"start", EncodeStartTrip("Commute"), func(t *testing.T, tc *TripControl) {
			if tc.Name != "Commute" {
				t.Errorf("Name = %q", tc.Name)
			}
		}},
		{"no active trip", EncodeActiveTrip(""), func(t *testing.T, tc *TripControl) {
			if tc.Name != "" {
				t.Errorf("Name = %q", tc.Name)
			}
		}},
		{"inventory start", EncodeInventoryStart(70000), func(t *testing.T, tc *TripControl) {
			if tc.Count != 70000 {
				t.Errorf("Count = %d", tc.Count)
			}
		}},
		{"inventory data", EncodeInventoryData([]AssetKey{k1, k2}), func(t *testing.T, tc *TripControl) {
			if len(tc.Keys) != 2 || tc.Keys[0] != k1 || tc.Keys[1] != k2 {
				t.Errorf("Keys = %v", tc.Keys)
			}
		}},
		{"inventory error", EncodeInventoryError("sd card busy"), func(t *testing.T, tc *TripControl) {
			if tc.Message != "sd card busy" {
				t.Errorf("Message = %q", tc.Message)
			}
		}},
		{"client ready", EncodeClientReady(), func(t *testing.T, tc *TripControl) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := DecodeTripControl(tt.frame)
			if err != nil {
				t.Fatalf("DecodeTripControl failed: %v", err)
			}
			if tc.Op != tt.frame[0] {
				t.Errorf("Op = 0x%02X", tc.Op)
			}
			tt.check(t, tc)
		})
	}

	if _, err := DecodeTripControl([]byte{OpInventoryData, 1, 2, 3}); err == nil {
		t.Error("Expected partial key record to fail")
	}
	if _, err := DecodeTripControl([]byte{0x42}); err == nil {
		t.Error("Expected unknown opcode to fail")
	}
	if TripOpName(OpClientReady) != "client-ready" {
		t.Errorf("TripOpName = %q", TripOpName(OpClientReady))
	}
}

func TestInventoryFrames(t *testing.T) {
	keys := make([]AssetKey, 10)
	for i := range keys {
		keys[i], _ = PackKey(10, uint32(i), uint32(i))
	}

	frames := InventoryFrames(keys, 20) // two keys per data frame
	if len(frames) != 7 {
		t.Fatalf("Expected 7 frames, got %d", len(frames))
	}

	var collected []AssetKey
	for _, f := range frames {
		tc, err := DecodeTripControl(f)
		if err != nil {
			t.Fatalf("DecodeTripControl failed: %v", err)
		}
		collected = append(collected, tc.Keys...)
	}
	if len(collected) != len(keys) || collected[9] != keys[9] {
		t.Errorf("Collected %v", collected)
	}
}

func TestDeviceStatus(t *testing.T) {
	s := DeviceStatus{
		MusicPlaying: true, Title: "Song", Artist: "Band", Battery: 77, Charging: true,
		WiFi: true, SSID: "home", WiFiStrength: 3, CellStrength: 4, CellType: "LTE", NotifySync: true,
	}
	rec := EncodeDeviceStatus(s)
	if len(rec) != DeviceStatusSize {
		t.Fatalf("Record is %d bytes", len(rec))
	}
	decoded, err := DecodeDeviceStatus(rec)
	if err != nil {
		t.Fatalf("DecodeDeviceStatus failed: %v", err)
	}
	if *decoded != s {
		t.Errorf("Decoded = %+v, want %+v", *decoded, s)
	}
}

func TestDecodeDeviceInput(t *testing.T) {
	in, err := DecodeDeviceInput(EncodeTelemetry(Telemetry{Battery: 50, GPSStage: 2, Satellites: 9}))
	if err != nil || in.Telemetry == nil || in.Telemetry.Satellites != 9 {
		t.Fatalf("Telemetry decode = %+v, %v", in, err)
	}

	in, err = DecodeDeviceInput(EncodeCommand(CmdRequestRadar))
	if err != nil || in.Command != CmdRequestRadar || in.Telemetry != nil {
		t.Fatalf("Command decode = %+v, %v", in, err)
	}

	in, err = DecodeDeviceInput([]byte{0x15})
	if err != nil || in.Command.Known() {
		t.Errorf("Expected unnamed in-range command, got %+v, %v", in, err)
	}

	for _, bad := range [][]byte{{0x00}, {0x22}, {1, 2}, nil} {
		if _, err := DecodeDeviceInput(bad); err == nil {
			t.Errorf("Expected % X to fail", bad)
		}
	}
}

func TestNavigateHome(t *testing.T) {
	frame := EncodeHomeCoords(47.5, 8.25)
	if !bytes.Equal(frame[:4], []byte{0x00, 0x00, 0x3E, 0x42}) {
		t.Errorf("lat not little-endian float: % X", frame[:4])
	}
	reply, err := DecodeHomeReply(frame)
	if err != nil || reply.IsError() || reply.Lat != 47.5 || reply.Lon != 8.25 {
		t.Errorf("DecodeHomeReply = %+v, %v", reply, err)
	}

	reply, err = DecodeHomeReply(EncodeNavigateError("no home set"))
	if err != nil || reply.Error != "no home set" {
		t.Errorf("DecodeHomeReply = %+v, %v", reply, err)
	}

	if err := DecodeNavigateRequest(EncodeNavigateRequest()); err != nil {
		t.Errorf("DecodeNavigateRequest failed: %v", err)
	}
	if err := DecodeNavigateRequest([]byte{2}); err == nil {
		t.Error("Expected bad request to fail")
	}
}

func TestRecordingFrames(t *testing.T) {
	f, err := DecodeRecordingFrame(EncodeRecordingStart("2024-06-01.rec", 10, 20))
	if err != nil {
		t.Fatalf("DecodeRecordingFrame failed: %v", err)
	}
	if f.Op != OpRecordingStart || f.Name != "2024-06-01.rec" || f.MetaSize != 10 || f.GPXSize != 20 {
		t.Errorf("Start = %+v", f)
	}

	f, _ = DecodeRecordingFrame(EncodeRecordingData([]byte{9, 8}))
	if !bytes.Equal(f.Payload, []byte{9, 8}) {
		t.Errorf("Payload = % X", f.Payload)
	}

	f, _ = DecodeRecordingFrame(EncodeRecordingError("not found"))
	if f.Message != "not found" {
		t.Errorf("Message = %q", f.Message)
	}

	if _, err := DecodeRecordingFrame([]byte{OpRecordingStart, 1, 'a', 0, 0}); err == nil {
		t.Error("Expected truncated start to fail")
	}

	rc, err := DecodeRecordingControl(EncodeRecordingDownload("ride"))
	if err != nil || rc.Op != OpRecordingDownload || rc.Name != "ride" {
		t.Errorf("DecodeRecordingControl = %+v, %v", rc, err)
	}
}
