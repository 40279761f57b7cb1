package protocol

import "fmt"

const (
	DeviceStatusSize = 256
	TelemetrySize    = 3

	statusTitleSize    = 64
	statusArtistSize   = 32
	statusSSIDSize     = 32
	statusCellTypeSize = 16
)

// DeviceStatus is the phone state mirrored onto the display.
type DeviceStatus struct {
	MusicPlaying bool
	Title        string
	Artist       string
	Battery      uint8 // percent
	Charging     bool
	WiFi         bool
	SSID         string
	WiFiStrength uint8
	CellStrength uint8
	CellType     string
	NotifySync   bool
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeDeviceStatus serializes the 256-byte status record.
func EncodeDeviceStatus(s DeviceStatus) []byte {
	rec := make([]byte, DeviceStatusSize)
	off := 0
	rec[off] = boolByte(s.MusicPlaying)
	off++
	putFixed(rec[off:off+statusTitleSize], s.Title)
	off += statusTitleSize
	putFixed(rec[off:off+statusArtistSize], s.Artist)
	off += statusArtistSize
	rec[off] = s.Battery
	rec[off+1] = boolByte(s.Charging)
	rec[off+2] = boolByte(s.WiFi)
	off += 3
	putFixed(rec[off:off+statusSSIDSize], s.SSID)
	off += statusSSIDSize
	rec[off] = s.WiFiStrength
	rec[off+1] = s.CellStrength
	off += 2
	putFixed(rec[off:off+statusCellTypeSize], s.CellType)
	off += statusCellTypeSize
	rec[off] = boolByte(s.NotifySync)
	return rec
}

// DecodeDeviceStatus parses the status record.
func DecodeDeviceStatus(data []byte) (*DeviceStatus, error) {
	if len(data) != DeviceStatusSize {
		return nil, parseErrorf(ChannelDeviceStatus, "record is %d bytes, want %d", len(data), DeviceStatusSize)
	}
	s := &DeviceStatus{}
	off := 0
	s.MusicPlaying = data[off] != 0
	off++
	s.Title = getFixed(data[off : off+statusTitleSize])
	off += statusTitleSize
	s.Artist = getFixed(data[off : off+statusArtistSize])
	off += statusArtistSize
	s.Battery = data[off]
	s.Charging = data[off+1] != 0
	s.WiFi = data[off+2] != 0
	off += 3
	s.SSID = getFixed(data[off : off+statusSSIDSize])
	off += statusSSIDSize
	s.WiFiStrength = data[off]
	s.CellStrength = data[off+1]
	off += 2
	s.CellType = getFixed(data[off : off+statusCellTypeSize])
	off += statusCellTypeSize
	s.NotifySync = data[off] != 0
	return s, nil
}

// DeviceCommand is a one-byte command sent by the peripheral.
type DeviceCommand uint8

const (
	CmdRefresh        DeviceCommand = 0x01
	CmdPlayPause      DeviceCommand = 0x02
	CmdNextTrack      DeviceCommand = 0x03
	CmdPreviousTrack  DeviceCommand = 0x04
	CmdVolumeUp       DeviceCommand = 0x05
	CmdVolumeDown     DeviceCommand = 0x06
	CmdVoiceStart     DeviceCommand = 0x10
	CmdVoiceStop      DeviceCommand = 0x11
	CmdRequestWeather DeviceCommand = 0x20
	CmdRequestRadar   DeviceCommand = 0x21

	MinDeviceCommand = CmdRefresh
	MaxDeviceCommand = CmdRequestRadar
)

var commandNames = map[DeviceCommand]string{
	CmdRefresh:        "refresh",
	CmdPlayPause:      "play-pause",
	CmdNextTrack:      "next-track",
	CmdPreviousTrack:  "previous-track",
	CmdVolumeUp:       "volume-up",
	CmdVolumeDown:     "volume-down",
	CmdVoiceStart:     "voice-start",
	CmdVoiceStop:      "voice-stop",
	CmdRequestWeather: "request-weather",
	CmdRequestRadar:   "request-radar",
}

func (c DeviceCommand) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(0x%02X)", uint8(c))
}

// Known reports whether c has a named meaning.
func (c DeviceCommand) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Telemetry is the periodic peripheral health report.
type Telemetry struct {
	Battery    uint8
	GPSStage   uint8
	Satellites uint8
}

// DeviceInput is what the peripheral sends on the status channel: either
// telemetry or a command.
type DeviceInput struct {
	Telemetry *Telemetry
	Command   DeviceCommand
}

func EncodeTelemetry(t Telemetry) []byte {
	return []byte{t.Battery, t.GPSStage, t.Satellites}
}

func EncodeCommand(c DeviceCommand) []byte {
	return []byte{byte(c)}
}

// DecodeDeviceInput parses a status-channel notify.
func DecodeDeviceInput(data []byte) (*DeviceInput, error) {
	switch len(data) {
	case TelemetrySize:
		return &DeviceInput{Telemetry: &Telemetry{
			Battery:    data[0],
			GPSStage:   data[1],
			Satellites: data[2],
		}}, nil
	case 1:
		c := DeviceCommand(data[0])
		if c < MinDeviceCommand || c > MaxDeviceCommand {
			return nil, parseErrorf(ChannelDeviceStatus, "command 0x%02X out of range", data[0])
		}
		return &DeviceInput{Command: c}, nil
	default:
		return nil, parseErrorf(ChannelDeviceStatus, "unexpected %d-byte input", len(data))
	}
}
