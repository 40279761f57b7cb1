package protocol

import "encoding/binary"

// RecordingControl opcodes
const (
	OpRecordingList     = 0x01
	OpRecordingDownload = 0x02
)

// RecordingTransfer opcodes
const (
	OpRecordingStart = 0x30
	OpRecordingData  = 0x31
	OpRecordingEnd   = 0x32
	OpRecordingError = 0x33
)

// RecordingControl is a decoded control request.
type RecordingControl struct {
	Op   uint8
	Name string
}

func EncodeRecordingListRequest() []byte {
	return []byte{OpRecordingList}
}

func EncodeRecordingDownload(name string) []byte {
	return appendShort([]byte{OpRecordingDownload}, name)
}

// DecodeRecordingControl parses a control request.
func DecodeRecordingControl(data []byte) (*RecordingControl, error) {
	if len(data) < 1 {
		return nil, tooShort(ChannelRecordingControl, "opcode", 0, 1)
	}
	rc := &RecordingControl{Op: data[0]}
	switch rc.Op {
	case OpRecordingList:
		return rc, nil
	case OpRecordingDownload:
		name, _, err := readShort(ChannelRecordingControl, data, 1, "recording name")
		if err != nil {
			return nil, err
		}
		rc.Name = name
		return rc, nil
	default:
		return nil, parseErrorf(ChannelRecordingControl, "unknown opcode 0x%02X", rc.Op)
	}
}

// RecordingFrame is a decoded RecordingTransfer notify.
type RecordingFrame struct {
	Op       uint8
	Name     string // start
	MetaSize uint32 // start
	GPXSize  uint32 // start
	Payload  []byte // data
	Message  string // error
}

func EncodeRecordingStart(name string, metaSize, gpxSize uint32) []byte {
	frame := appendShort([]byte{OpRecordingStart}, name)
	frame = binary.BigEndian.AppendUint32(frame, metaSize)
	return binary.BigEndian.AppendUint32(frame, gpxSize)
}

func EncodeRecordingData(payload []byte) []byte {
	return append([]byte{OpRecordingData}, payload...)
}

func EncodeRecordingEnd() []byte {
	return []byte{OpRecordingEnd}
}

func EncodeRecordingError(msg string) []byte {
	return appendShort([]byte{OpRecordingError}, msg)
}

// DecodeRecordingFrame parses a RecordingTransfer notify.
func DecodeRecordingFrame(data []byte) (*RecordingFrame, error) {
	if len(data) < 1 {
		return nil, tooShort(ChannelRecordingTransfer, "opcode", 0, 1)
	}

	f := &RecordingFrame{Op: data[0]}
	switch f.Op {
	case OpRecordingStart:
		name, off, err := readShort(ChannelRecordingTransfer, data, 1, "recording name")
		if err != nil {
			return nil, err
		}
		if len(data) < off+8 {
			return nil, tooShort(ChannelRecordingTransfer, "recording sizes", len(data), off+8)
		}
		f.Name = name
		f.MetaSize = binary.BigEndian.Uint32(data[off:])
		f.GPXSize = binary.BigEndian.Uint32(data[off+4:])
	case OpRecordingData:
		f.Payload = data[1:]
	case OpRecordingEnd:
	case OpRecordingError:
		msg, _, err := readShort(ChannelRecordingTransfer, data, 1, "error message")
		if err != nil {
			return nil, err
		}
		f.Message = msg
	default:
		return nil, parseErrorf(ChannelRecordingTransfer, "unknown opcode 0x%02X", f.Op)
	}
	return f, nil
}
