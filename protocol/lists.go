package protocol

import (
	"encoding/binary"
	"math"
)

// EncodeNameList serializes [count BE2]([len1][name])*. Used by the trip and
// recording list channels.
func EncodeNameList(ch Channel, names []string) ([]byte, error) {
	if len(names) > math.MaxUint16 {
		return nil, parseErrorf(ch, "%d names exceed list capacity", len(names))
	}
	frame := make([]byte, 2, 2+len(names)*8)
	binary.BigEndian.PutUint16(frame, uint16(len(names)))
	for _, name := range names {
		frame = appendShort(frame, name)
	}
	return frame, nil
}

// DecodeNameList parses a name list frame.
func DecodeNameList(ch Channel, data []byte) ([]string, error) {
	if len(data) < 2 {
		return nil, tooShort(ch, "list count", len(data), 2)
	}
	count := int(binary.BigEndian.Uint16(data))
	// every entry needs at least its length byte
	if count > len(data)-2 {
		return nil, parseErrorf(ch, "count %d exceeds remaining %d bytes", count, len(data)-2)
	}

	names := make([]string, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		name, next, err := readShort(ch, data, off, "name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		off = next
	}
	return names, nil
}
