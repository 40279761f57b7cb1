package protocol

import (
	"encoding/binary"
	"math"
)

const RouteHeaderSize = 10

// Route is a named GPX track plus an opaque metadata blob.
type Route struct {
	Name string
	GPX  []byte
	Meta []byte
}

// EncodeRoute serializes [nameLen BE2][gpxLen BE4][metaLen BE4][name][gpx][meta].
func EncodeRoute(r Route) ([]byte, error) {
	name := truncateUTF8(r.Name, math.MaxUint16)
	if uint64(len(r.GPX)) > math.MaxUint32 || uint64(len(r.Meta)) > math.MaxUint32 {
		return nil, parseErrorf(ChannelRoute, "route body too large")
	}

	frame := make([]byte, RouteHeaderSize, RouteHeaderSize+len(name)+len(r.GPX)+len(r.Meta))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(name)))
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(r.GPX)))
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(r.Meta)))
	frame = append(frame, name...)
	frame = append(frame, r.GPX...)
	frame = append(frame, r.Meta...)
	return frame, nil
}

// routeSizes returns the declared name, gpx and meta lengths.
func routeSizes(data []byte) (int, int, int) {
	return int(binary.BigEndian.Uint16(data[0:2])),
		int(binary.BigEndian.Uint32(data[2:6])),
		int(binary.BigEndian.Uint32(data[6:10]))
}

// DecodeRoute parses a complete route frame.
func DecodeRoute(data []byte) (*Route, error) {
	if len(data) < RouteHeaderSize {
		return nil, tooShort(ChannelRoute, "route header", len(data), RouteHeaderSize)
	}

	nameLen, gpxLen, metaLen := routeSizes(data)
	remaining := len(data) - RouteHeaderSize
	if nameLen > remaining || gpxLen > remaining-nameLen || metaLen > remaining-nameLen-gpxLen {
		return nil, parseErrorf(ChannelRoute, "declared lengths %d+%d+%d exceed remaining %d bytes",
			nameLen, gpxLen, metaLen, remaining)
	}

	off := RouteHeaderSize
	r := &Route{Name: string(data[off : off+nameLen])}
	off += nameLen
	r.GPX = data[off : off+gpxLen]
	off += gpxLen
	r.Meta = data[off : off+metaLen]
	return r, nil
}
