package protocol

import (
	"encoding/binary"

	"github.com/user/papersync/rle"
)

const (
	TileHeaderSize  = 14
	TileBitmapBytes = 8192 // 256x256 at 1 bit per pixel
	MaxTilePayload  = TileBitmapBytes

	FlagCompressed = 0x01
)

// Ack status values notified on the Tile and Route channels.
const (
	AckStored = 0x00
)

// Tile is one map tile frame.
type Tile struct {
	Compressed bool
	Zoom       uint8
	X, Y       uint32
	Payload    []byte
}

// NewTile builds the frame for a packed tile bitmap, RLE-compressing it when
// that saves enough space.
func NewTile(key AssetKey, bitmap []byte) Tile {
	zoom, x, y := key.Unpack()
	payload, compressed := rle.Compress(bitmap, MaxTilePayload)
	return Tile{Compressed: compressed, Zoom: zoom, X: x, Y: y, Payload: payload}
}

// Key returns the asset key of the tile.
func (t Tile) Key() AssetKey {
	k, _ := PackKey(t.Zoom, t.X&MaxTileCoord, t.Y&MaxTileCoord)
	return k
}

// Bitmap returns the uncompressed tile bitmap.
func (t Tile) Bitmap() ([]byte, error) {
	if !t.Compressed {
		if len(t.Payload) != TileBitmapBytes {
			return nil, parseErrorf(ChannelTile, "raw payload is %d bytes, want %d", len(t.Payload), TileBitmapBytes)
		}
		return t.Payload, nil
	}
	return rle.Decode(t.Payload, TileBitmapBytes)
}

// EncodeTile serializes [flags][zoom][x BE4][y BE4][len BE4][payload].
func EncodeTile(t Tile) []byte {
	frame := make([]byte, TileHeaderSize+len(t.Payload))
	if t.Compressed {
		frame[0] = FlagCompressed
	}
	frame[1] = t.Zoom
	binary.BigEndian.PutUint32(frame[2:6], t.X)
	binary.BigEndian.PutUint32(frame[6:10], t.Y)
	binary.BigEndian.PutUint32(frame[10:14], uint32(len(t.Payload)))
	copy(frame[TileHeaderSize:], t.Payload)
	return frame
}

// DecodeTile parses a complete tile frame.
func DecodeTile(data []byte) (*Tile, error) {
	if len(data) < TileHeaderSize {
		return nil, tooShort(ChannelTile, "tile header", len(data), TileHeaderSize)
	}

	size := binary.BigEndian.Uint32(data[10:14])
	if uint64(size) > uint64(len(data)-TileHeaderSize) {
		return nil, parseErrorf(ChannelTile, "payload length %d exceeds remaining %d bytes", size, len(data)-TileHeaderSize)
	}
	if size > MaxTilePayload {
		return nil, parseErrorf(ChannelTile, "payload length %d exceeds maximum %d", size, MaxTilePayload)
	}

	return &Tile{
		Compressed: data[0]&FlagCompressed != 0,
		Zoom:       data[1],
		X:          binary.BigEndian.Uint32(data[2:6]),
		Y:          binary.BigEndian.Uint32(data[6:10]),
		Payload:    data[TileHeaderSize : TileHeaderSize+int(size)],
	}, nil
}

// EncodeAck builds an acknowledgement notify.
func EncodeAck(status uint8) []byte {
	return []byte{status}
}

// DecodeAck returns the status carried by an ack. An empty ack means stored.
func DecodeAck(data []byte) uint8 {
	if len(data) == 0 {
		return AckStored
	}
	return data[0]
}
