package protocol

import (
	"errors"
	"fmt"
)

// MaxTileCoord is the largest x or y an AssetKey can carry.
const MaxTileCoord = 0xFFFFF

// ErrKeyRange is returned when a tile coordinate does not fit in 20 bits.
var ErrKeyRange = errors.New("protocol: tile coordinate out of range")

// AssetKey packs a tile address as zoom<<40 | x<<20 | y.
type AssetKey uint64

// PackKey builds the key for tile (zoom, x, y).
func PackKey(zoom uint8, x, y uint32) (AssetKey, error) {
	if x > MaxTileCoord || y > MaxTileCoord {
		return 0, fmt.Errorf("%w: x=%d y=%d", ErrKeyRange, x, y)
	}
	return AssetKey(uint64(zoom)<<40 | uint64(x)<<20 | uint64(y)), nil
}

// Unpack returns the zoom, x and y the key was built from.
func (k AssetKey) Unpack() (zoom uint8, x, y uint32) {
	return uint8(k >> 40), uint32(k>>20) & MaxTileCoord, uint32(k) & MaxTileCoord
}

func (k AssetKey) String() string {
	z, x, y := k.Unpack()
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}
