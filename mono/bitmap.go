// Package mono turns color rasters into the packed 1-bit bitmaps the e-paper
// peripheral displays: dithered map tiles, Otsu-thresholded notification icons
// and reprojected weather radar overlays.
//
// All bitmaps are row-major, MSB-first, with each row padded to a whole byte.
package mono

import (
	"fmt"
	"image"
	"image/color"
)

// Display geometry shared with the peripheral firmware
const (
	TileWidth  = 256
	TileHeight = 256
	TileBytes  = TileWidth * TileHeight / 8 // 8192

	IconSize  = 39
	IconBytes = ((IconSize + 7) / 8) * IconSize // 195

	RadarWidth  = 256
	RadarHeight = 256
	RadarBytes  = RadarWidth * RadarHeight / 8
)

// DimensionError is returned when an input raster does not have the size a
// transform requires.
type DimensionError struct {
	WantWidth, WantHeight int
	GotWidth, GotHeight   int
	Reason                string
}

func (e *DimensionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("mono: %s", e.Reason)
	}
	return fmt.Sprintf("mono: image is %dx%d, want %dx%d", e.GotWidth, e.GotHeight, e.WantWidth, e.WantHeight)
}

// ThresholdError is returned when no binarization threshold can be computed.
type ThresholdError struct {
	Reason string
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("mono: threshold: %s", e.Reason)
}

// RowBytes returns the packed size of one bitmap row.
func RowBytes(width int) int {
	return (width + 7) / 8
}

// SetBit sets pixel (x, y) in a packed bitmap of the given width.
func SetBit(bits []byte, width, x, y int) {
	bits[y*RowBytes(width)+x/8] |= 0x80 >> uint(x%8)
}

// Bit reports whether pixel (x, y) is set.
func Bit(bits []byte, width, x, y int) bool {
	return bits[y*RowBytes(width)+x/8]&(0x80>>uint(x%8)) != 0
}

// luminance is 0.299R + 0.587G + 0.114B in integer fixed point.
func luminance(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

// straightRGBA returns un-premultiplied 8-bit channels.
func straightRGBA(c color.Color) (r, g, b, a uint8) {
	pr, pg, pb, pa := c.RGBA()
	if pa == 0 {
		return 0, 0, 0, 0
	}
	r = uint8((pr * 0xFFFF / pa) >> 8)
	g = uint8((pg * 0xFFFF / pa) >> 8)
	b = uint8((pb * 0xFFFF / pa) >> 8)
	return r, g, b, uint8(pa >> 8)
}

// grayOnWhite flattens img onto a white background and returns its luminance plane.
func grayOnWhite(img image.Image) []uint8 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := make([]uint8, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, a := straightRGBA(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			l := uint32(luminance(r, g, b))
			// composite over white
			gray[y*w+x] = uint8((l*uint32(a) + 255*(255-uint32(a)) + 127) / 255)
		}
	}
	return gray
}
