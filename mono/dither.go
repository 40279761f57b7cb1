package mono

import "image"

// Tap is one error-diffusion target relative to the current pixel.
type Tap struct {
	DX, DY int // DY is 0, 1 or 2
	Weight int
}

// Kernel is an error-diffusion matrix. Each tap receives err*Weight/Divisor.
type Kernel struct {
	Name    string
	Divisor int
	Taps    []Tap
}

// FloydSteinberg diffuses 7/16 right, 3/16 below-left, 5/16 below, 1/16 below-right.
var FloydSteinberg = Kernel{
	Name:    "floyd-steinberg",
	Divisor: 16,
	Taps: []Tap{
		{DX: 1, DY: 0, Weight: 7},
		{DX: -1, DY: 1, Weight: 3},
		{DX: 0, DY: 1, Weight: 5},
		{DX: 1, DY: 1, Weight: 1},
	},
}

// Atkinson spreads 6/8 of the error over two rows; lighter look for small text.
var Atkinson = Kernel{
	Name:    "atkinson",
	Divisor: 8,
	Taps: []Tap{
		{DX: 1, DY: 0, Weight: 1},
		{DX: 2, DY: 0, Weight: 1},
		{DX: -1, DY: 1, Weight: 1},
		{DX: 0, DY: 1, Weight: 1},
		{DX: 1, DY: 1, Weight: 1},
		{DX: 0, DY: 2, Weight: 1},
	},
}

// DitherOptions controls the tone curve and diffusion kernel.
type DitherOptions struct {
	Tone   Tone
	Kernel Kernel
}

// DefaultDitherOptions is Floyd–Steinberg with a neutral tone curve.
func DefaultDitherOptions() DitherOptions {
	return DitherOptions{Tone: DefaultTone(), Kernel: FloydSteinberg}
}

// errPad leaves room for taps reaching two pixels left or right of the row.
const errPad = 2

// DitherTile converts a 256x256 map tile into a packed bitmap where a set bit is
// white.
func DitherTile(img image.Image, opts DitherOptions) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() != TileWidth || b.Dy() != TileHeight {
		return nil, &DimensionError{
			WantWidth: TileWidth, WantHeight: TileHeight,
			GotWidth: b.Dx(), GotHeight: b.Dy(),
		}
	}
	return DitherGray(grayOnWhite(img), TileWidth, TileHeight, opts)
}

// DitherGray runs the tone curve and error diffusion over a w*h gray plane.
// Output bit 1 = white (blank), bit 0 = black (ink).
func DitherGray(gray []uint8, w, h int, opts DitherOptions) ([]byte, error) {
	if w <= 0 || h <= 0 || len(gray) != w*h {
		return nil, &DimensionError{
			WantWidth: w, WantHeight: h,
			Reason: "gray plane does not match dimensions",
		}
	}

	kernel := opts.Kernel
	if kernel.Divisor == 0 {
		kernel = FloydSteinberg
	}
	lut := opts.Tone.LUT()

	// rows[0] is the current line, rows[1] and rows[2] the next two.
	var rows [3][]int32
	for i := range rows {
		rows[i] = make([]int32, w+2*errPad)
	}

	out := make([]byte, RowBytes(w)*h)
	div := int32(kernel.Divisor)

	for y := 0; y < h; y++ {
		cur := rows[0]
		for x := 0; x < w; x++ {
			v := int32(lut[gray[y*w+x]]) + cur[x+errPad]

			var quantErr int32
			if v >= 128 {
				SetBit(out, w, x, y)
				quantErr = v - 255
			} else {
				quantErr = v
			}
			if quantErr == 0 {
				continue
			}

			for _, tap := range kernel.Taps {
				tx := x + tap.DX
				if tx < 0 || tx >= w || y+tap.DY >= h {
					continue
				}
				rows[tap.DY][tx+errPad] += quantErr * int32(tap.Weight) / div
			}
		}

		// Rotate and clear the line that falls off the top.
		rows[0], rows[1], rows[2] = rows[1], rows[2], rows[0]
		clear(rows[2])
	}

	return out, nil
}
