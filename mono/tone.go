package mono

import "math"

// Tone is the gamma / contrast / brightness adjustment applied before dithering.
// A zero Gamma or Contrast means 1, so fields may be set individually.
type Tone struct {
	Gamma      float64
	Contrast   float64
	Brightness float64
}

// DefaultTone leaves gray levels unchanged.
func DefaultTone() Tone {
	return Tone{Gamma: 1.0, Contrast: 1.0, Brightness: 0}
}

func (t Tone) normalized() Tone {
	if t.Gamma <= 0 {
		t.Gamma = 1.0
	}
	if t.Contrast == 0 {
		t.Contrast = 1.0
	}
	return t
}

// LUT builds the 256-entry lookup table for this tone curve.
func (t Tone) LUT() [256]uint8 {
	t = t.normalized()

	var lut [256]uint8
	for i := 0; i < 256; i++ {
		v := 255 * math.Pow(float64(i)/255, 1/t.Gamma)
		v = (v-128)*t.Contrast + 128 + t.Brightness
		lut[i] = clamp8(math.Round(v))
	}
	return lut
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
