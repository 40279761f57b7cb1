package mono

import (
	"image"

	"golang.org/x/image/draw"
)

// opaqueAlpha is the 50% alpha cut: anything below is treated as blank.
const opaqueAlpha = 128

// IconBitmap is a thresholded notification icon. A set bit is ink.
type IconBitmap struct {
	Data      []byte // IconBytes long
	Threshold int
}

// Histogram counts gray levels of the opaque pixels of a w*h plane. alpha may be nil.
func Histogram(gray []uint8, alpha []uint8) [256]int {
	var hist [256]int
	for i, v := range gray {
		if alpha != nil && alpha[i] < opaqueAlpha {
			continue
		}
		hist[v]++
	}
	return hist
}

// Otsu returns the threshold t (1..255) maximizing inter-class variance
// w_bg*w_fg*(mean_bg-mean_fg)^2, where the ink class is every level below t.
// When several consecutive thresholds share the maximum the middle one is used.
func Otsu(hist [256]int) (int, error) {
	total := 0
	sum := 0.0
	for level, n := range hist {
		total += n
		sum += float64(level * n)
	}
	if total == 0 {
		return 0, &ThresholdError{Reason: "empty histogram"}
	}

	var (
		wB    int
		sumB  float64
		best  = -1.0
		first = 0
		last  = 0
	)
	for t := 1; t <= 255; t++ {
		wB += hist[t-1]
		sumB += float64((t - 1) * hist[t-1])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}

		meanB := sumB / float64(wB)
		meanF := (sum - sumB) / float64(wF)
		d := meanB - meanF
		between := float64(wB) * float64(wF) * d * d

		if between > best {
			best = between
			first, last = t, t
		} else if between == best && last == t-1 {
			last = t
		}
	}

	// Single gray level: nothing separates, fall back to mid-scale.
	if best <= 0 {
		return 128, nil
	}
	return (first + last) / 2, nil
}

// ThresholdIcon scales img to IconSize x IconSize and binarizes it with Otsu's
// method. Pixels darker than the threshold become ink; transparent pixels stay blank.
func ThresholdIcon(img image.Image) (*IconBitmap, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, &DimensionError{Reason: "icon image is empty"}
	}

	scaled := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	gray := make([]uint8, IconSize*IconSize)
	alpha := make([]uint8, IconSize*IconSize)
	for y := 0; y < IconSize; y++ {
		for x := 0; x < IconSize; x++ {
			r, g, bl, a := straightRGBA(scaled.At(x, y))
			gray[y*IconSize+x] = luminance(r, g, bl)
			alpha[y*IconSize+x] = a
		}
	}

	threshold, err := Otsu(Histogram(gray, alpha))
	if err != nil {
		return nil, err
	}

	data := make([]byte, IconBytes)
	for i, v := range gray {
		if alpha[i] < opaqueAlpha {
			continue
		}
		if int(v) < threshold {
			SetBit(data, IconSize, i%IconSize, i/IconSize)
		}
	}
	return &IconBitmap{Data: data, Threshold: threshold}, nil
}
