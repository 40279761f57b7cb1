package mono

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img
}

func countSet(bits []byte) int {
	n := 0
	for _, b := range bits {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

func TestToneLUT_DefaultIsIdentity(t *testing.T) {
	lut := DefaultTone().LUT()
	for i := 0; i < 256; i++ {
		if int(lut[i]) != i {
			t.Fatalf("lut[%d] = %d, want %d", i, lut[i], i)
		}
	}
}

func TestToneLUT_PartialFieldsKeepContrast(t *testing.T) {
	lut := Tone{Gamma: 2.2}.LUT()
	if lut[0] != 0 || lut[255] != 255 {
		t.Fatalf("Gamma-only tone lost its range: lut[0]=%d lut[255]=%d", lut[0], lut[255])
	}
	if lut[64] <= 64 {
		t.Errorf("Gamma 2.2 should lift shadows, lut[64] = %d", lut[64])
	}
	for i := 1; i < 256; i++ {
		if lut[i] < lut[i-1] {
			t.Fatalf("LUT not monotonic at %d", i)
		}
	}

	if got := (Tone{Brightness: 10}).LUT()[100]; got != 110 {
		t.Errorf("Brightness-only tone: lut[100] = %d, want 110", got)
	}
}

func TestToneLUT_BrightnessClamps(t *testing.T) {
	lut := Tone{Gamma: 1, Contrast: 1, Brightness: 100}.LUT()
	if lut[200] != 255 {
		t.Errorf("Expected clamp to 255, got %d", lut[200])
	}
	if lut[0] != 100 {
		t.Errorf("Expected lut[0]=100, got %d", lut[0])
	}
}

func TestDitherTile_Solid(t *testing.T) {
	white, err := DitherTile(solidImage(TileWidth, TileHeight, color.White), DefaultDitherOptions())
	if err != nil {
		t.Fatalf("DitherTile failed: %v", err)
	}
	if len(white) != TileBytes {
		t.Fatalf("Expected %d bytes, got %d", TileBytes, len(white))
	}
	if countSet(white) != TileWidth*TileHeight {
		t.Errorf("Expected every bit set for white tile, got %d", countSet(white))
	}

	black, err := DitherTile(solidImage(TileWidth, TileHeight, color.Black), DefaultDitherOptions())
	if err != nil {
		t.Fatalf("DitherTile failed: %v", err)
	}
	if countSet(black) != 0 {
		t.Errorf("Expected no bits set for black tile, got %d", countSet(black))
	}
}

func TestDitherTile_MidGrayIsHalfInk(t *testing.T) {
	gray := solidImage(TileWidth, TileHeight, color.Gray{Y: 128})
	bits, err := DitherTile(gray, DefaultDitherOptions())
	if err != nil {
		t.Fatalf("DitherTile failed: %v", err)
	}

	set := countSet(bits)
	total := TileWidth * TileHeight
	if set < total*45/100 || set > total*55/100 {
		t.Errorf("Expected roughly half white pixels, got %d of %d", set, total)
	}
}

func TestDitherTile_Deterministic(t *testing.T) {
	img := noiseImage(TileWidth, TileHeight, 99)
	opts := DitherOptions{Tone: Tone{Gamma: 1.8, Contrast: 1.2, Brightness: -10}, Kernel: FloydSteinberg}

	first, err := DitherTile(img, opts)
	if err != nil {
		t.Fatalf("DitherTile failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := DitherTile(img, opts)
		if err != nil {
			t.Fatalf("DitherTile failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Dithering is not deterministic")
		}
	}

	atkinson, err := DitherTile(img, DitherOptions{Tone: opts.Tone, Kernel: Atkinson})
	if err != nil {
		t.Fatalf("DitherTile (atkinson) failed: %v", err)
	}
	if bytes.Equal(first, atkinson) {
		t.Error("Expected different kernels to produce different output")
	}
}

func TestDitherTile_DimensionError(t *testing.T) {
	_, err := DitherTile(solidImage(255, 256, color.White), DefaultDitherOptions())
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("Expected *DimensionError, got %v", err)
	}
	if de.GotWidth != 255 || de.WantWidth != TileWidth {
		t.Errorf("Unexpected error fields: %+v", de)
	}
}

func TestDitherGray_RowPadding(t *testing.T) {
	gray := make([]uint8, 10*2)
	for i := range gray {
		gray[i] = 255
	}
	bits, err := DitherGray(gray, 10, 2, DefaultDitherOptions())
	if err != nil {
		t.Fatalf("DitherGray failed: %v", err)
	}
	expected := []byte{0xFF, 0xC0, 0xFF, 0xC0}
	if !bytes.Equal(bits, expected) {
		t.Errorf("Expected % X, got % X", expected, bits)
	}
}

func TestOtsu_BimodalBetweenPeaks(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi int
	}{
		{"far apart", 30, 220},
		{"close", 100, 140},
		{"edges", 0, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hist [256]int
			// Two narrow bell-ish peaks
			for d := -2; d <= 2; d++ {
				w := 50 - 10*abs(d)
				if v := tt.lo + d; v >= 0 && v <= 255 {
					hist[v] += w
				}
				if v := tt.hi + d; v >= 0 && v <= 255 {
					hist[v] += w
				}
			}

			threshold, err := Otsu(hist)
			if err != nil {
				t.Fatalf("Otsu failed: %v", err)
			}
			if threshold <= tt.lo || threshold >= tt.hi {
				t.Errorf("Threshold %d not strictly between %d and %d", threshold, tt.lo, tt.hi)
			}
		})
	}
}

func TestOtsu_EmptyHistogram(t *testing.T) {
	var hist [256]int
	_, err := Otsu(hist)
	var te *ThresholdError
	if !errors.As(err, &te) {
		t.Fatalf("Expected *ThresholdError, got %v", err)
	}
}

func TestThresholdIcon(t *testing.T) {
	img := solidImage(IconSize, IconSize, color.White)
	draw.Draw(img, image.Rect(0, 0, IconSize/2, IconSize), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	icon, err := ThresholdIcon(img)
	if err != nil {
		t.Fatalf("ThresholdIcon failed: %v", err)
	}
	if len(icon.Data) != IconBytes {
		t.Fatalf("Expected %d bytes, got %d", IconBytes, len(icon.Data))
	}
	if !Bit(icon.Data, IconSize, 2, 10) {
		t.Error("Expected dark half to be ink")
	}
	if Bit(icon.Data, IconSize, IconSize-2, 10) {
		t.Error("Expected light half to be blank")
	}
}

func TestThresholdIcon_TransparentIsBlank(t *testing.T) {
	img := solidImage(IconSize, IconSize, color.Black)
	// Right half fully transparent
	draw.Draw(img, image.Rect(IconSize/2, 0, IconSize, IconSize), image.Transparent, image.Point{}, draw.Src)
	// Left half: black on white stripes so the histogram is bimodal
	for y := 0; y < IconSize; y += 2 {
		draw.Draw(img, image.Rect(0, y, IconSize/2, y+1), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}

	icon, err := ThresholdIcon(img)
	if err != nil {
		t.Fatalf("ThresholdIcon failed: %v", err)
	}
	for y := 0; y < IconSize; y++ {
		if Bit(icon.Data, IconSize, IconSize-1, y) {
			t.Fatalf("Transparent pixel at row %d became ink", y)
		}
	}
}

func TestThresholdIcon_FullyTransparent(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	_, err := ThresholdIcon(img)
	var te *ThresholdError
	if !errors.As(err, &te) {
		t.Fatalf("Expected *ThresholdError, got %v", err)
	}
}

func TestClassifyRadarPixel(t *testing.T) {
	tests := []struct {
		name  string
		c     color.Color
		level int
	}{
		{"exact 5 dBZ", ReflectivityPalette[0], 1},
		{"exact 70 dBZ", ReflectivityPalette[13], 14},
		{"near red", color.RGBA{250, 5, 3, 255}, 10},
		{"transparent", color.RGBA{0, 0, 0, 0}, 0},
		{"gray basemap", color.RGBA{128, 128, 128, 255}, 0},
		{"dark", color.RGBA{20, 0, 0, 255}, 0},
		{"premultiplied half alpha red", color.RGBA{126, 0, 0, 128}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRadarPixel(tt.c); got != tt.level {
				t.Errorf("ClassifyRadarPixel() = %d, want %d", got, tt.level)
			}
		})
	}
}

func TestReprojectRadar(t *testing.T) {
	world := GeoBounds{North: 85, South: -85, West: -180, East: 180}
	view := View{Lat: 0, Lon: 0, Zoom: 2}

	heavy := solidImage(360, 170, ReflectivityPalette[13])
	bits, err := ReprojectRadar(heavy, world, view, DefaultDitherOptions())
	if err != nil {
		t.Fatalf("ReprojectRadar failed: %v", err)
	}
	if len(bits) != RadarBytes {
		t.Fatalf("Expected %d bytes, got %d", RadarBytes, len(bits))
	}
	if countSet(bits) != 0 {
		t.Errorf("Expected all rain (no blank bits), got %d blank", countSet(bits))
	}

	clearSky := image.NewRGBA(image.Rect(0, 0, 360, 170))
	bits, err = ReprojectRadar(clearSky, world, view, DefaultDitherOptions())
	if err != nil {
		t.Fatalf("ReprojectRadar failed: %v", err)
	}
	if countSet(bits) != RadarWidth*RadarHeight {
		t.Errorf("Expected fully blank overlay, got %d blank", countSet(bits))
	}
}

func TestReprojectRadar_OutsideBoundsIsBlank(t *testing.T) {
	// Raster covers only the southern hemisphere west of Greenwich.
	bounds := GeoBounds{North: -60, South: -80, West: -60, East: -30}
	view := View{Lat: 45, Lon: 10, Zoom: 6}

	bits, err := ReprojectRadar(solidImage(100, 100, ReflectivityPalette[13]), bounds, view, DefaultDitherOptions())
	if err != nil {
		t.Fatalf("ReprojectRadar failed: %v", err)
	}
	if countSet(bits) != RadarWidth*RadarHeight {
		t.Error("Expected overlay outside raster bounds to be blank")
	}
}

func TestReprojectRadar_BadInput(t *testing.T) {
	img := solidImage(10, 10, color.White)
	if _, err := ReprojectRadar(img, GeoBounds{North: 1, South: 2, West: 0, East: 1}, View{}, DefaultDitherOptions()); err == nil {
		t.Error("Expected error for inverted bounds")
	}
	if _, err := ReprojectRadar(img, GeoBounds{North: 1, South: 0, West: 0, East: 1}, View{Zoom: 30}, DefaultDitherOptions()); err == nil {
		t.Error("Expected error for zoom out of range")
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
