package mono

import (
	"image"
	"image/color"
	"math"
)

// Classification limits for matching radar pixels against the palette
const (
	MaxPaletteDistanceSq = 3600
	MinSaturation        = 0.25
	MinValue             = 0.20
	MinRadarAlpha        = 0x20
	MaxZoom              = 22
)

// ReflectivityPalette is the NWS reflectivity scale, 5 dBZ to 70 dBZ.
// Index i is intensity level i+1.
var ReflectivityPalette = [14]color.RGBA{
	{4, 233, 231, 255},  // 5
	{1, 159, 244, 255},  // 10
	{3, 0, 244, 255},    // 15
	{2, 253, 2, 255},    // 20
	{1, 197, 1, 255},    // 25
	{0, 142, 0, 255},    // 30
	{253, 248, 2, 255},  // 35
	{229, 188, 0, 255},  // 40
	{253, 149, 0, 255},  // 45
	{253, 0, 0, 255},    // 50
	{212, 0, 0, 255},    // 55
	{188, 0, 0, 255},    // 60
	{248, 0, 253, 255},  // 65
	{152, 84, 198, 255}, // 70
}

// GeoBounds is the lat/lon box covered by a source radar raster.
type GeoBounds struct {
	North, South float64
	West, East   float64
}

// View is the map view the overlay is aligned with.
type View struct {
	Lat, Lon float64
	Zoom     int
}

// ClassifyRadarPixel returns the intensity level (1..14) of a radar color, or 0
// for "no precipitation".
func ClassifyRadarPixel(c color.Color) int {
	r, g, b, a := straightRGBA(c)
	if a < MinRadarAlpha {
		return 0
	}

	maxC := max(r, g, b)
	minC := min(r, g, b)
	value := float64(maxC) / 255
	if value < MinValue {
		return 0
	}
	saturation := float64(maxC-minC) / float64(maxC)
	if saturation < MinSaturation {
		return 0
	}

	best, bestDist := 0, math.MaxInt
	for i, p := range ReflectivityPalette {
		dr := int(r) - int(p.R)
		dg := int(g) - int(p.G)
		db := int(b) - int(p.B)
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if bestDist > MaxPaletteDistanceSq {
		return 0
	}
	return best + 1
}

// levelGray maps an intensity level to the gray fed into the dither stage.
func levelGray(level int) uint8 {
	if level <= 0 {
		return 255
	}
	return uint8(200 - (level-1)*200/13)
}

// worldPixel projects lat/lon to Web-Mercator pixels at the given world size.
func worldPixel(lat, lon, worldSize float64) (float64, float64) {
	x := (lon + 180) / 360
	latRad := lat * math.Pi / 180
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2
	return x * worldSize, y * worldSize
}

func worldToLatLon(wx, wy, worldSize float64) (float64, float64) {
	lon := wx/worldSize*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*wy/worldSize))) * 180 / math.Pi
	return lat, lon
}

// ReprojectRadar samples a lat/lon-aligned radar raster into a RadarWidth x
// RadarHeight overlay centered on view. Output bit 1 = blank, bit 0 = rain.
func ReprojectRadar(src image.Image, bounds GeoBounds, view View, opts DitherOptions) ([]byte, error) {
	if view.Zoom < 0 || view.Zoom > MaxZoom {
		return nil, &DimensionError{Reason: "zoom out of range"}
	}
	if bounds.North <= bounds.South || bounds.East <= bounds.West {
		return nil, &DimensionError{Reason: "empty radar bounds"}
	}
	sb := src.Bounds()
	if sb.Empty() {
		return nil, &DimensionError{Reason: "radar image is empty"}
	}

	worldSize := 256 * math.Exp2(float64(view.Zoom))
	cx, cy := worldPixel(view.Lat, view.Lon, worldSize)

	srcW, srcH := float64(sb.Dx()), float64(sb.Dy())
	lonSpan := bounds.East - bounds.West
	latSpan := bounds.North - bounds.South

	gray := make([]uint8, RadarWidth*RadarHeight)
	for py := 0; py < RadarHeight; py++ {
		wy := cy + float64(py-RadarHeight/2) + 0.5
		for px := 0; px < RadarWidth; px++ {
			idx := py*RadarWidth + px
			gray[idx] = 255

			if wy < 0 || wy >= worldSize {
				continue
			}
			wx := math.Mod(cx+float64(px-RadarWidth/2)+0.5, worldSize)
			if wx < 0 {
				wx += worldSize
			}
			lat, lon := worldToLatLon(wx, wy, worldSize)

			sx := (lon - bounds.West) / lonSpan * srcW
			sy := (bounds.North - lat) / latSpan * srcH
			if sx < 0 || sy < 0 || sx >= srcW || sy >= srcH {
				continue
			}

			c := src.At(sb.Min.X+int(sx), sb.Min.Y+int(sy))
			gray[idx] = levelGray(ClassifyRadarPixel(c))
		}
	}

	return DitherGray(gray, RadarWidth, RadarHeight, opts)
}
