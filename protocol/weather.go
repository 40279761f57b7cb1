package protocol

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	WeatherRecordSize = 145
	WeatherTextSize   = 64
	WeatherLocSize    = 32
	HourlyEntries     = 6
	hourlyEntrySize   = 4
)

// Offsets inside the weather record.
const (
	wxError     = 0
	wxErrorText = 1
	wxLocation  = 65
	wxTemp      = 97
	wxFeels     = 99
	wxCondition = 101
	wxHumidity  = 102
	wxWind      = 103
	wxWindDir   = 105
	wxPressure  = 107
	wxPrecip    = 109
	wxSunrise   = 110
	wxSunset    = 114
	wxBaseHour  = 118
	wxHourly    = 119
)

// HourlyForecast is one entry of the six-hour outlook.
type HourlyForecast struct {
	Temp      float64 // degrees C, sent with 0.1 resolution
	Condition uint8
	Precip    uint8 // percent
}

// Weather is the fixed weather record.
type Weather struct {
	Error     bool
	ErrorText string
	Location  string

	Temp      float64
	FeelsLike float64
	Condition uint8
	Humidity  uint8
	WindSpeed float64
	WindDir   int16 // degrees
	Pressure  int16 // hPa
	Precip    uint8
	Sunrise   time.Time
	Sunset    time.Time

	// Entry i of Hourly is for hour (BaseHour+i) mod 24.
	BaseHour uint8
	Hourly   [HourlyEntries]HourlyForecast
}

// Hour returns the hour of day of hourly entry i.
func (w Weather) Hour(i int) int {
	return (int(w.BaseHour) + i) % 24
}

// WeatherError builds an error record shown in place of the forecast.
func WeatherError(msg string) Weather {
	return Weather{Error: true, ErrorText: msg}
}

func tenths(v float64) int16 {
	r := math.Round(v * 10)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func putI16(dst []byte, v int16) {
	binary.LittleEndian.PutUint16(dst, uint16(v))
}

func getI16(src []byte) int16 {
	return int16(binary.LittleEndian.Uint16(src))
}

func unixOrZero(t time.Time) int32 {
	if t.IsZero() {
		return 0
	}
	return int32(t.Unix())
}

func timeOrZero(v int32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

// EncodeWeather serializes the 145-byte little-endian weather record.
func EncodeWeather(w Weather) []byte {
	rec := make([]byte, WeatherRecordSize)
	if w.Error {
		rec[wxError] = 1
	}
	putFixed(rec[wxErrorText:wxErrorText+WeatherTextSize], w.ErrorText)
	putFixed(rec[wxLocation:wxLocation+WeatherLocSize], w.Location)

	putI16(rec[wxTemp:], tenths(w.Temp))
	putI16(rec[wxFeels:], tenths(w.FeelsLike))
	rec[wxCondition] = w.Condition
	rec[wxHumidity] = w.Humidity
	putI16(rec[wxWind:], tenths(w.WindSpeed))
	putI16(rec[wxWindDir:], w.WindDir)
	putI16(rec[wxPressure:], w.Pressure)
	rec[wxPrecip] = w.Precip
	binary.LittleEndian.PutUint32(rec[wxSunrise:], uint32(unixOrZero(w.Sunrise)))
	binary.LittleEndian.PutUint32(rec[wxSunset:], uint32(unixOrZero(w.Sunset)))

	rec[wxBaseHour] = w.BaseHour % 24
	for i, h := range w.Hourly {
		off := wxHourly + i*hourlyEntrySize
		putI16(rec[off:], tenths(h.Temp))
		rec[off+2] = h.Condition
		rec[off+3] = h.Precip
	}
	return rec
}

// DecodeWeather parses a weather record.
func DecodeWeather(data []byte) (*Weather, error) {
	if len(data) != WeatherRecordSize {
		return nil, parseErrorf(ChannelWeather, "record is %d bytes, want %d", len(data), WeatherRecordSize)
	}

	w := &Weather{
		Error:     data[wxError] != 0,
		ErrorText: getFixed(data[wxErrorText : wxErrorText+WeatherTextSize]),
		Location:  getFixed(data[wxLocation : wxLocation+WeatherLocSize]),
		Temp:      float64(getI16(data[wxTemp:])) / 10,
		FeelsLike: float64(getI16(data[wxFeels:])) / 10,
		Condition: data[wxCondition],
		Humidity:  data[wxHumidity],
		WindSpeed: float64(getI16(data[wxWind:])) / 10,
		WindDir:   getI16(data[wxWindDir:]),
		Pressure:  getI16(data[wxPressure:]),
		Precip:    data[wxPrecip],
		Sunrise:   timeOrZero(int32(binary.LittleEndian.Uint32(data[wxSunrise:]))),
		Sunset:    timeOrZero(int32(binary.LittleEndian.Uint32(data[wxSunset:]))),
		BaseHour:  data[wxBaseHour],
	}
	for i := range w.Hourly {
		off := wxHourly + i*hourlyEntrySize
		w.Hourly[i] = HourlyForecast{
			Temp:      float64(getI16(data[off:])) / 10,
			Condition: data[off+2],
			Precip:    data[off+3],
		}
	}
	return w, nil
}
