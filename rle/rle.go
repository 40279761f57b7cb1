// Package rle implements the run-length codec used for sparse 1-bit bitmaps
// (map tiles) before they cross the link.
//
// Wire format: [length BE2][count value]...
// The length prefix counts the whole record including its own two bytes.
package rle

import (
	"encoding/binary"
	"fmt"
)

const (
	PrefixSize = 2
	MaxRun     = 255

	// CompressionRatio is the largest encoded/raw ratio still worth sending compressed.
	CompressionRatio = 0.9
)

// FormatError describes a buffer that cannot be encoded or decoded.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("rle: %s (offset %d)", e.Reason, e.Offset)
	}
	return fmt.Sprintf("rle: %s", e.Reason)
}

func formatErr(offset int, format string, args ...interface{}) error {
	return &FormatError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Encode compresses raw into length-prefixed (count, value) records.
// Runs longer than MaxRun are split into several records.
func Encode(raw []byte) ([]byte, error) {
	out := make([]byte, PrefixSize, PrefixSize+len(raw)/2+2)

	for i := 0; i < len(raw); {
		value := raw[i]
		run := 1
		for i+run < len(raw) && raw[i+run] == value && run < MaxRun {
			run++
		}
		out = append(out, byte(run), value)
		i += run
	}

	if len(out) > 0xFFFF {
		return nil, formatErr(-1, "encoded length %d exceeds 16-bit prefix", len(out))
	}
	binary.BigEndian.PutUint16(out[0:PrefixSize], uint16(len(out)))
	return out, nil
}

// Decode expands data and requires the result to be exactly size bytes.
func Decode(data []byte, size int) ([]byte, error) {
	if len(data) < PrefixSize {
		return nil, formatErr(0, "record too short: %d bytes", len(data))
	}

	declared := int(binary.BigEndian.Uint16(data[0:PrefixSize]))
	if declared != len(data) {
		return nil, formatErr(0, "length prefix %d does not match record length %d", declared, len(data))
	}

	body := data[PrefixSize:]
	if len(body)%2 != 0 {
		return nil, formatErr(len(data)-1, "truncated run record")
	}

	out := make([]byte, 0, size)
	for i := 0; i < len(body); i += 2 {
		count := int(body[i])
		if count == 0 {
			return nil, formatErr(PrefixSize+i, "zero-length run")
		}
		if len(out)+count > size {
			return nil, formatErr(PrefixSize+i, "decoded data exceeds expected %d bytes", size)
		}
		value := body[i+1]
		for n := 0; n < count; n++ {
			out = append(out, value)
		}
	}

	if len(out) != size {
		return nil, formatErr(-1, "decoded %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// Compress returns the encoded form of raw when it is worth sending: smaller than
// CompressionRatio of the raw size and no larger than maxPayload. Otherwise raw is
// returned unchanged with compressed=false.
func Compress(raw []byte, maxPayload int) (payload []byte, compressed bool) {
	encoded, err := Encode(raw)
	if err != nil {
		return raw, false
	}
	if float64(len(encoded)) >= CompressionRatio*float64(len(raw)) {
		return raw, false
	}
	if maxPayload > 0 && len(encoded) > maxPayload {
		return raw, false
	}
	return encoded, true
}

// MaxEncodedSize is the worst case for n input bytes (no two adjacent bytes equal).
func MaxEncodedSize(n int) int {
	return 2*n + PrefixSize
}
