package protocol

import (
	"bytes"
	"unicode/utf8"
)

// MaxShortString is the longest string a one-byte length prefix can carry.
const MaxShortString = 255

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// putFixed writes s into the zero-padded field dst.
func putFixed(dst []byte, s string) {
	clear(dst)
	copy(dst, truncateUTF8(s, len(dst)))
}

// getFixed reads a zero-padded field up to the first NUL within its width.
func getFixed(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

// appendShort appends [len1][bytes], truncating to MaxShortString.
func appendShort(dst []byte, s string) []byte {
	s = truncateUTF8(s, MaxShortString)
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

// readShort reads a [len1][bytes] string at off and returns the next offset.
func readShort(ch Channel, data []byte, off int, what string) (string, int, error) {
	if off >= len(data) {
		return "", 0, tooShort(ch, what+" length", len(data), off+1)
	}
	n := int(data[off])
	end := off + 1 + n
	if end > len(data) {
		return "", 0, parseErrorf(ch, "%s length %d exceeds remaining %d bytes", what, n, len(data)-off-1)
	}
	return string(data[off+1 : end]), end, nil
}
