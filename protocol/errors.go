package protocol

import "fmt"

// ParseError is returned by every decoder when a frame is malformed.
type ParseError struct {
	Channel Channel
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Channel, e.Reason)
}

func parseErrorf(ch Channel, format string, args ...interface{}) error {
	return &ParseError{Channel: ch, Reason: fmt.Sprintf(format, args...)}
}

// tooShort is the common "data too short" failure.
func tooShort(ch Channel, what string, have, need int) error {
	return parseErrorf(ch, "data too short for %s: have %d, need %d", what, have, need)
}
