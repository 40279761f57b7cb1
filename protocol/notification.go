package protocol

import "encoding/binary"

// Notification opcodes
const (
	NotificationAdd    = 0x01
	NotificationRemove = 0x02
)

const (
	NotificationAppSize   = 32
	NotificationTitleSize = 64
	NotificationTextSize  = 128
	NotificationIconBytes = 195 // 39x39 at 1 bit per pixel

	NotificationAddSize    = 1 + 4 + NotificationAppSize + NotificationTitleSize + NotificationTextSize + 1 + NotificationIconBytes
	NotificationRemoveSize = 5
)

// Notification mirrors one phone notification on the display.
type Notification struct {
	ID    uint32
	App   string
	Title string
	Text  string
	Icon  []byte // nil when there is no icon; set bits are ink
}

// NotificationFrame is a decoded frame on the notification channel.
type NotificationFrame struct {
	Op           uint8
	Notification Notification // ID only for removals
}

// EncodeNotificationAdd serializes an add frame.
func EncodeNotificationAdd(n Notification) ([]byte, error) {
	if n.Icon != nil && len(n.Icon) != NotificationIconBytes {
		return nil, parseErrorf(ChannelNotification, "icon is %d bytes, want %d", len(n.Icon), NotificationIconBytes)
	}

	frame := make([]byte, NotificationAddSize)
	frame[0] = NotificationAdd
	binary.BigEndian.PutUint32(frame[1:5], n.ID)

	off := 5
	putFixed(frame[off:off+NotificationAppSize], n.App)
	off += NotificationAppSize
	putFixed(frame[off:off+NotificationTitleSize], n.Title)
	off += NotificationTitleSize
	putFixed(frame[off:off+NotificationTextSize], n.Text)
	off += NotificationTextSize

	if n.Icon != nil {
		frame[off] = 1
		copy(frame[off+1:], n.Icon)
	}
	return frame, nil
}

// EncodeNotificationRemove serializes a removal, also used by the peripheral
// to report a dismissal.
func EncodeNotificationRemove(id uint32) []byte {
	frame := make([]byte, NotificationRemoveSize)
	frame[0] = NotificationRemove
	binary.BigEndian.PutUint32(frame[1:5], id)
	return frame
}

// DecodeNotification parses an add or remove frame.
func DecodeNotification(data []byte) (*NotificationFrame, error) {
	if len(data) < NotificationRemoveSize {
		return nil, tooShort(ChannelNotification, "notification header", len(data), NotificationRemoveSize)
	}

	f := &NotificationFrame{Op: data[0]}
	f.Notification.ID = binary.BigEndian.Uint32(data[1:5])

	switch data[0] {
	case NotificationRemove:
		return f, nil
	case NotificationAdd:
		if len(data) < NotificationAddSize {
			return nil, tooShort(ChannelNotification, "notification add", len(data), NotificationAddSize)
		}
	default:
		return nil, parseErrorf(ChannelNotification, "unknown opcode 0x%02X", data[0])
	}

	off := 5
	f.Notification.App = getFixed(data[off : off+NotificationAppSize])
	off += NotificationAppSize
	f.Notification.Title = getFixed(data[off : off+NotificationTitleSize])
	off += NotificationTitleSize
	f.Notification.Text = getFixed(data[off : off+NotificationTextSize])
	off += NotificationTextSize
	if data[off] != 0 {
		f.Notification.Icon = data[off+1 : off+1+NotificationIconBytes]
	}
	return f, nil
}

// DecodeDismissal parses the peripheral's dismissal notify and returns the id.
func DecodeDismissal(data []byte) (uint32, error) {
	if len(data) < NotificationRemoveSize {
		return 0, tooShort(ChannelNotification, "dismissal", len(data), NotificationRemoveSize)
	}
	if data[0] != NotificationRemove {
		return 0, parseErrorf(ChannelNotification, "unexpected opcode 0x%02X in dismissal", data[0])
	}
	return binary.BigEndian.Uint32(data[1:5]), nil
}
