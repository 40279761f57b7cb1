// Package protocol holds the wire formats spoken with the e-paper peripheral:
// the channel table, one encoder/decoder per channel, asset keys and frame
// length rules used to reassemble chunked writes.
//
// Records inside weather, radar, device-status and navigate-home frames are
// little-endian. Lists, control, notification and recording frames are
// big-endian. Both are fixed by the peripheral firmware.
package protocol

import (
	"fmt"
	"strings"
)

// ServiceUUID is the primary GATT service exposed by the peripheral.
const ServiceUUID = "8F1E0000-2B5C-4E6A-9D3B-6C2A1F0E7B4D"

// Channel identifies one logical, independently framed data flow.
type Channel uint8

const (
	ChannelTile Channel = iota + 1
	ChannelRoute
	ChannelWeather
	ChannelRadar
	ChannelNotification
	ChannelTripList
	ChannelTripControl
	ChannelDeviceStatus
	ChannelNavigateHome
	ChannelRecordingList
	ChannelRecordingControl
	ChannelRecordingTransfer
)

// ChannelInfo is the static description of a channel.
type ChannelInfo struct {
	Channel Channel
	Name    string
	UUID    string
	Write   bool // central writes frames to the peripheral
	Notify  bool // peripheral notifies the central; needs activation
	Acked   bool // each written asset is acknowledged by a notify on the same channel
}

var channelTable = []ChannelInfo{
	{ChannelTile, "tile", charUUID(ChannelTile), true, true, true},
	{ChannelRoute, "route", charUUID(ChannelRoute), true, true, true},
	{ChannelWeather, "weather", charUUID(ChannelWeather), true, false, false},
	{ChannelRadar, "radar", charUUID(ChannelRadar), true, false, false},
	{ChannelNotification, "notification", charUUID(ChannelNotification), true, true, false},
	{ChannelTripList, "trip-list", charUUID(ChannelTripList), false, true, false},
	{ChannelTripControl, "trip-control", charUUID(ChannelTripControl), true, true, false},
	{ChannelDeviceStatus, "device-status", charUUID(ChannelDeviceStatus), true, true, false},
	{ChannelNavigateHome, "navigate-home", charUUID(ChannelNavigateHome), true, true, false},
	{ChannelRecordingList, "recording-list", charUUID(ChannelRecordingList), false, true, false},
	{ChannelRecordingControl, "recording-control", charUUID(ChannelRecordingControl), true, false, false},
	{ChannelRecordingTransfer, "recording-transfer", charUUID(ChannelRecordingTransfer), false, true, false},
}

// activationOrder is the fixed order notifications are enabled in.
// A channel is not usable until every channel before it has been activated.
var activationOrder = []Channel{
	ChannelTripList,
	ChannelTripControl,
	ChannelTile,
	ChannelRoute,
	ChannelNotification,
	ChannelDeviceStatus,
	ChannelNavigateHome,
	ChannelRecordingList,
	ChannelRecordingTransfer,
}

func charUUID(ch Channel) string {
	return fmt.Sprintf("8F1E%04X-2B5C-4E6A-9D3B-6C2A1F0E7B4D", uint16(ch))
}

// Channels returns every channel in id order.
func Channels() []ChannelInfo {
	out := make([]ChannelInfo, len(channelTable))
	copy(out, channelTable)
	return out
}

// ActivationOrder returns the notify-capable channels in activation order.
func ActivationOrder() []Channel {
	out := make([]Channel, len(activationOrder))
	copy(out, activationOrder)
	return out
}

// Info returns the table entry for ch.
func (ch Channel) Info() (ChannelInfo, bool) {
	if ch < ChannelTile || ch > ChannelRecordingTransfer {
		return ChannelInfo{}, false
	}
	return channelTable[ch-1], true
}

// Valid reports whether ch is a known channel.
func (ch Channel) Valid() bool {
	_, ok := ch.Info()
	return ok
}

func (ch Channel) String() string {
	if info, ok := ch.Info(); ok {
		return info.Name
	}
	return fmt.Sprintf("channel(%d)", uint8(ch))
}

// ChannelByUUID looks a channel up by characteristic UUID (case-insensitive).
func ChannelByUUID(uuid string) (Channel, bool) {
	for _, info := range channelTable {
		if strings.EqualFold(info.UUID, uuid) {
			return info.Channel, true
		}
	}
	return 0, false
}
