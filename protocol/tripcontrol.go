package protocol

import (
	"encoding/binary"
	"fmt"
)

// TripControl opcodes
const (
	OpStopTrip         = 0x00
	OpStartTrip        = 0x01
	OpActiveTrip       = 0x02
	OpInventoryRequest = 0x10
	OpInventoryStart   = 0x11
	OpInventoryData    = 0x12
	OpInventoryEnd     = 0x13
	OpInventoryError   = 0x14
	OpClientReady      = 0xFF
)

// InventoryKeySize is the size of one key record in an inventory data frame.
const InventoryKeySize = 8

var tripOpNames = map[uint8]string{
	OpStopTrip:         "stop",
	OpStartTrip:        "start",
	OpActiveTrip:       "active-trip",
	OpInventoryRequest: "inventory-request",
	OpInventoryStart:   "inventory-start",
	OpInventoryData:    "inventory-data",
	OpInventoryEnd:     "inventory-end",
	OpInventoryError:   "inventory-error",
	OpClientReady:      "client-ready",
}

// TripOpName returns a readable name for a TripControl opcode.
func TripOpName(op uint8) string {
	if name, ok := tripOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(0x%02X)", op)
}

// TripControl is a decoded TripControl frame. Which fields are set depends on Op.
type TripControl struct {
	Op      uint8
	Name    string     // start, active-trip ("" = no active trip)
	Count   uint32     // inventory-start
	Keys    []AssetKey // inventory-data
	Message string     // inventory-error
}

func EncodeStopTrip() []byte         { return []byte{OpStopTrip} }
func EncodeInventoryRequest() []byte { return []byte{OpInventoryRequest} }
func EncodeInventoryEnd() []byte     { return []byte{OpInventoryEnd} }
func EncodeClientReady() []byte      { return []byte{OpClientReady} }

func EncodeStartTrip(name string) []byte {
	return appendShort([]byte{OpStartTrip}, name)
}

// EncodeActiveTrip reports the active trip; an empty name means none.
func EncodeActiveTrip(name string) []byte {
	return appendShort([]byte{OpActiveTrip}, name)
}

func EncodeInventoryStart(count uint32) []byte {
	frame := make([]byte, 5)
	frame[0] = OpInventoryStart
	binary.BigEndian.PutUint32(frame[1:], count)
	return frame
}

func EncodeInventoryData(keys []AssetKey) []byte {
	frame := make([]byte, 1+len(keys)*InventoryKeySize)
	frame[0] = OpInventoryData
	for i, k := range keys {
		binary.BigEndian.PutUint64(frame[1+i*InventoryKeySize:], uint64(k))
	}
	return frame
}

func EncodeInventoryError(msg string) []byte {
	return appendShort([]byte{OpInventoryError}, msg)
}

// InventoryFrames splits a key set into start, data and end frames, each data
// frame holding at most maxFrame bytes.
func InventoryFrames(keys []AssetKey, maxFrame int) [][]byte {
	perFrame := (maxFrame - 1) / InventoryKeySize
	if perFrame < 1 {
		perFrame = 1
	}

	frames := [][]byte{EncodeInventoryStart(uint32(len(keys)))}
	for off := 0; off < len(keys); off += perFrame {
		end := min(off+perFrame, len(keys))
		frames = append(frames, EncodeInventoryData(keys[off:end]))
	}
	return append(frames, EncodeInventoryEnd())
}

// DecodeTripControl parses any TripControl frame.
func DecodeTripControl(data []byte) (*TripControl, error) {
	if len(data) < 1 {
		return nil, tooShort(ChannelTripControl, "opcode", 0, 1)
	}

	tc := &TripControl{Op: data[0]}
	var err error
	switch tc.Op {
	case OpStopTrip, OpInventoryRequest, OpInventoryEnd, OpClientReady:
	case OpStartTrip, OpActiveTrip:
		tc.Name, _, err = readShort(ChannelTripControl, data, 1, "trip name")
	case OpInventoryError:
		tc.Message, _, err = readShort(ChannelTripControl, data, 1, "error message")
	case OpInventoryStart:
		if len(data) < 5 {
			return nil, tooShort(ChannelTripControl, "inventory count", len(data), 5)
		}
		tc.Count = binary.BigEndian.Uint32(data[1:5])
	case OpInventoryData:
		body := data[1:]
		if len(body)%InventoryKeySize != 0 {
			return nil, parseErrorf(ChannelTripControl, "inventory data length %d is not a multiple of %d", len(body), InventoryKeySize)
		}
		tc.Keys = make([]AssetKey, 0, len(body)/InventoryKeySize)
		for off := 0; off < len(body); off += InventoryKeySize {
			tc.Keys = append(tc.Keys, AssetKey(binary.BigEndian.Uint64(body[off:])))
		}
	default:
		return nil, parseErrorf(ChannelTripControl, "unknown opcode 0x%02X", tc.Op)
	}
	if err != nil {
		return nil, err
	}
	return tc, nil
}
