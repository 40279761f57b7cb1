// Package wslink carries the link over a WebSocket so the central and the
// emulated peripheral can run in separate processes. Every message is one
// binary frame: [op][channel][payload].
package wslink

import (
	"encoding/binary"
	"fmt"

	"github.com/user/papersync/protocol"
)

const (
	opWrite     = 0x01 // central -> peripheral, payload is the write
	opWriteDone = 0x02 // peripheral -> central, payload is an error text or empty
	opEnable    = 0x03 // central -> peripheral
	opEnabled   = 0x04 // peripheral -> central, payload is an error text or empty
	opNotify    = 0x05 // peripheral -> central
	opHello     = 0x06 // both ways, payload is the MTU BE2
)

const headerSize = 2

type message struct {
	op      byte
	ch      protocol.Channel
	payload []byte
}

func (m message) encode() []byte {
	buf := make([]byte, headerSize+len(m.payload))
	buf[0] = m.op
	buf[1] = byte(m.ch)
	copy(buf[headerSize:], m.payload)
	return buf
}

func decodeMessage(buf []byte) (message, error) {
	if len(buf) < headerSize {
		return message{}, fmt.Errorf("wslink: short message (%d bytes)", len(buf))
	}
	m := message{op: buf[0], ch: protocol.Channel(buf[1]), payload: buf[headerSize:]}
	if m.op < opWrite || m.op > opHello {
		return message{}, fmt.Errorf("wslink: unknown op 0x%02X", m.op)
	}
	return m, nil
}

func helloMessage(mtu int) message {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, uint16(mtu))
	return message{op: opHello, payload: p}
}

func helloMTU(m message) (int, error) {
	if m.op != opHello || len(m.payload) != 2 {
		return 0, fmt.Errorf("wslink: expected hello, got op 0x%02X", m.op)
	}
	return int(binary.BigEndian.Uint16(m.payload)), nil
}

func errorPayload(err error) []byte {
	if err == nil {
		return nil
	}
	return []byte(err.Error())
}
