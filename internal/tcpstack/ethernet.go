package tcpstack

import (
	"encoding/binary"
	"fmt"
)

// MACAddr is a 48-bit Ethernet hardware address.
type MACAddr [6]byte

// Broadcast is the Ethernet broadcast address, ff:ff:ff:ff:ff:ff.
var Broadcast = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the all-ones broadcast address.
func (m MACAddr) IsBroadcast() bool {
	return m == Broadcast
}

// etherType identifies the payload carried by an Ethernet frame.
type etherType uint16

const (
	etherTypeIPv4 etherType = 0x0800
	etherTypeARP  etherType = 0x0806
)

const ethernetHeaderLen = 14

// ethernetFrame is a parsed Ethernet II frame: a 14-byte header (destination
// MAC, source MAC, EtherType) followed by the payload.
type ethernetFrame struct {
	dst       MACAddr
	src       MACAddr
	etherType etherType
	payload   []byte
}

// parseEthernetFrame decodes the fixed 14-byte Ethernet header from data.
func parseEthernetFrame(data []byte) (ethernetFrame, error) {
	if len(data) < ethernetHeaderLen {
		return ethernetFrame{}, fmt.Errorf("tcpstack: ethernet frame too short: %d bytes", len(data))
	}
	var f ethernetFrame
	copy(f.dst[:], data[0:6])
	copy(f.src[:], data[6:12])
	f.etherType = etherType(binary.BigEndian.Uint16(data[12:14]))
	f.payload = data[ethernetHeaderLen:]
	return f, nil
}

// buildEthernetFrame serializes an Ethernet II frame wrapping payload.
func buildEthernetFrame(dst, src MACAddr, et etherType, payload []byte) []byte {
	frame := make([]byte, ethernetHeaderLen+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	binary.BigEndian.PutUint16(frame[12:14], uint16(et))
	copy(frame[ethernetHeaderLen:], payload)
	return frame
}
