package tcpstack

import (
	"encoding/binary"
	"fmt"
)

const ipv4HeaderLen = 20

// protoTCP is the IPv4 protocol number for TCP (RFC 793).
const protoTCP uint8 = 6

// ipv4Header captures the fixed 20-byte IPv4 header. Options and
// fragmentation are not interpreted: parseIPv4Header skips any options (the
// payload starts after the IHL-given header length) and stores the
// flags/fragment-offset word as-is; datagrams carrying either are not
// rejected (Non-goal: no IP fragmentation/reassembly).
type ipv4Header struct {
	tos      uint8
	length   uint16
	flags    uint16
	ttl      uint8
	protocol uint8
	checksum uint16
	src      [4]byte
	dst      [4]byte
	payload  []byte
}

// parseIPv4Header decodes the IPv4 header at the front of data.
func parseIPv4Header(data []byte) (ipv4Header, error) {
	if len(data) < ipv4HeaderLen {
		return ipv4Header{}, fmt.Errorf("tcpstack: ipv4 header too short: %d bytes", len(data))
	}
	verIHL := data[0]
	version := verIHL >> 4
	ihl := verIHL & 0x0f
	if version != 4 {
		return ipv4Header{}, fmt.Errorf("tcpstack: unsupported ip version %d", version)
	}
	headerLen := int(ihl) * 4
	if headerLen < ipv4HeaderLen || len(data) < headerLen {
		return ipv4Header{}, fmt.Errorf("tcpstack: ipv4 header length mismatch: %d", headerLen)
	}

	h := ipv4Header{
		tos:      data[1],
		length:   binary.BigEndian.Uint16(data[2:4]),
		flags:    binary.BigEndian.Uint16(data[6:8]),
		ttl:      data[8],
		protocol: data[9],
		checksum: binary.BigEndian.Uint16(data[10:12]),
	}
	copy(h.src[:], data[12:16])
	copy(h.dst[:], data[16:20])
	h.payload = data[headerLen:]
	return h, nil
}

// buildIPv4Packet serializes an IPv4 datagram (header plus payload) with a
// freshly computed header checksum. Fragmentation fields are always zero:
// the stack never fragments outbound datagrams.
func buildIPv4Packet(src, dst [4]byte, protocol uint8, payload []byte) []byte {
	packet := make([]byte, ipv4HeaderLen+len(payload))
	header := packet[:ipv4HeaderLen]

	header[0] = (4 << 4) | (ipv4HeaderLen / 4)
	header[1] = 0
	binary.BigEndian.PutUint16(header[2:4], uint16(len(packet)))
	binary.BigEndian.PutUint16(header[4:6], 0)
	binary.BigEndian.PutUint16(header[6:8], 0)
	header[8] = 64
	header[9] = protocol
	copy(header[12:16], src[:])
	copy(header[16:20], dst[:])

	binary.BigEndian.PutUint16(header[10:12], ipv4HeaderChecksum(header))

	copy(packet[ipv4HeaderLen:], payload)
	return packet
}
