package tcpstack

import "encoding/binary"

// internetChecksum computes the RFC 1071 one's-complement checksum of data,
// seeded with initial (use 0 for a plain checksum, or a pseudo-header partial
// sum when checksumming a TCP segment).
func internetChecksum(data []byte, initial uint32) uint16 {
	sum := initial
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// pseudoHeaderSum returns the partial checksum of the IPv4 pseudo-header used
// by TCP, to be folded together with the segment itself via internetChecksum.
func pseudoHeaderSum(src, dst [4]byte, protocol uint8, length int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dst[2:4]))
	sum += uint32(protocol)
	sum += uint32(length)
	return sum
}

// tcpChecksum computes the checksum of a complete TCP segment (header plus
// payload) as it would appear on the wire, given the IPv4 source/destination
// it travels between.
func tcpChecksum(src, dst [4]byte, segment []byte) uint16 {
	return internetChecksum(segment, pseudoHeaderSum(src, dst, protoTCP, len(segment)))
}

// ipv4HeaderChecksum computes the checksum of an IPv4 header (options
// included, payload excluded).
func ipv4HeaderChecksum(header []byte) uint16 {
	return internetChecksum(header, 0)
}
