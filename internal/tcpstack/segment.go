package tcpstack

import (
	"encoding/binary"
	"fmt"
)

const tcpHeaderLen = 20

// TCP control bits (RFC 793 §3.1), packed the way the wire carries them in
// the low 6 bits of the flags byte.
const (
	flagFIN uint8 = 1 << 0
	flagSYN uint8 = 1 << 1
	flagRST uint8 = 1 << 2
	flagPSH uint8 = 1 << 3
	flagACK uint8 = 1 << 4
	flagURG uint8 = 1 << 5
)

// TCPHeader is the fixed 20-byte TCP header. Options are not represented:
// the stack never sends or interprets MSS, window scale, SACK, or timestamp
// options (Non-goal: no TCP options).
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seqno    Seqno
	Ackno    Seqno
	Flags    uint8
	Window   uint16
	Checksum uint16
	Urgent   uint16
}

func (h TCPHeader) SYN() bool { return h.Flags&flagSYN != 0 }
func (h TCPHeader) FIN() bool { return h.Flags&flagFIN != 0 }
func (h TCPHeader) RST() bool { return h.Flags&flagRST != 0 }
func (h TCPHeader) ACK() bool { return h.Flags&flagACK != 0 }

// TCPSegment is a TCP header paired with its payload, the unit the sender,
// connection, and receiver exchange with the wire.
type TCPSegment struct {
	Header  TCPHeader
	Payload []byte
}

// LengthInSequenceSpace returns how many sequence numbers the segment
// consumes: the payload plus one each for a set SYN or FIN flag.
func (s TCPSegment) LengthInSequenceSpace() uint32 {
	n := uint32(len(s.Payload))
	if s.Header.SYN() {
		n++
	}
	if s.Header.FIN() {
		n++
	}
	return n
}

// parseTCPSegment decodes a TCP header and payload from data.
func parseTCPSegment(data []byte) (TCPSegment, error) {
	if len(data) < tcpHeaderLen {
		return TCPSegment{}, fmt.Errorf("tcpstack: tcp header too short: %d bytes", len(data))
	}

	hdrLen := int(data[12]>>4) * 4
	if hdrLen < tcpHeaderLen || len(data) < hdrLen {
		return TCPSegment{}, fmt.Errorf("tcpstack: tcp header length mismatch: %d", hdrLen)
	}

	h := TCPHeader{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Seqno:    Seqno(binary.BigEndian.Uint32(data[4:8])),
		Ackno:    Seqno(binary.BigEndian.Uint32(data[8:12])),
		Flags:    data[13] & 0x3f,
		Window:   binary.BigEndian.Uint16(data[14:16]),
		Checksum: binary.BigEndian.Uint16(data[16:18]),
		Urgent:   binary.BigEndian.Uint16(data[18:20]),
	}

	return TCPSegment{Header: h, Payload: data[hdrLen:]}, nil
}

// buildTCPSegment serializes seg into a TCP header plus payload, computing
// the checksum over the IPv4 pseudo-header given by src/dst.
func buildTCPSegment(seg TCPSegment, src, dst [4]byte) []byte {
	buf := make([]byte, tcpHeaderLen+len(seg.Payload))
	h := seg.Header

	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Seqno))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Ackno))
	buf[12] = byte(tcpHeaderLen/4) << 4
	buf[13] = h.Flags & 0x3f
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum filled below
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)
	copy(buf[tcpHeaderLen:], seg.Payload)

	binary.BigEndian.PutUint16(buf[16:18], tcpChecksum(src, dst, buf))
	return buf
}
