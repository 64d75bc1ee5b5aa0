package tcpstack

// Seqno is a 32-bit wrapping TCP sequence number as it appears on the wire.
// Arithmetic on Seqno wraps modulo 2^32, matching RFC 793's sequence space.
type Seqno uint32

// Add returns s shifted forward by n sequence-space positions.
func (s Seqno) Add(n uint32) Seqno {
	return s + Seqno(n)
}

// Sub returns the (possibly negative, modulo 2^32) signed distance s - o.
func (s Seqno) Sub(o Seqno) int32 {
	return int32(s - o)
}

// Wrap maps a 64-bit absolute sequence-space position (counting the SYN as
// the first byte of sequence space, position 0 before it is sent) onto the
// wire-level 32-bit sequence number, anchored at isn.
//
//	wrap(absolute, isn) = isn + (absolute mod 2^32)
func Wrap(absolute uint64, isn Seqno) Seqno {
	return isn + Seqno(uint32(absolute))
}

// Unwrap returns the 64-bit absolute sequence-space position nearest to
// checkpoint whose low 32 bits, once isn is subtracted, equal w. There are
// always two candidates 2^32 apart that satisfy the low-32-bit constraint;
// Unwrap picks whichever is closer to checkpoint, and on an exact tie (the
// two candidates are equidistant, i.e. 2^31 apart from checkpoint) returns
// the larger of the two.
func Unwrap(w, isn Seqno, checkpoint uint64) uint64 {
	offset := uint32(w - isn)

	// The candidate nearest checkpoint shares checkpoint's high 32 bits,
	// possibly off by one "era" (2^32) in either direction.
	checkpointHigh := checkpoint &^ 0xffffffff
	candidate := checkpointHigh | uint64(offset)

	const wrapSpan = uint64(1) << 32

	best := candidate
	bestDist := absDistance(candidate, checkpoint)

	if candidate >= wrapSpan {
		below := candidate - wrapSpan
		if d := absDistance(below, checkpoint); d < bestDist || (d == bestDist && below > best) {
			best, bestDist = below, d
		}
	}

	above := candidate + wrapSpan
	if d := absDistance(above, checkpoint); d < bestDist || (d == bestDist && above > best) {
		best, bestDist = above, d
	}

	return best
}

func absDistance(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}
