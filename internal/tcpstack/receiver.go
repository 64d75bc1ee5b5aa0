package tcpstack

// Receiver turns inbound segments into reassembled bytes and tracks the
// ackno/window the connection advertises back to the peer. Ground:
// spec.md §6's receiver contract (segmentReceived, ackno, windowSize,
// unassembledBytes, stream).
type Receiver struct {
	reassembler *reassembler
	capacity    int

	isn    Seqno
	synced bool // true once the SYN has been seen and isn is known
}

// NewReceiver constructs a Receiver whose reassembled bytes land in a new
// ByteStream of the given capacity.
func NewReceiver(capacity int) *Receiver {
	return &Receiver{
		reassembler: newReassembler(NewByteStream(capacity)),
		capacity:    capacity,
	}
}

// SegmentReceived processes one inbound segment, folding its SYN/FIN flags
// and payload into the reassembler.
func (r *Receiver) SegmentReceived(seg TCPSegment) {
	h := seg.Header

	if h.SYN() {
		if r.synced {
			// A retransmitted or duplicate SYN after the stream is already
			// synchronized carries no new information.
			return
		}
		r.synced = true
		r.isn = h.Seqno
	}
	if !r.synced {
		return
	}

	// checkpoint: absolute index one past the last byte we've already
	// reassembled (or 0, if reassembly hasn't started) — the nearest
	// known point to unwrap this segment's seqno against.
	checkpoint := r.reassembler.firstUnassembledIndex()

	// Absolute index 0 is the SYN itself; index 1 is the first payload
	// byte. A non-SYN segment's seqno already names its first payload
	// byte's absolute index, one past the SYN; a SYN segment's own
	// payload (if any) starts right at index 0.
	dataStart := uint64(0)
	if !h.SYN() {
		dataStart = Unwrap(h.Seqno, r.isn, checkpoint) - 1
	}

	r.reassembler.insert(dataStart, seg.Payload, h.FIN())
}

// Ackno returns the absolute sequence number the receiver is ready to
// acknowledge next, in wire form, or ok=false before the SYN has arrived.
func (r *Receiver) Ackno() (seqno Seqno, ok bool) {
	if !r.synced {
		return 0, false
	}
	// +1 for the SYN, plus however many further bytes (and the FIN, once
	// it has been reassembled) are now contiguous.
	absolute := r.reassembler.firstUnassembledIndex() + 1
	if r.reassembler.finReceived() {
		absolute++
	}
	return Wrap(absolute, r.isn), true
}

// WindowSize returns the number of additional bytes the receiver is
// currently willing to accept, derived from the output stream's remaining
// capacity.
func (r *Receiver) WindowSize() uint16 {
	room := r.reassembler.output.RemainingCapacity()
	if room > 0xffff {
		room = 0xffff
	}
	return uint16(room)
}

// UnassembledBytes returns the number of out-of-order bytes currently held
// pending reassembly.
func (r *Receiver) UnassembledBytes() uint64 {
	return r.reassembler.unassembledBytes()
}

// Stream returns the receiver's reassembled output stream.
func (r *Receiver) Stream() *ByteStream {
	return r.reassembler.output
}
