package tcpstack

import "sort"

// reassembler buffers out-of-order byte substrings up to the capacity of the
// output stream and pushes them into it as soon as they become contiguous
// with the first unassembled index. It is the receiver's only collaborator
// for reordering; the receiver itself only ever deals in absolute indices.
type reassembler struct {
	output *ByteStream

	firstUnassembled uint64
	eofIndex         uint64
	haveEOF          bool

	// pending holds out-of-order fragments, sorted and kept non-overlapping
	// by insert's merge pass. Substrings beyond the stream's remaining
	// capacity are trimmed or dropped entirely (Non-goal: unbounded
	// reassembly buffer).
	pending []byteRange
}

type byteRange struct {
	start uint64 // absolute index of first byte, inclusive
	data  []byte
}

func (r byteRange) end() uint64 { return r.start + uint64(len(r.data)) }

// newReassembler constructs a reassembler that writes contiguous bytes into
// output.
func newReassembler(output *ByteStream) *reassembler {
	return &reassembler{output: output}
}

// insert delivers a substring of the input stream: data starting at absolute
// index start, with isLast set if this is the final substring of the stream.
func (r *reassembler) insert(start uint64, data []byte, isLast bool) {
	if isLast {
		r.haveEOF = true
		r.eofIndex = start + uint64(len(data))
	}

	end := start + uint64(len(data))
	if end <= r.firstUnassembled || len(data) == 0 {
		r.maybeFinish()
		return
	}
	if start < r.firstUnassembled {
		trim := r.firstUnassembled - start
		data = data[trim:]
		start = r.firstUnassembled
	}

	// Trim to what the output stream can still hold.
	capacityEnd := r.firstUnassembled + uint64(r.output.RemainingCapacity())
	if start >= capacityEnd {
		return
	}
	if start+uint64(len(data)) > capacityEnd {
		data = data[:capacityEnd-start]
	}
	if len(data) == 0 {
		r.maybeFinish()
		return
	}

	r.pending = append(r.pending, byteRange{start: start, data: data})
	r.mergePending()
	r.flush()
	r.maybeFinish()
}

// mergePending sorts pending ranges by start and coalesces any that overlap
// or abut, so unassembledBytes never double-counts shared bytes.
func (r *reassembler) mergePending() {
	sort.Slice(r.pending, func(i, j int) bool { return r.pending[i].start < r.pending[j].start })

	merged := r.pending[:0]
	for _, rng := range r.pending {
		if len(merged) == 0 {
			merged = append(merged, rng)
			continue
		}
		last := &merged[len(merged)-1]
		if rng.start > last.end() {
			merged = append(merged, rng)
			continue
		}
		if rng.end() <= last.end() {
			continue // fully contained
		}
		overlap := last.end() - rng.start
		last.data = append(last.data, rng.data[overlap:]...)
	}
	r.pending = merged
}

// flush pushes any pending range that now starts exactly at
// firstUnassembled into the output stream, repeating as long as doing so
// exposes the next range in turn.
func (r *reassembler) flush() {
	for len(r.pending) > 0 && r.pending[0].start == r.firstUnassembled {
		rng := r.pending[0]
		n := r.output.Write(rng.data)
		r.firstUnassembled += uint64(n)
		if n < len(rng.data) {
			// Output stream ran out of room; keep the unwritten remainder
			// pending for the next call once the reader drains more.
			r.pending[0] = byteRange{start: r.firstUnassembled, data: rng.data[n:]}
			return
		}
		r.pending = r.pending[1:]
	}
}

func (r *reassembler) maybeFinish() {
	if r.haveEOF && r.firstUnassembled == r.eofIndex {
		r.output.EndInput()
	}
}

// unassembledBytes returns the total number of bytes currently held in
// pending (out-of-order) ranges, not yet written to the output stream.
func (r *reassembler) unassembledBytes() uint64 {
	var n uint64
	for _, rng := range r.pending {
		n += uint64(len(rng.data))
	}
	return n
}

// firstUnassembledIndex returns the absolute index of the first byte not yet
// written to the output stream — the reassembler's checkpoint for Unwrap.
func (r *reassembler) firstUnassembledIndex() uint64 {
	return r.firstUnassembled
}

// finReceived reports whether the FIN's sequence position is known and
// every byte up to it has been contiguously reassembled — independent of
// whether the application has since read those bytes out of the stream.
func (r *reassembler) finReceived() bool {
	return r.haveEOF && r.firstUnassembled == r.eofIndex
}
