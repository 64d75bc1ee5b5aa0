package tcpstack

import "time"

// outstandingSegment is a segment the sender has transmitted but not yet
// seen acknowledged, queued in the order it was sent.
type outstandingSegment struct {
	seg TCPSegment
}

// Sender turns bytes written to its input stream into a sequence of
// outbound TCP segments, honoring the peer's advertised window and driving
// a fixed-doubling retransmission timer. Ground: original_source's
// tcp_sender.cc, adapted from push/pop on a std::queue to a Go slice FIFO,
// and from tick(ms_since_last_tick) to tick(time.Duration).
//
// Non-goal: no RFC 6298 adaptive RTT estimation, no congestion control —
// the RTO only ever doubles on loss and resets to its initial value once an
// outstanding segment is freshly acknowledged.
type Sender struct {
	stream *ByteStream

	isn            Seqno
	initialRTO     time.Duration
	maxPayloadSize uint16
	metrics        *Metrics

	nextSeqno  uint64
	synSent    bool
	finSent    bool
	bytesInFlight uint64

	outstanding []outstandingSegment
	pending     []TCPSegment // produced by fillWindow/tick, drained by caller

	receiverWindowSize uint16
	receiverFreeSpace  int64

	rto                      time.Duration
	timerRunning             bool
	timeElapsed              time.Duration
	consecutiveRetransmissions uint32
}

// NewSender constructs a Sender over a freshly created input stream of the
// given capacity. The caller supplies the ISN; the Sender never picks one
// itself.
func NewSender(capacity int, isn Seqno, initialRTO time.Duration, maxPayloadSize uint16, metrics *Metrics) *Sender {
	return &Sender{
		stream:             NewByteStream(capacity),
		isn:                isn,
		initialRTO:         initialRTO,
		rto:                initialRTO,
		maxPayloadSize:     maxPayloadSize,
		metrics:            metrics,
		receiverWindowSize: 1, // treated as 1 until the first ack arrives, per fill_window's SYN path
	}
}

// Stream returns the sender's input stream, into which the caller writes
// outbound application bytes and signals EndInput to request a FIN.
func (s *Sender) Stream() *ByteStream {
	return s.stream
}

// BytesInFlight returns the number of sequence-space bytes sent but not yet
// acknowledged.
func (s *Sender) BytesInFlight() uint64 {
	return s.bytesInFlight
}

// nextSeqnoAbsolute returns the absolute sequence number of the next byte
// the sender will transmit.
func (s *Sender) nextSeqnoAbsolute() uint64 {
	return s.nextSeqno
}

// ConsecutiveRetransmissions returns how many times in a row the
// oldest outstanding segment has been retransmitted without a fresh ack.
func (s *Sender) ConsecutiveRetransmissions() uint32 {
	return s.consecutiveRetransmissions
}

// FillWindow sends only the SYN if it has not been sent yet. Otherwise, once
// the SYN is acknowledged, it sends as many payload segments as the stream
// and the peer's advertised window allow, then the FIN once the stream
// reaches EOF and the window has room for it.
func (s *Sender) FillWindow() {
	if !s.synSent {
		s.synSent = true
		s.sendSegment(TCPSegment{Header: TCPHeader{Flags: flagSYN}})
		return
	}
	if len(s.outstanding) > 0 && s.outstanding[0].seg.Header.SYN() {
		return // SYN not yet acked
	}
	if s.stream.BufferSize() == 0 && !s.stream.Eof() {
		return
	}
	if s.finSent {
		return
	}

	if s.receiverWindowSize > 0 {
		for s.receiverFreeSpace > 0 {
			payloadSize := s.stream.BufferSize()
			if int64(payloadSize) > s.receiverFreeSpace {
				payloadSize = int(s.receiverFreeSpace)
			}
			if payloadSize > int(s.maxPayloadSize) {
				payloadSize = int(s.maxPayloadSize)
			}

			seg := TCPSegment{Payload: s.stream.Read(payloadSize)}
			if s.stream.Eof() && s.receiverFreeSpace > int64(len(seg.Payload)) {
				seg.Header.Flags |= flagFIN
				s.finSent = true
			}
			s.sendSegment(seg)
			if s.stream.BufferEmpty() {
				break
			}
		}
	} else if s.receiverFreeSpace == 0 {
		// Zero window: probe with a single byte (or the bare FIN) as if
		// the window were at least 1, per RFC 793's persist-timer idiom.
		if s.stream.Eof() {
			s.finSent = true
			s.sendSegment(TCPSegment{Header: TCPHeader{Flags: flagFIN}})
		} else if !s.stream.BufferEmpty() {
			s.sendSegment(TCPSegment{Payload: s.stream.Read(1)})
		}
	}
}

// AckReceived processes an incoming ackno/window advertisement: it retires
// any now-acknowledged outstanding segments, updates the sender's notion of
// the peer's free space, and resumes sending via FillWindow.
func (s *Sender) AckReceived(ackno Seqno, windowSize uint16) {
	absAckno := Unwrap(ackno, s.isn, s.nextSeqno)
	if !s.ackValid(absAckno) {
		return
	}

	s.receiverWindowSize = windowSize
	s.receiverFreeSpace = int64(windowSize)

	for len(s.outstanding) > 0 {
		seg := s.outstanding[0].seg
		segAbsSeqno := Unwrap(seg.Header.Seqno, s.isn, s.nextSeqno)
		if segAbsSeqno+uint64(seg.LengthInSequenceSpace()) <= absAckno {
			s.bytesInFlight -= uint64(seg.LengthInSequenceSpace())
			s.outstanding = s.outstanding[1:]
			s.timeElapsed = 0
			s.rto = s.initialRTO
			s.consecutiveRetransmissions = 0
		} else {
			break
		}
	}

	if len(s.outstanding) > 0 {
		front := s.outstanding[0].seg
		frontAbsSeqno := Unwrap(front.Header.Seqno, s.isn, s.nextSeqno)
		s.receiverFreeSpace = int64(absAckno) + int64(windowSize) - int64(frontAbsSeqno) - int64(s.bytesInFlight)
	}

	if s.bytesInFlight == 0 {
		s.timerRunning = false
	}

	if s.metrics != nil {
		s.metrics.setBytesInFlight(s.bytesInFlight)
	}

	s.FillWindow()
}

// Tick advances the retransmission timer by elapsed; once it fires, the
// oldest outstanding segment is re-queued for transmission and the timeout
// doubles (unless the peer's window is closed and the segment isn't the
// SYN, matching original_source's "exempt zero-window probes" rule).
func (s *Sender) Tick(elapsed time.Duration) {
	if !s.timerRunning {
		return
	}
	s.timeElapsed += elapsed
	if s.timeElapsed < s.rto {
		return
	}

	s.pending = append(s.pending, s.outstanding[0].seg)
	if s.metrics != nil {
		s.metrics.incSegmentsRetransmitted()
	}
	if s.receiverWindowSize != 0 || s.outstanding[0].seg.Header.SYN() {
		s.consecutiveRetransmissions++
		s.rto *= 2
	}
	s.timeElapsed = 0
}

// SendEmptySegment queues a bare segment (no payload, no SYN/FIN) carrying
// the current next sequence number — used for pure acks and RSTs that the
// caller stamps with its own flags before handing off.
func (s *Sender) SendEmptySegment(flags uint8) {
	s.pending = append(s.pending, TCPSegment{Header: TCPHeader{
		Seqno: Wrap(s.nextSeqno, s.isn),
		Flags: flags,
	}})
}

// DrainSegments returns and clears the segments produced since the last
// call, in send order.
func (s *Sender) DrainSegments() []TCPSegment {
	out := s.pending
	s.pending = nil
	return out
}

func (s *Sender) ackValid(absAckno uint64) bool {
	if len(s.outstanding) == 0 {
		return absAckno <= s.nextSeqno
	}
	frontAbsSeqno := Unwrap(s.outstanding[0].seg.Header.Seqno, s.isn, s.nextSeqno)
	return absAckno <= s.nextSeqno && absAckno >= frontAbsSeqno
}

func (s *Sender) sendSegment(seg TCPSegment) {
	seg.Header.Seqno = Wrap(s.nextSeqno, s.isn)
	n := uint64(seg.LengthInSequenceSpace())
	s.nextSeqno += n
	s.bytesInFlight += n
	if s.synSent {
		s.receiverFreeSpace -= int64(n)
	}
	s.pending = append(s.pending, seg)
	s.outstanding = append(s.outstanding, outstandingSegment{seg: seg})
	if !s.timerRunning {
		s.timerRunning = true
		s.timeElapsed = 0
	}
	if s.metrics != nil {
		s.metrics.incSegmentsSent()
		s.metrics.setBytesInFlight(s.bytesInFlight)
	}
}
