package tcpstack

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/rs/xid"
)

// Connection is the TCP state machine: it drives a Sender and Receiver pair
// against incoming segments, decides when the connection is done, and
// produces the outbound segments (stamped with the current ack/window) for
// the caller to hand to the network interface. Ground: original_source's
// tcp_connection.cc, translated control-flow-for-control-flow.
type Connection struct {
	id xid.ID

	sender   *Sender
	receiver *Receiver
	cfg      Config
	metrics  *Metrics
	log      *slog.Logger

	active                       bool
	lingerAfterStreamsFinish     bool
	timeSinceLastSegmentReceived time.Duration

	outbound []TCPSegment
}

// NewConnection constructs a Connection ready to either initiate (Connect)
// or accept (via the first inbound SYN in SegmentReceived) a TCP handshake.
func NewConnection(cfg Config, isn Seqno, streamCapacity int, metrics *Metrics) *Connection {
	c := &Connection{
		id:                       xid.New(),
		sender:                   NewSender(streamCapacity, isn, cfg.RTTimeout, cfg.MaxPayloadSize, metrics),
		receiver:                 NewReceiver(streamCapacity),
		cfg:                      cfg,
		metrics:                  metrics,
		log:                      slog.Default(),
		active:                   true,
		lingerAfterStreamsFinish: true,
	}
	runtime.SetFinalizer(c, (*Connection).finalize)
	return c
}

// Active reports whether the connection still considers itself alive.
func (c *Connection) Active() bool { return c.active }

// RemainingOutboundCapacity returns the free space in the sender's input
// stream.
func (c *Connection) RemainingOutboundCapacity() int { return c.sender.Stream().RemainingCapacity() }

// BytesInFlight returns the sender's currently outstanding byte count.
func (c *Connection) BytesInFlight() uint64 { return c.sender.BytesInFlight() }

// UnassembledBytes returns the receiver's out-of-order byte count.
func (c *Connection) UnassembledBytes() uint64 { return c.receiver.UnassembledBytes() }

// TimeSinceLastSegmentReceived reports how long it has been since the last
// inbound segment, used by clean-shutdown's lingering check.
func (c *Connection) TimeSinceLastSegmentReceived() time.Duration {
	return c.timeSinceLastSegmentReceived
}

// InboundStream returns the receiver's reassembled bytes, readable by the
// application.
func (c *Connection) InboundStream() *ByteStream { return c.receiver.Stream() }

// OutboundStream returns the sender's input stream, writable by the
// application.
func (c *Connection) OutboundStream() *ByteStream { return c.sender.Stream() }

// SegmentReceived processes one inbound segment, advancing the receiver and
// sender and queuing whatever reply segments result.
func (c *Connection) SegmentReceived(seg TCPSegment) {
	if !c.active {
		return
	}
	c.timeSinceLastSegmentReceived = 0

	ackno, haveAckno := c.receiver.Ackno()

	// Listening: no SYN seen yet and nothing sent — the only segment that
	// means anything here is an inbound SYN.
	if !haveAckno && c.sender.nextSeqnoAbsolute() == 0 {
		if !seg.Header.SYN() {
			return
		}
		c.receiver.SegmentReceived(seg)
		c.connect()
		return
	}

	// SYN-sent: we've sent our SYN but have not yet synchronized a
	// receiver of our own.
	if c.sender.nextSeqnoAbsolute() > 0 && c.sender.BytesInFlight() == c.sender.nextSeqnoAbsolute() && !haveAckno {
		if len(seg.Payload) > 0 {
			return
		}
		if !seg.Header.ACK() {
			if seg.Header.SYN() {
				c.receiver.SegmentReceived(seg)
				c.sender.SendEmptySegment(0)
			}
			return
		}
		if seg.Header.RST() {
			c.receiver.Stream().SetError()
			c.sender.Stream().SetError()
			c.active = false
			return
		}
	}

	c.receiver.SegmentReceived(seg)
	c.sender.AckReceived(seg.Header.Ackno, seg.Header.Window)

	if c.sender.Stream().BufferEmpty() && seg.LengthInSequenceSpace() > 0 {
		c.sender.SendEmptySegment(0)
	}
	if seg.Header.RST() {
		c.sender.SendEmptySegment(0)
		c.uncleanShutdown()
		return
	}
	c.sendSenderSegments()
}

// Write appends data to the outbound stream and attempts to send it
// immediately.
func (c *Connection) Write(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := c.sender.Stream().Write(data)
	c.sender.FillWindow()
	c.sendSenderSegments()
	return n
}

// Tick advances the connection's notion of elapsed time: it drives the
// sender's retransmission timer and aborts the connection if the peer has
// gone silent through too many consecutive retransmissions.
func (c *Connection) Tick(elapsed time.Duration) {
	if !c.active {
		return
	}
	c.timeSinceLastSegmentReceived += elapsed
	c.sender.Tick(elapsed)
	if c.sender.ConsecutiveRetransmissions() > c.cfg.MaxRetxAttempts {
		c.uncleanShutdown()
		return
	}
	c.sendSenderSegments()
}

// EndInputStream signals that the application has no more outbound bytes,
// triggering a FIN once prior data drains.
func (c *Connection) EndInputStream() {
	c.sender.Stream().EndInput()
	c.sender.FillWindow()
	c.sendSenderSegments()
}

// Connect begins an active-open handshake by sending the initial SYN.
func (c *Connection) Connect() {
	c.connect()
}

func (c *Connection) connect() {
	c.sender.FillWindow()
	c.sendSenderSegments()
}

// Close performs the same unclean-shutdown-with-a-warning the C++ original's
// destructor does for a still-active connection going out of scope. Go has
// no destructors, so callers that drop a Connection without a clean
// four-way close should call Close explicitly; a runtime.SetFinalizer
// backstop does the same for ones that don't.
func (c *Connection) Close() {
	if !c.active {
		return
	}
	c.log.Warn("unclean shutdown of tcp connection", "conn", c.id.String())
	c.sender.SendEmptySegment(0)
	c.uncleanShutdown()
}

func (c *Connection) finalize() {
	if c.active {
		c.Close()
	}
}

// DrainSegments returns and clears the segments queued for transmission
// since the last call, in send order.
func (c *Connection) DrainSegments() []TCPSegment {
	out := c.outbound
	c.outbound = nil
	return out
}

// sendSenderSegments drains whatever the sender produced, stamps each with
// the receiver's current ack/window once one exists, and appends them to
// the connection's own outbound queue; then evaluates clean-shutdown.
func (c *Connection) sendSenderSegments() {
	for _, seg := range c.sender.DrainSegments() {
		if ackno, ok := c.receiver.Ackno(); ok {
			seg.Header.Flags |= flagACK
			seg.Header.Ackno = ackno
			seg.Header.Window = c.receiver.WindowSize()
		}
		c.outbound = append(c.outbound, seg)
	}
	c.cleanShutdown()
}

func (c *Connection) uncleanShutdown() {
	c.receiver.Stream().SetError()
	c.sender.Stream().SetError()
	c.active = false

	pending := c.sender.DrainSegments()
	if len(pending) == 0 {
		c.log.Warn("unclean shutdown with no pending segment to carry RST", "conn", c.id.String())
		return
	}
	seg := pending[0]
	seg.Header.Flags |= flagACK | flagRST
	if ackno, ok := c.receiver.Ackno(); ok {
		seg.Header.Ackno = ackno
	}
	seg.Header.Window = c.receiver.WindowSize()
	c.outbound = append(c.outbound, seg)
	c.outbound = append(c.outbound, pending[1:]...)
}

func (c *Connection) cleanShutdown() {
	if !c.receiver.Stream().InputEnded() {
		return
	}
	if !c.sender.Stream().Eof() {
		c.lingerAfterStreamsFinish = false
		return
	}
	if c.sender.BytesInFlight() != 0 {
		return
	}
	if !c.lingerAfterStreamsFinish || c.timeSinceLastSegmentReceived >= 10*c.cfg.RTTimeout {
		c.active = false
	}
}
