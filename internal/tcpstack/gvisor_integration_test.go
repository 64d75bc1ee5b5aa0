package tcpstack

// Integration test against a real gVisor TCP/IP stack, standing in for the
// guest the other half of original_source's lab (an actual kernel) would
// have been. Ground: tinyrange-cc's internal/netstack/test/gvisor.go and
// gvisor_test.go, which wire the teacher's own netstack.NetworkInterface to
// gVisor the same way. This file lives in package tcpstack (not a separate
// gvisortest package) because it
// needs the unexported wire codec (parseIPv4Header, parseTCPSegment,
// buildIPv4Packet, buildTCPSegment) to bridge frames between our
// NetworkInterface and gVisor's channel endpoint.

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
)

const gvisorNICID tcpip.NICID = 1

var (
	hostMAC  = MACAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	hostIP   = [4]byte{10, 50, 0, 1}
	guestMAC = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x02")
	guestIP  = [4]byte{10, 50, 0, 2}
)

func mustAddrFrom4(ip [4]byte) tcpip.Address {
	return tcpip.AddrFrom4(ip)
}

// gvisorSnapshot is the only view of the harness's Connection the test
// goroutine is allowed to read; it is published under gvisorHarness.mu by
// the pump goroutine, which is the sole owner and mutator of the
// Connection and NetworkInterface themselves.
type gvisorSnapshot struct {
	established  bool
	inboundEnded bool
	inbound      []byte
}

// gvisorHarness bridges one tcpstack.Connection, accepted passively off a
// fixed listening port, to a real gVisor stack over an in-memory link. A
// single goroutine (pump) owns the Connection and NetworkInterface end to
// end, matching spec.md §5's single-owner discipline for the core; gVisor's
// own internal goroutines are outside that boundary. The test goroutine
// talks to pump only through the request channels and the mutex-guarded
// snapshot below, never through the Connection directly.
type gvisorHarness struct {
	ctx    context.Context
	cancel context.CancelFunc

	listenPort uint16
	peerPort   uint16

	iface *NetworkInterface
	conn  *Connection

	gs *stack.Stack
	ch *channel.Endpoint

	writeReqs    chan []byte
	endInputReqs chan struct{}

	mu   sync.Mutex
	snap gvisorSnapshot
}

func newGvisorHarness(tb testing.TB, listenPort uint16) *gvisorHarness {
	tb.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &gvisorHarness{
		ctx:          ctx,
		cancel:       cancel,
		listenPort:   listenPort,
		iface:        NewNetworkInterface(hostMAC, hostIP, nil, nil),
		writeReqs:    make(chan []byte, 16),
		endInputReqs: make(chan struct{}, 1),
	}

	h.ch = channel.New(256, 1500+header.EthernetMinimumSize, guestMAC)
	ep := ethernet.New(h.ch)
	h.gs = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol},
	})
	if err := h.gs.CreateNIC(gvisorNICID, ep); err != nil {
		tb.Fatalf("gvisor CreateNIC: %v", err)
	}
	if err := h.gs.AddProtocolAddress(gvisorNICID, tcpip.ProtocolAddress{
		Protocol: ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   mustAddrFrom4(guestIP),
			PrefixLen: 24,
		},
	}, stack.AddressProperties{}); err != nil {
		tb.Fatalf("gvisor AddProtocolAddress: %v", err)
	}
	h.gs.SetRouteTable([]tcpip.Route{{
		Destination: header.IPv4EmptySubnet,
		Gateway:     mustAddrFrom4(hostIP),
		NIC:         gvisorNICID,
	}})

	go h.pump()
	tb.Cleanup(func() {
		h.cancel()
		h.ch.Close()
	})
	return h
}

func (h *gvisorHarness) pump() {
	fromGuest := make(chan []byte, 256)
	go func() {
		for {
			pkt := h.ch.ReadContext(h.ctx)
			if pkt == nil {
				return
			}
			b := append([]byte(nil), pkt.ToView().AsSlice()...)
			pkt.DecRef()
			select {
			case fromGuest <- b:
			case <-h.ctx.Done():
				return
			}
		}
	}()

	const step = 2 * time.Millisecond
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case frame := <-fromGuest:
			h.handleFrame(frame)
			h.flushOutbound()
		case data := <-h.writeReqs:
			if h.conn != nil {
				h.conn.Write(data)
			}
			h.flushOutbound()
		case <-h.endInputReqs:
			if h.conn != nil {
				h.conn.EndInputStream()
			}
			h.flushOutbound()
		case <-ticker.C:
			if h.conn != nil {
				h.conn.Tick(step)
			}
			h.iface.Tick(step)
			h.flushOutbound()
		}
		h.publishSnapshot()
	}
}

func (h *gvisorHarness) publishSnapshot() {
	if h.conn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.established = h.conn.sender.nextSeqnoAbsolute() > 0 && h.conn.sender.BytesInFlight() < h.conn.sender.nextSeqnoAbsolute()
	h.snap.inboundEnded = h.conn.InboundStream().InputEnded()
	if n := h.conn.InboundStream().BufferSize(); n > 0 {
		h.snap.inbound = append(h.snap.inbound, h.conn.InboundStream().Read(n)...)
	}
}

func (h *gvisorHarness) handleFrame(frame []byte) {
	datagram, ok := h.iface.RecvFrame(frame)
	if !ok {
		return
	}
	ipHdr, err := parseIPv4Header(datagram)
	if err != nil || ipHdr.protocol != protoTCP {
		return
	}
	seg, err := parseTCPSegment(ipHdr.payload)
	if err != nil {
		return
	}
	if h.conn == nil {
		if seg.Header.DstPort != h.listenPort || !seg.Header.SYN() {
			return
		}
		h.peerPort = seg.Header.SrcPort
		h.conn = NewConnection(DefaultConfig(), Seqno(500), 64*1024, nil)
	}
	if seg.Header.SrcPort != h.peerPort {
		return
	}
	h.conn.SegmentReceived(seg)
}

func (h *gvisorHarness) flushOutbound() {
	if h.conn != nil {
		for _, seg := range h.conn.DrainSegments() {
			seg.Header.SrcPort = h.listenPort
			seg.Header.DstPort = h.peerPort
			packet := buildIPv4Packet(hostIP, guestIP, protoTCP, buildTCPSegment(seg, hostIP, guestIP))
			h.iface.SendDatagram(packet, guestIP)
		}
	}
	for _, frame := range h.iface.DrainFrames() {
		pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
			Payload: buffer.MakeWithData(frame),
		})
		h.ch.InjectInbound(0, pkt)
	}
}

func (h *gvisorHarness) dial(tb testing.TB) net.Conn {
	tb.Helper()
	c, err := gonet.DialTCP(h.gs, tcpip.FullAddress{
		NIC:  gvisorNICID,
		Addr: mustAddrFrom4(hostIP),
		Port: h.listenPort,
	}, ipv4.ProtocolNumber)
	if err != nil {
		tb.Fatalf("gvisor dial tcp: %v", err)
	}
	tb.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *gvisorHarness) write(data []byte) {
	h.writeReqs <- data
}

func (h *gvisorHarness) endInputStream() {
	h.endInputReqs <- struct{}{}
}

func (h *gvisorHarness) snapshot() gvisorSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gvisorSnapshot{
		established:  h.snap.established,
		inboundEnded: h.snap.inboundEnded,
		inbound:      append([]byte(nil), h.snap.inbound...),
	}
}

func (h *gvisorHarness) takeInbound() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.snap.inbound
	h.snap.inbound = nil
	return out
}

func (h *gvisorHarness) awaitEstablished(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.snapshot().established {
			return
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("handshake did not complete within %s", timeout)
}

func (h *gvisorHarness) awaitInboundEnded(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.snapshot().inboundEnded {
			return
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("host side never observed the guest's FIN within %s", timeout)
}

func TestGvisorTCPHandshake(t *testing.T) {
	h := newGvisorHarness(t, 9000)

	client := h.dial(t)
	h.awaitEstablished(t, 2*time.Second)
	_ = client
}

func TestGvisorTCPDataTransferGuestToHost(t *testing.T) {
	h := newGvisorHarness(t, 9001)

	client := h.dial(t)
	h.awaitEstablished(t, 2*time.Second)

	want := []byte("hello from gvisor")
	if _, err := client.Write(want); err != nil {
		t.Fatalf("client write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for len(got) < len(want) {
		got = append(got, h.takeInbound()...)
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for data, got %q", got)
		}
		time.Sleep(time.Millisecond)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload mismatch: got %q want %q", got, want)
	}
}

func TestGvisorTCPDataTransferHostToGuest(t *testing.T) {
	h := newGvisorHarness(t, 9002)

	client := h.dial(t)
	h.awaitEstablished(t, 2*time.Second)

	want := []byte("hello from tcpstack")
	h.write(want)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(want))
	n := 0
	for n < len(want) {
		m, err := client.Read(got[n:])
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		n += m
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload mismatch: got %q want %q", got, want)
	}
}

func TestGvisorTCPGracefulCloseGuestInitiated(t *testing.T) {
	h := newGvisorHarness(t, 9003)

	client := h.dial(t)
	h.awaitEstablished(t, 2*time.Second)

	if err := client.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}

	h.awaitInboundEnded(t, 3*time.Second)
	h.endInputStream()
}
