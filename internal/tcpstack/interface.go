package tcpstack

import (
	"time"

	"github.com/tinyrange/utcpstack/internal/pcap"
)

const (
	maxCacheTime        = 30 * time.Second
	maxRetxWaitingTime  = 5 * time.Second
)

// arpCacheEntry records a learned IPv4→MAC mapping and how long it has sat
// in the cache, towards maxCacheTime expiry.
type arpCacheEntry struct {
	mac      MACAddr
	cachedAt time.Duration // cumulative Tick time at insertion
}

// waitingList holds IPv4 datagrams queued for a next hop whose MAC address
// is still unknown, plus when the last ARP request for it went out (to
// coalesce repeated requests within maxRetxWaitingTime).
type waitingList struct {
	timeSinceLastRequest time.Duration
	datagrams            [][]byte
}

// NetworkInterface is the link layer: it resolves IPv4 next hops to
// Ethernet addresses via ARP, queues datagrams while a resolution is
// pending, and demultiplexes inbound frames into datagrams (IPv4) or
// cache/reply updates (ARP). Ground: original_source's
// network_interface.hh (MAX_CACHE_TIME/MAX_RETX_WAITING_TIME, the
// cache/queue_map split, and the public send_datagram/recv_frame/tick
// surface).
type NetworkInterface struct {
	mac MACAddr
	ip  [4]byte

	cache   map[[4]byte]arpCacheEntry
	pending map[[4]byte]*waitingList

	now time.Duration // cumulative time advanced via Tick

	framesOut []ethernetFrameOut

	metrics *Metrics
	capture *pcap.Writer
}

type ethernetFrameOut struct {
	frame []byte
}

// NewNetworkInterface constructs a NetworkInterface bound to the given
// hardware and IPv4 address. capture may be nil to skip packet capture.
func NewNetworkInterface(mac MACAddr, ip [4]byte, metrics *Metrics, capture *pcap.Writer) *NetworkInterface {
	return &NetworkInterface{
		mac:     mac,
		ip:      ip,
		cache:   make(map[[4]byte]arpCacheEntry),
		pending: make(map[[4]byte]*waitingList),
		metrics: metrics,
		capture: capture,
	}
}

// SendDatagram queues an IPv4 datagram for transmission to nextHop. If the
// interface already knows nextHop's MAC address, the datagram is
// immediately encapsulated and queued for DrainFrames; otherwise it is held in
// the waiting list and an ARP request is sent (subject to coalescing).
func (n *NetworkInterface) SendDatagram(datagram []byte, nextHop [4]byte) {
	if entry, ok := n.cache[nextHop]; ok {
		n.sendHelper(entry.mac, datagram)
		return
	}
	n.queueHelper(nextHop, datagram)
	n.maybeSendARPRequest(nextHop)
}

// RecvFrame processes one inbound Ethernet frame. If it carries an IPv4
// datagram addressed to us, the datagram's bytes are returned with ok=true.
// ARP requests/replies are handled internally (cache updates, reply
// generation) and never surfaced to the caller.
func (n *NetworkInterface) RecvFrame(raw []byte) (datagram []byte, ok bool) {
	n.captureFrame(raw)

	f, err := parseEthernetFrame(raw)
	if err != nil {
		return nil, false
	}
	if f.dst != n.mac && !f.dst.IsBroadcast() {
		return nil, false
	}

	switch f.etherType {
	case etherTypeIPv4:
		return f.payload, true
	case etherTypeARP:
		n.handleARP(f.src, f.payload)
		return nil, false
	default:
		return nil, false
	}
}

func (n *NetworkInterface) handleARP(srcMAC MACAddr, payload []byte) {
	pkt, ok := parseARPPacket(payload)
	if !ok {
		return
	}

	targetsUs := pkt.op == arpOpRequest && pkt.targetIP == n.ip
	isReply := pkt.op == arpOpReply
	if !targetsUs && !isReply {
		return
	}

	n.cacheMapping(pkt.senderIP, pkt.senderMAC)
	n.clearWaitingList(pkt.senderIP, pkt.senderMAC)

	if targetsUs {
		n.sendARPReply(srcMAC, pkt.senderMAC, pkt.senderIP)
	}
}

func (n *NetworkInterface) cacheMapping(ip [4]byte, mac MACAddr) {
	n.cache[ip] = arpCacheEntry{mac: mac, cachedAt: n.now}
	if n.metrics != nil {
		n.metrics.setARPCacheSize(len(n.cache))
	}
}

func (n *NetworkInterface) clearWaitingList(ip [4]byte, mac MACAddr) {
	wl, ok := n.pending[ip]
	if !ok {
		return
	}
	for _, dgram := range wl.datagrams {
		n.sendHelper(mac, dgram)
	}
	delete(n.pending, ip)
}

func (n *NetworkInterface) queueHelper(ip [4]byte, datagram []byte) {
	wl, ok := n.pending[ip]
	if !ok {
		wl = &waitingList{timeSinceLastRequest: maxRetxWaitingTime} // force an immediate first request
		n.pending[ip] = wl
	}
	wl.datagrams = append(wl.datagrams, datagram)
}

func (n *NetworkInterface) maybeSendARPRequest(ip [4]byte) {
	wl := n.pending[ip]
	if wl.timeSinceLastRequest < maxRetxWaitingTime {
		return
	}
	n.sendARPRequest(ip)
	wl.timeSinceLastRequest = 0
}

func (n *NetworkInterface) sendHelper(dstMAC MACAddr, datagram []byte) {
	frame := buildEthernetFrame(dstMAC, n.mac, etherTypeIPv4, datagram)
	n.queueFrame(frame)
}

func (n *NetworkInterface) sendARPRequest(ip [4]byte) {
	pkt := arpPacket{
		op:        arpOpRequest,
		senderMAC: n.mac,
		senderIP:  n.ip,
		targetMAC: MACAddr{},
		targetIP:  ip,
	}
	frame := buildEthernetFrame(Broadcast, n.mac, etherTypeARP, buildARPPacket(pkt))
	n.queueFrame(frame)
	if n.metrics != nil {
		n.metrics.incARPRequestsSent()
	}
}

func (n *NetworkInterface) sendARPReply(dstMAC, queriedMAC MACAddr, queriedIP [4]byte) {
	pkt := arpPacket{
		op:        arpOpReply,
		senderMAC: n.mac,
		senderIP:  n.ip,
		targetMAC: queriedMAC,
		targetIP:  queriedIP,
	}
	frame := buildEthernetFrame(dstMAC, n.mac, etherTypeARP, buildARPPacket(pkt))
	n.queueFrame(frame)
}

func (n *NetworkInterface) queueFrame(frame []byte) {
	n.framesOut = append(n.framesOut, ethernetFrameOut{frame: frame})
	n.captureFrame(frame)
}

// captureFrame writes frame to the packet-capture sink, if one is attached.
// The record's timestamp is n.now, the interface's own simulated clock, not
// wall-clock time: the interface never calls time.Now() itself (spec §5's
// single-threaded/event-driven core).
func (n *NetworkInterface) captureFrame(frame []byte) {
	if n.capture == nil {
		return
	}
	_ = n.capture.WritePacket(pcap.CaptureInfo{
		Timestamp:     n.now,
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}

// DrainFrames returns and clears the Ethernet frames queued for
// transmission since the last call, in send order.
func (n *NetworkInterface) DrainFrames() [][]byte {
	out := make([][]byte, len(n.framesOut))
	for i, f := range n.framesOut {
		out[i] = f.frame
	}
	n.framesOut = nil
	return out
}

// Tick advances the interface's internal clock by elapsed, expiring stale
// ARP cache entries and waiting lists' request-coalescing windows.
func (n *NetworkInterface) Tick(elapsed time.Duration) {
	n.now += elapsed

	for ip, entry := range n.cache {
		if n.now-entry.cachedAt >= maxCacheTime {
			delete(n.cache, ip)
		}
	}
	if n.metrics != nil {
		n.metrics.setARPCacheSize(len(n.cache))
	}

	for ip, wl := range n.pending {
		wl.timeSinceLastRequest += elapsed
		if wl.timeSinceLastRequest >= maxRetxWaitingTime && len(wl.datagrams) > 0 {
			n.sendARPRequest(ip)
			wl.timeSinceLastRequest = 0
		}
	}
}
