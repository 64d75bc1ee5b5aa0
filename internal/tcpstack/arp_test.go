package tcpstack

import "testing"

func TestARPPacketRoundTrip(t *testing.T) {
	p := arpPacket{
		op:        arpOpRequest,
		senderMAC: MACAddr{1, 2, 3, 4, 5, 6},
		senderIP:  [4]byte{10, 0, 0, 1},
		targetMAC: MACAddr{},
		targetIP:  [4]byte{10, 0, 0, 2},
	}
	wire := buildARPPacket(p)
	got, ok := parseARPPacket(wire)
	if !ok {
		t.Fatalf("parseARPPacket rejected a well-formed packet")
	}
	if got != p {
		t.Fatalf("round trip: got %+v, want %+v", got, p)
	}
}

func TestParseARPPacketRejectsWrongHardwareType(t *testing.T) {
	p := arpPacket{op: arpOpRequest, senderIP: [4]byte{1, 1, 1, 1}, targetIP: [4]byte{2, 2, 2, 2}}
	wire := buildARPPacket(p)
	wire[1] = 2 // corrupt hardware type low byte
	if _, ok := parseARPPacket(wire); ok {
		t.Fatalf("expected rejection of a non-Ethernet ARP packet")
	}
}

func TestParseARPPacketTooShort(t *testing.T) {
	if _, ok := parseARPPacket(make([]byte, 10)); ok {
		t.Fatalf("expected rejection of a too-short ARP packet")
	}
}
