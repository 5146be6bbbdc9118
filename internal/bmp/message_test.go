package bmp

import (
	"encoding/binary"
	"testing"
)

func u16b(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func u32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func buildCommonHeader(msgType uint8, bodyLen int) []byte {
	h := make([]byte, CommonHeaderSize)
	h[0] = Version
	binary.BigEndian.PutUint32(h[1:5], uint32(CommonHeaderSize+bodyLen))
	h[5] = msgType
	return h
}

func buildPerPeerHeader(peerType, flags uint8, peerAS uint32) []byte {
	b := make([]byte, PerPeerHeaderSize)
	b[0] = peerType
	b[1] = flags
	// peer distinguisher left zero
	copy(b[10:26], make([]byte, 16))
	binary.BigEndian.PutUint32(b[26:30], peerAS)
	binary.BigEndian.PutUint32(b[30:34], 0x0A000001)
	return b
}

func TestFramer_SplitAcrossChunks(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	msg := append(buildCommonHeader(MsgTypeInitiation, len(body)), body...)

	f := NewFramer()
	first, err := f.Feed(msg[:4])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("expected no complete message yet, got %d", len(first))
	}
	second, err := f.Feed(msg[4:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 complete message, got %d", len(second))
	}
	if f.Pending() != 0 {
		t.Fatalf("expected no pending bytes, got %d", f.Pending())
	}
}

func TestFramer_MultipleMessagesOneChunk(t *testing.T) {
	msg1 := append(buildCommonHeader(MsgTypeInitiation, 2), 1, 2)
	msg2 := append(buildCommonHeader(MsgTypeInitiation, 3), 3, 4, 5)

	f := NewFramer()
	msgs, err := f.Feed(append(append([]byte{}, msg1...), msg2...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestFramer_BadVersionIsFatal(t *testing.T) {
	msg := []byte{99, 0, 0, 0, 6, 0}
	f := NewFramer()
	if _, err := f.Feed(msg); err == nil {
		t.Fatalf("expected fatal error on bad version")
	}
}

func TestFramer_ShortLengthIsFatal(t *testing.T) {
	msg := []byte{Version, 0, 0, 0, 3, 0}
	f := NewFramer()
	if _, err := f.Feed(msg); err == nil {
		t.Fatalf("expected fatal error on implausible length")
	}
}

func TestDecode_RouteMonitoring(t *testing.T) {
	peerHdr := buildPerPeerHeader(PeerTypeGlobalInstance, PeerFlagPostPolicy, 65010)
	body := append(peerHdr, []byte{0xDE, 0xAD}...)
	raw := append(buildCommonHeader(MsgTypeRouteMonitoring, len(body)), body...)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MsgTypeRouteMonitoring {
		t.Fatalf("unexpected type: %d", msg.Type)
	}
	if msg.Peer == nil {
		t.Fatalf("expected per-peer header")
	}
	if !msg.Peer.IsPostPolicy() {
		t.Fatalf("expected post-policy flag set")
	}
	if msg.Peer.PeerAS != 65010 {
		t.Fatalf("unexpected peer AS: %d", msg.Peer.PeerAS)
	}
	if len(msg.Body) != 2 {
		t.Fatalf("unexpected body length: %d", len(msg.Body))
	}
}

func TestDecode_Initiation(t *testing.T) {
	body := []byte{1, 2, 3}
	raw := append(buildCommonHeader(MsgTypeInitiation, len(body)), body...)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Peer != nil {
		t.Fatalf("expected no per-peer header for initiation")
	}
}

func buildOpenMessage(as4 bool, families []MPFamily) []byte {
	var caps []byte
	if as4 {
		caps = append(caps, CapCodeAS4, 4, 0, 1, 0xFF, 0xFF) // ASN placeholder
	}
	for _, f := range families {
		val := append(u16b(int(f.AFI)), 0, f.SAFI)
		caps = append(caps, CapCodeMultiprotocol, uint8(len(val)))
		caps = append(caps, val...)
	}
	optParam := append([]byte{OptParamTypeCapability, uint8(len(caps))}, caps...)

	body := []byte{4}               // version
	body = append(body, 0, 100)     // my AS
	body = append(body, 0, 180)     // hold time
	body = append(body, 1, 1, 1, 1) // bgp id
	body = append(body, uint8(len(optParam)))
	body = append(body, optParam...)

	msg := make([]byte, 0, 19+len(body))
	msg = append(msg, make([]byte, 16)...)
	msg = append(msg, u16b(19+len(body))...)
	msg = append(msg, 1) // OPEN type
	msg = append(msg, body...)
	return msg
}

func TestParseOpenCapabilities(t *testing.T) {
	msg := buildOpenMessage(true, []MPFamily{{AFI: 1, SAFI: 1}, {AFI: 2, SAFI: 1}})
	caps, err := ParseOpenCapabilities(msg)
	if err != nil {
		t.Fatalf("ParseOpenCapabilities: %v", err)
	}
	if !caps.AS4 {
		t.Fatalf("expected AS4 capability")
	}
	if !caps.Supports(1, 1) || !caps.Supports(2, 1) {
		t.Fatalf("expected both families supported: %+v", caps.MPFamilies)
	}
	if caps.Supports(2, 2) {
		t.Fatalf("unexpected family reported supported")
	}
}

func TestParsePeerUp(t *testing.T) {
	sentOpen := buildOpenMessage(true, []MPFamily{{AFI: 2, SAFI: 1}})
	recvOpen := buildOpenMessage(true, []MPFamily{{AFI: 2, SAFI: 1}})

	body := make([]byte, 0, 20+len(sentOpen)+len(recvOpen))
	body = append(body, make([]byte, 16)...) // local address
	body = append(body, u16b(179)...)         // local port
	body = append(body, u16b(54321)...)       // remote port
	body = append(body, sentOpen...)
	body = append(body, recvOpen...)

	up, err := ParsePeerUp(body)
	if err != nil {
		t.Fatalf("ParsePeerUp: %v", err)
	}
	if up.LocalPort != 179 || up.RemotePort != 54321 {
		t.Fatalf("unexpected ports: %+v", up)
	}
	if !up.AS4() {
		t.Fatalf("expected AS4 negotiated")
	}
	if !up.SentOpenCaps.Supports(2, 1) {
		t.Fatalf("expected ipv6 unicast family negotiated")
	}
}

func TestParsePeerDown(t *testing.T) {
	down, err := ParsePeerDown([]byte{3})
	if err != nil {
		t.Fatalf("ParsePeerDown: %v", err)
	}
	if down.Reason != PeerDownRemoteNotification {
		t.Fatalf("unexpected reason: %d", down.Reason)
	}
}
