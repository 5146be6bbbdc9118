package bgp

import (
	"encoding/binary"
	"net"
	"testing"
)

// buildBGPUpdate assembles a full BGP UPDATE message (header included)
// from raw withdrawn-routes, path-attribute and NLRI sections.
func buildBGPUpdate(withdrawn, attrs, nlri []byte) []byte {
	body := make([]byte, 0, 4+len(withdrawn)+len(attrs)+len(nlri))
	body = append(body, u16(len(withdrawn))...)
	body = append(body, withdrawn...)
	body = append(body, u16(len(attrs))...)
	body = append(body, attrs...)
	body = append(body, nlri...)

	msg := make([]byte, 0, HeaderSize+len(body))
	msg = append(msg, make([]byte, 16)...) // marker, unused by the decoder
	msg = append(msg, u16(HeaderSize+len(body))...)
	msg = append(msg, MsgTypeUpdate)
	msg = append(msg, body...)
	return msg
}

func u16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// buildPathAttr assembles a single path attribute, using the extended
// length form when the value doesn't fit in one byte.
func buildPathAttr(flags, typeCode uint8, value []byte) []byte {
	out := []byte{}
	if len(value) > 255 {
		flags |= AttrFlagExtended
		out = append(out, flags, typeCode)
		out = append(out, u16(len(value))...)
	} else {
		out = append(out, flags, typeCode, uint8(len(value)))
	}
	out = append(out, value...)
	return out
}

func buildNLRI(prefix string, length int) []byte {
	ip := net.ParseIP(prefix).To4()
	byteLen := (length + 7) / 8
	out := []byte{uint8(length)}
	out = append(out, ip[:byteLen]...)
	return out
}

func prefixToString(p Prefix) string {
	if p.AFI == AFIIPv4 {
		return net.IP(p.Address[:4]).String()
	}
	return net.IP(p.Address[:]).String()
}

func TestParseUpdate_SimpleAnnounce(t *testing.T) {
	attrs := []byte{}
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeOrigin, []byte{0})...)
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeASPath, []byte{
		ASPathSegmentSequence, 2, 0, 100, 0, 200,
	})...)
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeNextHop, []byte{10, 0, 0, 1})...)

	nlri := buildNLRI("192.0.2.0", 24)
	msg := buildBGPUpdate(nil, attrs, nlri)

	body, err := Body(msg)
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if !ev.Announced {
		t.Fatalf("expected announced event")
	}
	if prefixToString(ev.Prefix) != "192.0.2.0" || ev.Prefix.Length != 24 {
		t.Fatalf("unexpected prefix: %+v", ev.Prefix)
	}
	if ev.Attributes.Origin != "IGP" {
		t.Fatalf("expected IGP origin, got %q", ev.Attributes.Origin)
	}
	if len(ev.Attributes.ASPath) != 2 || ev.Attributes.ASPath[0] != 100 || ev.Attributes.ASPath[1] != 200 {
		t.Fatalf("unexpected as path: %v", ev.Attributes.ASPath)
	}
	if !ev.Attributes.HasNextHop {
		t.Fatalf("expected next hop present")
	}
}

func TestParseUpdate_Withdraw(t *testing.T) {
	withdrawn := buildNLRI("198.51.100.0", 24)
	msg := buildBGPUpdate(withdrawn, nil, nil)

	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Announced {
		t.Fatalf("expected withdrawal")
	}
	if prefixToString(events[0].Prefix) != "198.51.100.0" {
		t.Fatalf("unexpected prefix: %+v", events[0].Prefix)
	}
}

func TestParseUpdate_MultipleNLRI(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeOrigin, []byte{0})...)

	var nlri []byte
	nlri = append(nlri, buildNLRI("10.0.0.0", 8)...)
	nlri = append(nlri, buildNLRI("172.16.0.0", 16)...)

	msg := buildBGPUpdate(nil, attrs, nlri)
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Attributes.Origin != "IGP" {
			t.Fatalf("expected shared attrs on every nlri entry")
		}
	}
}

func TestParseUpdate_ASPathSet(t *testing.T) {
	attrs := buildPathAttr(AttrFlagTransitive, AttrTypeASPath, []byte{
		ASPathSegmentSet, 3, 0, 1, 0, 2, 0, 3,
	})
	msg := buildBGPUpdate(nil, attrs, buildNLRI("203.0.113.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	want := []uint32{1, 2, 3}
	got := events[0].Attributes.ASPath
	if len(got) != len(want) {
		t.Fatalf("unexpected as_set flattening: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected as_set flattening: %v", got)
		}
	}
}

func TestParseUpdate_Communities(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeCommunity, []byte{
		0, 100, 0, 1,
		0, 100, 0, 2,
	})...)
	attrs = append(attrs, buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeLargeCommunity, []byte{
		0, 0, 0, 100,
		0, 0, 0, 1,
		0, 0, 0, 2,
	})...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 32))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}

	comms := events[0].Attributes.Communities
	if len(comms) != 2 || comms[0].ASN != 100 || comms[0].Value != 1 {
		t.Fatalf("unexpected communities: %+v", comms)
	}

	large := events[0].Attributes.LargeCommunities
	if len(large) != 1 || large[0].GlobalAdmin != 100 || large[0].LocalData1 != 1 || large[0].LocalData2 != 2 {
		t.Fatalf("unexpected large communities: %+v", large)
	}
}

func TestParseUpdate_MPReachIPv6(t *testing.T) {
	nh := net.ParseIP("2001:db8::1").To16()
	prefix := net.ParseIP("2001:db8:1::").To16()

	mpReach := []byte{}
	mpReach = append(mpReach, u16(int(AFIIPv6))...)
	mpReach = append(mpReach, SAFIUnicast)
	mpReach = append(mpReach, 16)
	mpReach = append(mpReach, nh...)
	mpReach = append(mpReach, 0) // SNPA count
	mpReach = append(mpReach, 48, prefix[0], prefix[1], prefix[2], prefix[3], prefix[4], prefix[5])

	attrs := buildPathAttr(AttrFlagOptional, AttrTypeMPReachNLRI, mpReach)
	msg := buildBGPUpdate(nil, attrs, nil)
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].Announced {
		t.Fatalf("expected announce")
	}
	if events[0].Prefix.AFI != AFIIPv6 || events[0].Prefix.Length != 48 {
		t.Fatalf("unexpected prefix: %+v", events[0].Prefix)
	}
	if !events[0].Attributes.HasNextHop {
		t.Fatalf("expected mp_reach next hop propagated")
	}
}

func TestParseUpdate_MPUnreachIPv6(t *testing.T) {
	prefix := net.ParseIP("2001:db8:2::").To16()
	mpUnreach := []byte{}
	mpUnreach = append(mpUnreach, u16(int(AFIIPv6))...)
	mpUnreach = append(mpUnreach, SAFIUnicast)
	mpUnreach = append(mpUnreach, 48, prefix[0], prefix[1], prefix[2], prefix[3], prefix[4], prefix[5])

	attrs := buildPathAttr(AttrFlagOptional, AttrTypeMPUnreachNLRI, mpUnreach)
	msg := buildBGPUpdate(nil, attrs, nil)
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events) != 1 || events[0].Announced {
		t.Fatalf("expected single withdrawal, got %+v", events)
	}
}

func TestParseUpdate_MEDAndLocalPref(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagOptional, AttrTypeMED, u32(42))...)
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeLocalPref, u32(150))...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if events[0].Attributes.MultiExitDisc == nil || *events[0].Attributes.MultiExitDisc != 42 {
		t.Fatalf("unexpected med: %+v", events[0].Attributes.MultiExitDisc)
	}
	if events[0].Attributes.LocalPref == nil || *events[0].Attributes.LocalPref != 150 {
		t.Fatalf("unexpected local pref: %+v", events[0].Attributes.LocalPref)
	}
}

func TestParseUpdate_AtomicAggregateAndAggregator(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeAtomicAggr, nil)...)
	agg := append(u16(65000), 192, 0, 2, 1)
	attrs = append(attrs, buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeAggregator, agg)...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !events[0].Attributes.AtomicAggregate {
		t.Fatalf("expected atomic aggregate set")
	}
	if events[0].Attributes.Aggregator == nil || events[0].Attributes.Aggregator.ASN != 65000 {
		t.Fatalf("unexpected aggregator: %+v", events[0].Attributes.Aggregator)
	}
}

func TestParseUpdate_AS4PathMerge(t *testing.T) {
	var attrs []byte
	// 2-octet AS_PATH carries AS_TRANS (23456) as a placeholder for the real 4-octet ASN.
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeASPath, []byte{
		ASPathSegmentSequence, 2, 0, 100, 91, 160, // 100, 23456
	})...)
	attrs = append(attrs, buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeAS4Path, append([]byte{
		ASPathSegmentSequence, 1,
	}, u32(400000)...))...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	got := events[0].Attributes.ASPath
	if len(got) != 2 || got[0] != 100 || got[1] != 400000 {
		t.Fatalf("unexpected merged as_path: %v", got)
	}
}

func TestParseUpdate_OriginatorIDAndClusterList(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagOptional, AttrTypeOriginatorID, []byte{10, 0, 0, 5})...)
	attrs = append(attrs, buildPathAttr(AttrFlagOptional, AttrTypeClusterList, append(u32(1), u32(2)...))...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !events[0].Attributes.HasOriginatorID || events[0].Attributes.OriginatorID != binary.BigEndian.Uint32([]byte{10, 0, 0, 5}) {
		t.Fatalf("unexpected originator id: %+v", events[0].Attributes)
	}
	if len(events[0].Attributes.ClusterList) != 2 {
		t.Fatalf("unexpected cluster list: %v", events[0].Attributes.ClusterList)
	}
}

func TestParseUpdate_OnlyToCustomer(t *testing.T) {
	attrs := buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeOnlyToCustomer, u32(65010))
	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if events[0].Attributes.OnlyToCustomer == nil || *events[0].Attributes.OnlyToCustomer != 65010 {
		t.Fatalf("unexpected otc: %+v", events[0].Attributes.OnlyToCustomer)
	}
}

func TestParseUpdate_UnknownAttributeSkipped(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, buildPathAttr(AttrFlagOptional|AttrFlagTransitive, 99, []byte{1, 2, 3, 4})...)
	attrs = append(attrs, buildPathAttr(AttrFlagTransitive, AttrTypeOrigin, []byte{2})...)

	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if events[0].Attributes.Origin != "INCOMPLETE" {
		t.Fatalf("unexpected origin after skipping unknown attr: %q", events[0].Attributes.Origin)
	}
}

func TestParseUpdate_TruncatedAttributeErrors(t *testing.T) {
	attrs := []byte{AttrFlagTransitive, AttrTypeOrigin, 4, 0} // declares 4 bytes, supplies 1
	msg := buildBGPUpdate(nil, attrs, nil)
	body, _ := Body(msg)
	if _, err := ParseUpdate(body, false); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestParseUpdate_ExtendedLengthAttribute(t *testing.T) {
	value := make([]byte, 300)
	for i := range value {
		value[i] = byte(i % 8)
	}
	// Build as a raw extended-length community-style attribute; content irrelevant, only framing matters.
	attrs := buildPathAttr(AttrFlagOptional|AttrFlagTransitive, AttrTypeExtCommunity, value)
	msg := buildBGPUpdate(nil, attrs, buildNLRI("192.0.2.0", 24))
	body, _ := Body(msg)
	events, err := ParseUpdate(body, false)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if len(events[0].Attributes.ExtCommunities) != len(value)/8 {
		t.Fatalf("unexpected ext community count: %d", len(events[0].Attributes.ExtCommunities))
	}
}

func TestMessageType(t *testing.T) {
	msg := buildBGPUpdate(nil, nil, nil)
	typ, err := MessageType(msg)
	if err != nil {
		t.Fatalf("MessageType: %v", err)
	}
	if typ != MsgTypeUpdate {
		t.Fatalf("expected update type, got %d", typ)
	}
}
