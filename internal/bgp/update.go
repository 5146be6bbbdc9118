package bgp

import (
	"encoding/binary"
	"fmt"
)

// ParseUpdate decodes a BGP UPDATE message body (the portion after the
// 19-byte BGP header) into one RouteEvent per NLRI entry: withdrawals
// first, then announcements carried either in the legacy NLRI field or
// in MP_REACH_NLRI/MP_UNREACH_NLRI. as4 reflects whether this session
// negotiated 4-octet AS numbers (RFC 6793), which governs how AS_PATH
// and AGGREGATOR are read.
func ParseUpdate(data []byte, as4 bool) ([]RouteEvent, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("bgp: update too short (%d bytes)", len(data))
	}

	offset := 0
	withdrawnLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+withdrawnLen > len(data) {
		return nil, fmt.Errorf("bgp: withdrawn routes length %d exceeds message", withdrawnLen)
	}
	withdrawn, err := parsePrefixes(data[offset:offset+withdrawnLen], AFIIPv4)
	if err != nil {
		return nil, fmt.Errorf("bgp: withdrawn routes: %w", err)
	}
	offset += withdrawnLen

	if offset+2 > len(data) {
		return nil, fmt.Errorf("bgp: update truncated before path attribute length")
	}
	attrLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+attrLen > len(data) {
		return nil, fmt.Errorf("bgp: path attribute length %d exceeds message", attrLen)
	}
	attrData := data[offset : offset+attrLen]
	offset += attrLen

	attrs, err := ParsePathAttributes(attrData, as4)
	if err != nil {
		return nil, fmt.Errorf("bgp: path attributes: %w", err)
	}

	nlri, err := parsePrefixes(data[offset:], AFIIPv4)
	if err != nil {
		return nil, fmt.Errorf("bgp: nlri: %w", err)
	}

	var events []RouteEvent

	for _, p := range withdrawn {
		events = append(events, RouteEvent{Prefix: p, Announced: false})
	}
	if attrs.HasMPUnreach {
		for _, p := range attrs.MPUnreachNLRI {
			events = append(events, RouteEvent{Prefix: p, Announced: false})
		}
	}

	for _, p := range nlri {
		events = append(events, RouteEvent{Prefix: p, Announced: true, Attributes: attrs})
	}
	if attrs.HasMPReach {
		for _, p := range attrs.MPReachNLRI {
			announced := RouteEvent{Prefix: p, Announced: true, Attributes: attrs}
			if attrs.HasMPReachNH {
				announced.Attributes.NextHop = attrs.MPReachNH
				announced.Attributes.HasNextHop = true
			}
			events = append(events, announced)
		}
		if attrs.MPReachSAFIDropped {
			events = append(events, RouteEvent{Announced: true, Attributes: attrs, SAFIDropped: true})
		}
	}
	if attrs.HasMPUnreach && attrs.MPUnreachSAFIDropped {
		events = append(events, RouteEvent{Announced: false, Attributes: attrs, SAFIDropped: true})
	}

	return events, nil
}

// bgpMessageLength reads the 2-byte length field of a BGP message
// header (marker is not validated here; the framing layer already
// trusts the BMP-embedded boundary).
func bgpMessageLength(header []byte) (uint16, error) {
	if len(header) < HeaderSize {
		return 0, fmt.Errorf("bgp: header too short (%d bytes)", len(header))
	}
	return binary.BigEndian.Uint16(header[16:18]), nil
}

// MessageType returns the BGP message type code from a full message
// (header included).
func MessageType(msg []byte) (uint8, error) {
	if len(msg) < HeaderSize {
		return 0, fmt.Errorf("bgp: message too short (%d bytes)", len(msg))
	}
	return msg[18], nil
}

// Body strips the 19-byte header, returning the message's payload.
func Body(msg []byte) ([]byte, error) {
	if len(msg) < HeaderSize {
		return nil, fmt.Errorf("bgp: message too short (%d bytes)", len(msg))
	}
	return msg[HeaderSize:], nil
}
