package bmp

import (
	"encoding/binary"
	"fmt"
)

// ParsePerPeerHeader decodes the fixed 42-byte per-peer header that
// precedes the payload of every BMP message type except Initiation
// and Termination.
func ParsePerPeerHeader(data []byte) (PerPeerHeader, error) {
	if len(data) < PerPeerHeaderSize {
		return PerPeerHeader{}, fmt.Errorf("bmp: per-peer header too short (%d bytes)", len(data))
	}

	var h PerPeerHeader
	h.PeerType = data[0]
	h.Flags = data[1]
	h.PeerDistinguisher = binary.BigEndian.Uint64(data[2:10])
	copy(h.PeerAddress[:], data[10:26])
	h.IsIPv6 = h.Flags&PeerFlagIPv6 != 0
	h.PeerAS = binary.BigEndian.Uint32(data[26:30])
	h.PeerBGPID = binary.BigEndian.Uint32(data[30:34])
	h.TimestampSec = binary.BigEndian.Uint32(data[34:38])
	h.TimestampMicro = binary.BigEndian.Uint32(data[38:42])
	return h, nil
}

// Decode parses one complete raw BMP message (common header included,
// as produced by Framer.Feed) into a Message. A length below 6 or a
// version other than 3 is caught by the framer before this is called;
// Decode additionally validates the per-peer header is present where
// the message type requires one.
func Decode(raw []byte) (Message, error) {
	if len(raw) < CommonHeaderSize {
		return Message{}, fmt.Errorf("bmp: message too short for common header (%d bytes)", len(raw))
	}
	if raw[0] != Version {
		return Message{}, fmt.Errorf("bmp: unsupported protocol version %d", raw[0])
	}

	msgType := raw[5]
	body := raw[CommonHeaderSize:]

	msg := Message{Type: msgType}
	switch msgType {
	case MsgTypeInitiation, MsgTypeTermination:
		msg.Body = body
		return msg, nil
	}

	if len(body) < PerPeerHeaderSize {
		return Message{}, fmt.Errorf("bmp: message type %d too short for per-peer header (%d bytes)", msgType, len(body))
	}
	peer, err := ParsePerPeerHeader(body[:PerPeerHeaderSize])
	if err != nil {
		return Message{}, err
	}
	msg.Peer = &peer
	msg.Body = body[PerPeerHeaderSize:]
	return msg, nil
}

// bgpMessageLen reads the 2-byte length field of an embedded BGP
// message header (marker is not validated; BMP already frames the
// message boundary for us elsewhere, this is only used to split the
// Sent/Received OPEN messages inside a PEER UP body).
func bgpMessageLen(data []byte) (int, error) {
	if len(data) < 19 {
		return 0, fmt.Errorf("bgp message too short (%d bytes)", len(data))
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < 19 {
		return 0, fmt.Errorf("invalid bgp message length %d", length)
	}
	return length, nil
}
