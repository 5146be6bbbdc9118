package bmp

import (
	"encoding/binary"
	"fmt"
)

// PeerUp is the decoded body of a PEER UP message (the per-peer header
// has already been stripped by Decode).
type PeerUp struct {
	LocalAddress [16]byte
	LocalPort    uint16
	RemotePort   uint16
	SentOpenCaps OpenCapabilities
	RecvOpenCaps OpenCapabilities
}

// AS4 reports whether 4-octet AS numbers were negotiated for this
// session: both the monitored router and its peer must have advertised
// the capability for AS_PATH to actually travel in 4-octet form
// (RFC 6793).
func (p PeerUp) AS4() bool {
	return p.SentOpenCaps.AS4 && p.RecvOpenCaps.AS4
}

// ParsePeerUp decodes a PEER UP message body: local address, local and
// remote TCP ports, then the full Sent and Received OPEN messages.
func ParsePeerUp(body []byte) (PeerUp, error) {
	if len(body) < 20 {
		return PeerUp{}, fmt.Errorf("bmp: peer up too short (%d bytes)", len(body))
	}

	var up PeerUp
	copy(up.LocalAddress[:], body[0:16])
	up.LocalPort = binary.BigEndian.Uint16(body[16:18])
	up.RemotePort = binary.BigEndian.Uint16(body[18:20])

	offset := 20
	sentLen, err := bgpMessageLen(body[offset:])
	if err != nil {
		return PeerUp{}, fmt.Errorf("bmp: peer up sent open: %w", err)
	}
	if offset+sentLen > len(body) {
		return PeerUp{}, fmt.Errorf("bmp: peer up sent open exceeds message")
	}
	sentOpen := body[offset : offset+sentLen]
	offset += sentLen

	recvLen, err := bgpMessageLen(body[offset:])
	if err != nil {
		return PeerUp{}, fmt.Errorf("bmp: peer up received open: %w", err)
	}
	if offset+recvLen > len(body) {
		return PeerUp{}, fmt.Errorf("bmp: peer up received open exceeds message")
	}
	recvOpen := body[offset : offset+recvLen]

	sentCaps, err := ParseOpenCapabilities(sentOpen)
	if err != nil {
		return PeerUp{}, fmt.Errorf("bmp: peer up sent open capabilities: %w", err)
	}
	recvCaps, err := ParseOpenCapabilities(recvOpen)
	if err != nil {
		return PeerUp{}, fmt.Errorf("bmp: peer up received open capabilities: %w", err)
	}

	up.SentOpenCaps = sentCaps
	up.RecvOpenCaps = recvCaps
	return up, nil
}
