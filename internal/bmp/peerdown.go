package bmp

import "fmt"

// PeerDown is the decoded body of a PEER DOWN message (the per-peer
// header has already been stripped by Decode). All reason codes are
// treated identically downstream: the peer is drained regardless of
// why it went down, per spec.md §4.2.
type PeerDown struct {
	Reason uint8
}

// ParsePeerDown decodes a PEER DOWN message body.
func ParsePeerDown(body []byte) (PeerDown, error) {
	if len(body) < 1 {
		return PeerDown{}, fmt.Errorf("bmp: peer down too short (%d bytes)", len(body))
	}
	return PeerDown{Reason: body[0]}, nil
}
