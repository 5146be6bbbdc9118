// Package collector holds the router → peer → announced-prefix index
// that backs deduplication, synthetic-withdraw generation and crash
// recovery (spec.md §3, §4.3).
package collector

import (
	"net/netip"

	"github.com/route-beacon/risotto/internal/bgp"
	"github.com/route-beacon/risotto/internal/bmp"
)

// RouterKey identifies a router by the remote endpoint of its accepted
// BMP connection.
type RouterKey struct {
	Addr netip.Addr
	Port uint16
}

// PeerKey distinguishes a BGP peer or RIB view on a router: the
// per-peer header tuple (peerDistinguisher, peerType, peerFlags,
// peerAddress, peerAsn, peerBgpId), per spec.md §3.
type PeerKey struct {
	Distinguisher uint64
	Type          uint8
	Flags         uint8
	Address       [16]byte
	ASN           uint32
	BGPID         uint32
}

// NewPeerKey builds a PeerKey from a decoded BMP per-peer header.
func NewPeerKey(h bmp.PerPeerHeader) PeerKey {
	return PeerKey{
		Distinguisher: h.PeerDistinguisher,
		Type:          h.PeerType,
		Flags:         h.Flags,
		Address:       h.PeerAddress,
		ASN:           h.PeerAS,
		BGPID:         h.PeerBGPID,
	}
}

// PeerMeta carries a Peer's descriptive attributes, fixed at PEER UP.
type PeerMeta struct {
	IsPostPolicy bool
	IsAdjRibOut  bool
	IsIPv6       bool
	PeerUpNanos  int64
}

// PeerPrefix pairs a peer identity with one of its prefixes, returned
// by DrainRouter for synthetic-withdraw generation across an entire
// disconnected router.
type PeerPrefix struct {
	Peer   PeerKey
	Prefix bgp.Prefix
}
