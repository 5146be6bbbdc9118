// Package normalize converts decoded BMP/BGP events into the stable
// external record schema handed to the sink (spec.md §3, §4.4).
package normalize

import (
	"github.com/route-beacon/risotto/internal/bgp"
	"github.com/route-beacon/risotto/internal/collector"
)

// Update is one normalized route record: a single (router, peer, prefix)
// triple carrying the attribute set that applied at the time it was
// observed. One Update is produced per NLRI entry decoded from an
// UPDATE PDU, per spec.md §3/§4.4.
type Update struct {
	TimeReceivedNanos int64
	BMPTimestampNanos uint64
	Router            collector.RouterKey
	Peer              collector.PeerKey
	Prefix            bgp.Prefix
	Announced         bool
	Synthetic         bool
	Attributes        bgp.Attributes
}



// Key builds the sink partition key for an Update: router address,
// peer address, prefix address and prefix length concatenated, so that
// every update for the same route lands on the same broker partition
// and stays order-preserved (spec.md §4.4).
func (u Update) Key() []byte {
	k := make([]byte, 0, 16+16+16+1)
	routerAddr := u.Router.Addr.As16()
	k = append(k, routerAddr[:]...)
	k = append(k, u.Peer.Address[:]...)
	k = append(k, u.Prefix.Address[:]...)
	k = append(k, u.Prefix.Length)
	return k
}
