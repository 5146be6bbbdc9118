package normalize

import (
	"github.com/route-beacon/risotto/internal/bgp"
	"github.com/route-beacon/risotto/internal/collector"
)

// FromRouteEvent builds a normalized Update from one decoded BGP route
// event plus the BMP/session context it arrived under. synthetic marks
// records generated by a C3 drain path (PEER DOWN, implicit reset, or
// connection loss) rather than directly decoded from an UPDATE PDU,
// per spec.md §4.4.
func FromRouteEvent(router collector.RouterKey, peer collector.PeerKey, recvNs int64, bmpTsNs uint64, ev bgp.RouteEvent, synthetic bool) Update {
	return Update{
		TimeReceivedNanos: recvNs,
		BMPTimestampNanos: bmpTsNs,
		Router:            router,
		Peer:              peer,
		Prefix:            ev.Prefix,
		Announced:         ev.Announced,
		Synthetic:         synthetic,
		Attributes:        ev.Attributes,
	}
}

// SyntheticWithdraw builds a normalized withdraw record for a prefix
// drained out of a peer's announced set (PEER DOWN, implicit reset, or
// router disconnect), per invariant I4. It carries no path attributes:
// a withdrawal never did.
func SyntheticWithdraw(router collector.RouterKey, peer collector.PeerKey, prefix bgp.Prefix, recvNs int64) Update {
	return Update{
		TimeReceivedNanos: recvNs,
		Router:            router,
		Peer:              peer,
		Prefix:            prefix,
		Announced:         false,
		Synthetic:         true,
	}
}
