package normalize

import "net/netip"

// addrFrom16 builds a netip.Addr from its canonical 16-byte form,
// unmapping IPv4-mapped-IPv6 addresses back to 4-byte form so
// round-tripped RouterKeys compare equal to their originals.
func addrFrom16(b [16]byte) netip.Addr {
	return netip.AddrFrom16(b).Unmap()
}
