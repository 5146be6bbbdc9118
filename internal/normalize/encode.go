package normalize

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/risotto/internal/bgp"
)

// recordVersion is the schema version of the encoded Update value.
// Bumped whenever a field is added, removed or reordered.
const recordVersion uint8 = 1

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// Multi-byte integers in the sink value schema are little-endian,
// per spec.md §6 ("all integers are little-endian unsigned") — unlike
// the wire protocol itself (BMP/BGP are network-byte-order) and unlike
// the collector snapshot format, which stays big-endian since §4.5
// only requires it to round-trip.

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// Encode serializes an Update to the fixed binary value schema handed
// to the sink (spec.md §4.4). Field order follows the attribute list
// in spec.md §3 exactly.
func Encode(u Update) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)

	putU64(&buf, uint64(u.TimeReceivedNanos))
	putU64(&buf, u.BMPTimestampNanos)

	routerAddr := u.Router.Addr.As16()
	buf.Write(routerAddr[:])
	putU16(&buf, u.Router.Port)

	putU64(&buf, u.Peer.Distinguisher)
	buf.WriteByte(u.Peer.Type)
	buf.WriteByte(u.Peer.Flags)
	buf.Write(u.Peer.Address[:])
	putU32(&buf, u.Peer.ASN)
	putU32(&buf, u.Peer.BGPID)

	putU16(&buf, u.Prefix.AFI)
	buf.WriteByte(u.Prefix.Length)
	buf.Write(u.Prefix.Address[:])

	putBool(&buf, u.Announced)
	putBool(&buf, u.Synthetic)

	a := u.Attributes
	putString(&buf, a.Origin)

	putU32(&buf, uint32(len(a.ASPath)))
	for _, asn := range a.ASPath {
		putU32(&buf, asn)
	}

	putBool(&buf, a.HasNextHop)
	buf.Write(a.NextHop[:])

	putBool(&buf, a.MultiExitDisc != nil)
	if a.MultiExitDisc != nil {
		putU32(&buf, *a.MultiExitDisc)
	}

	putBool(&buf, a.LocalPref != nil)
	if a.LocalPref != nil {
		putU32(&buf, *a.LocalPref)
	}

	putBool(&buf, a.AtomicAggregate)

	putBool(&buf, a.Aggregator != nil)
	if a.Aggregator != nil {
		putU32(&buf, a.Aggregator.ASN)
		putU32(&buf, a.Aggregator.BGPID)
	}

	putBool(&buf, a.OnlyToCustomer != nil)
	if a.OnlyToCustomer != nil {
		putU32(&buf, *a.OnlyToCustomer)
	}

	putBool(&buf, a.HasOriginatorID)
	putU32(&buf, a.OriginatorID)

	putU32(&buf, uint32(len(a.ClusterList)))
	for _, id := range a.ClusterList {
		putU32(&buf, id)
	}

	putU32(&buf, uint32(len(a.Communities)))
	for _, c := range a.Communities {
		putU32(&buf, uint32(c.ASN))
		putU16(&buf, c.Value)
	}

	putU32(&buf, uint32(len(a.ExtCommunities)))
	for _, c := range a.ExtCommunities {
		buf.WriteByte(c.TypeHigh)
		buf.WriteByte(c.TypeLow)
		buf.Write(c.Value[:])
	}

	putU32(&buf, uint32(len(a.LargeCommunities)))
	for _, c := range a.LargeCommunities {
		putU32(&buf, c.GlobalAdmin)
		putU32(&buf, c.LocalData1)
		putU32(&buf, c.LocalData2)
	}

	putBool(&buf, a.HasMPReach)
	putU16(&buf, a.MPReachAFI)
	buf.WriteByte(a.MPReachSAFI)

	putBool(&buf, a.HasMPUnreach)
	putU16(&buf, a.MPUnreachAFI)
	buf.WriteByte(a.MPUnreachSAFI)

	return buf.Bytes()
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) need(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, fmt.Errorf("normalize: record truncated (need %d bytes at offset %d)", n, r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) byteVal() (byte, error) {
	b, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) boolVal() (bool, error) {
	b, err := r.byteVal()
	return b != 0, err
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.need(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a value produced by Encode. Used by tests for
// round-trip verification; the broker sink itself never needs to
// decode what it produces.
func Decode(data []byte) (Update, error) {
	r := &byteReader{data: data}

	version, err := r.byteVal()
	if err != nil {
		return Update{}, err
	}
	if version != recordVersion {
		return Update{}, fmt.Errorf("normalize: unsupported record version %d", version)
	}

	var u Update

	recvNs, err := r.u64()
	if err != nil {
		return Update{}, err
	}
	u.TimeReceivedNanos = int64(recvNs)

	u.BMPTimestampNanos, err = r.u64()
	if err != nil {
		return Update{}, err
	}

	routerAddr, err := r.need(16)
	if err != nil {
		return Update{}, err
	}
	var addr16 [16]byte
	copy(addr16[:], routerAddr)
	u.Router.Addr = addrFrom16(addr16)

	u.Router.Port, err = r.u16()
	if err != nil {
		return Update{}, err
	}

	u.Peer.Distinguisher, err = r.u64()
	if err != nil {
		return Update{}, err
	}
	u.Peer.Type, err = r.byteVal()
	if err != nil {
		return Update{}, err
	}
	u.Peer.Flags, err = r.byteVal()
	if err != nil {
		return Update{}, err
	}
	peerAddr, err := r.need(16)
	if err != nil {
		return Update{}, err
	}
	copy(u.Peer.Address[:], peerAddr)
	u.Peer.ASN, err = r.u32()
	if err != nil {
		return Update{}, err
	}
	u.Peer.BGPID, err = r.u32()
	if err != nil {
		return Update{}, err
	}

	u.Prefix.AFI, err = r.u16()
	if err != nil {
		return Update{}, err
	}
	u.Prefix.Length, err = r.byteVal()
	if err != nil {
		return Update{}, err
	}
	prefixAddr, err := r.need(16)
	if err != nil {
		return Update{}, err
	}
	copy(u.Prefix.Address[:], prefixAddr)

	u.Announced, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}
	u.Synthetic, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}

	a := &u.Attributes
	a.Origin, err = r.str()
	if err != nil {
		return Update{}, err
	}

	asPathLen, err := r.u32()
	if err != nil {
		return Update{}, err
	}
	a.ASPath = make([]uint32, 0, asPathLen)
	for i := uint32(0); i < asPathLen; i++ {
		asn, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.ASPath = append(a.ASPath, asn)
	}

	a.HasNextHop, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}
	nh, err := r.need(16)
	if err != nil {
		return Update{}, err
	}
	copy(a.NextHop[:], nh)

	hasMED, err := r.boolVal()
	if err != nil {
		return Update{}, err
	}
	if hasMED {
		v, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.MultiExitDisc = &v
	}

	hasLP, err := r.boolVal()
	if err != nil {
		return Update{}, err
	}
	if hasLP {
		v, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.LocalPref = &v
	}

	a.AtomicAggregate, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}

	hasAgg, err := r.boolVal()
	if err != nil {
		return Update{}, err
	}
	if hasAgg {
		asn, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		bgpid, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.Aggregator = &bgp.Aggregator{ASN: asn, BGPID: bgpid}
	}

	hasOTC, err := r.boolVal()
	if err != nil {
		return Update{}, err
	}
	if hasOTC {
		v, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.OnlyToCustomer = &v
	}

	a.HasOriginatorID, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}
	a.OriginatorID, err = r.u32()
	if err != nil {
		return Update{}, err
	}

	clusterLen, err := r.u32()
	if err != nil {
		return Update{}, err
	}
	a.ClusterList = make([]uint32, 0, clusterLen)
	for i := uint32(0); i < clusterLen; i++ {
		id, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.ClusterList = append(a.ClusterList, id)
	}

	commLen, err := r.u32()
	if err != nil {
		return Update{}, err
	}
	a.Communities = make([]bgp.Community, 0, commLen)
	for i := uint32(0); i < commLen; i++ {
		asn, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		val, err := r.u16()
		if err != nil {
			return Update{}, err
		}
		a.Communities = append(a.Communities, bgp.Community{ASN: uint16(asn), Value: val})
	}

	extLen, err := r.u32()
	if err != nil {
		return Update{}, err
	}
	a.ExtCommunities = make([]bgp.ExtCommunity, 0, extLen)
	for i := uint32(0); i < extLen; i++ {
		th, err := r.byteVal()
		if err != nil {
			return Update{}, err
		}
		tl, err := r.byteVal()
		if err != nil {
			return Update{}, err
		}
		val, err := r.need(6)
		if err != nil {
			return Update{}, err
		}
		var v [6]byte
		copy(v[:], val)
		a.ExtCommunities = append(a.ExtCommunities, bgp.ExtCommunity{TypeHigh: th, TypeLow: tl, Value: v})
	}

	largeLen, err := r.u32()
	if err != nil {
		return Update{}, err
	}
	a.LargeCommunities = make([]bgp.LargeCommunity, 0, largeLen)
	for i := uint32(0); i < largeLen; i++ {
		ga, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		l1, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		l2, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		a.LargeCommunities = append(a.LargeCommunities, bgp.LargeCommunity{GlobalAdmin: ga, LocalData1: l1, LocalData2: l2})
	}

	a.HasMPReach, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}
	a.MPReachAFI, err = r.u16()
	if err != nil {
		return Update{}, err
	}
	a.MPReachSAFI, err = r.byteVal()
	if err != nil {
		return Update{}, err
	}

	a.HasMPUnreach, err = r.boolVal()
	if err != nil {
		return Update{}, err
	}
	a.MPUnreachAFI, err = r.u16()
	if err != nil {
		return Update{}, err
	}
	a.MPUnreachSAFI, err = r.byteVal()
	if err != nil {
		return Update{}, err
	}

	return u, nil
}
