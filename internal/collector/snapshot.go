package collector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/route-beacon/risotto/internal/bgp"
)

// Binary snapshot format (spec.md §4.5):
//
//	magic(4B) version(u16) routerCount(u32)
//	router* {
//	    routerAddr(16B) routerPort(u16) peerCount(u32)
//	    peer* {
//	        distinguisher(u64) type(u8) flags(u8) address(16B) asn(u32) bgpid(u32)
//	        isPostPolicy(u8) isAdjRibOut(u8) isIpv6(u8) peerUpNanos(i64)
//	        prefixCount(u32)
//	        prefix* { afi(u16) length(u8) address(16B) }
//	    }
//	}
var snapshotMagic = [4]byte{'R', 'S', 'T', 'O'}

const snapshotVersion uint16 = 1

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// MarshalSnapshot serializes the entire index to the binary snapshot
// format. It read-locks for the duration of the copy only; encoding
// itself proceeds over the already-copied views.
func (x *Index) MarshalSnapshot() ([]byte, error) {
	views := x.Inspect()

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], snapshotVersion)
	buf.Write(u16[:])

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(views)))
	buf.Write(u32[:])

	for _, rv := range views {
		addr16 := rv.Key.Addr.As16()
		buf.Write(addr16[:])
		binary.BigEndian.PutUint16(u16[:], rv.Key.Port)
		buf.Write(u16[:])

		binary.BigEndian.PutUint32(u32[:], uint32(len(rv.Peers)))
		buf.Write(u32[:])

		for _, pv := range rv.Peers {
			var u64 [8]byte
			binary.BigEndian.PutUint64(u64[:], pv.Key.Distinguisher)
			buf.Write(u64[:])
			buf.WriteByte(pv.Key.Type)
			buf.WriteByte(pv.Key.Flags)
			buf.Write(pv.Key.Address[:])
			binary.BigEndian.PutUint32(u32[:], pv.Key.ASN)
			buf.Write(u32[:])
			binary.BigEndian.PutUint32(u32[:], pv.Key.BGPID)
			buf.Write(u32[:])

			buf.WriteByte(boolByte(pv.Meta.IsPostPolicy))
			buf.WriteByte(boolByte(pv.Meta.IsAdjRibOut))
			buf.WriteByte(boolByte(pv.Meta.IsIPv6))
			var i64 [8]byte
			binary.BigEndian.PutUint64(i64[:], uint64(pv.Meta.PeerUpNanos))
			buf.Write(i64[:])

			binary.BigEndian.PutUint32(u32[:], uint32(len(pv.Prefixes)))
			buf.Write(u32[:])
			for _, prefix := range pv.Prefixes {
				binary.BigEndian.PutUint16(u16[:], prefix.AFI)
				buf.Write(u16[:])
				buf.WriteByte(prefix.Length)
				buf.Write(prefix.Address[:])
			}
		}
	}

	return buf.Bytes(), nil
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) need(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, fmt.Errorf("collector: snapshot truncated (need %d bytes at offset %d)", n, r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *byteReader) byteVal() (byte, error) {
	b, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// UnmarshalSnapshot decodes a binary snapshot produced by
// MarshalSnapshot and replaces the index's contents with it. Called
// only at startup, before the BMP listener begins accepting
// connections (spec.md §4.5, §7).
func (x *Index) UnmarshalSnapshot(data []byte) error {
	r := &byteReader{data: data}

	magic, err := r.need(4)
	if err != nil {
		return fmt.Errorf("collector: reading snapshot magic: %w", err)
	}
	if !bytes.Equal(magic, snapshotMagic[:]) {
		return fmt.Errorf("collector: bad snapshot magic %x", magic)
	}

	version, err := r.u16()
	if err != nil {
		return fmt.Errorf("collector: reading snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("collector: unsupported snapshot version %d", version)
	}

	routerCount, err := r.u32()
	if err != nil {
		return fmt.Errorf("collector: reading router count: %w", err)
	}

	views := make([]RouterView, 0, routerCount)
	for i := uint32(0); i < routerCount; i++ {
		addrBytes, err := r.need(16)
		if err != nil {
			return fmt.Errorf("collector: reading router address: %w", err)
		}
		var addr16 [16]byte
		copy(addr16[:], addrBytes)
		addr := netip.AddrFrom16(addr16).Unmap()

		port, err := r.u16()
		if err != nil {
			return fmt.Errorf("collector: reading router port: %w", err)
		}

		peerCount, err := r.u32()
		if err != nil {
			return fmt.Errorf("collector: reading peer count: %w", err)
		}

		rv := RouterView{Key: RouterKey{Addr: addr, Port: port}, Peers: make([]PeerView, 0, peerCount)}
		for j := uint32(0); j < peerCount; j++ {
			var pk PeerKey
			dist, err := r.u64()
			if err != nil {
				return fmt.Errorf("collector: reading peer distinguisher: %w", err)
			}
			pk.Distinguisher = dist

			ptype, err := r.byteVal()
			if err != nil {
				return fmt.Errorf("collector: reading peer type: %w", err)
			}
			pk.Type = ptype

			flags, err := r.byteVal()
			if err != nil {
				return fmt.Errorf("collector: reading peer flags: %w", err)
			}
			pk.Flags = flags

			paddr, err := r.need(16)
			if err != nil {
				return fmt.Errorf("collector: reading peer address: %w", err)
			}
			copy(pk.Address[:], paddr)

			asn, err := r.u32()
			if err != nil {
				return fmt.Errorf("collector: reading peer asn: %w", err)
			}
			pk.ASN = asn

			bgpid, err := r.u32()
			if err != nil {
				return fmt.Errorf("collector: reading peer bgpid: %w", err)
			}
			pk.BGPID = bgpid

			postPolicy, err := r.byteVal()
			if err != nil {
				return fmt.Errorf("collector: reading post-policy flag: %w", err)
			}
			adjRibOut, err := r.byteVal()
			if err != nil {
				return fmt.Errorf("collector: reading adj-rib-out flag: %w", err)
			}
			isIPv6, err := r.byteVal()
			if err != nil {
				return fmt.Errorf("collector: reading ipv6 flag: %w", err)
			}
			peerUpNanos, err := r.u64()
			if err != nil {
				return fmt.Errorf("collector: reading peer-up timestamp: %w", err)
			}

			meta := PeerMeta{
				IsPostPolicy: postPolicy != 0,
				IsAdjRibOut:  adjRibOut != 0,
				IsIPv6:       isIPv6 != 0,
				PeerUpNanos:  int64(peerUpNanos),
			}

			prefixCount, err := r.u32()
			if err != nil {
				return fmt.Errorf("collector: reading prefix count: %w", err)
			}
			prefixes := make([]bgp.Prefix, 0, prefixCount)
			for k := uint32(0); k < prefixCount; k++ {
				afi, err := r.u16()
				if err != nil {
					return fmt.Errorf("collector: reading prefix afi: %w", err)
				}
				length, err := r.byteVal()
				if err != nil {
					return fmt.Errorf("collector: reading prefix length: %w", err)
				}
				paddr, err := r.need(16)
				if err != nil {
					return fmt.Errorf("collector: reading prefix address: %w", err)
				}
				var prefix bgp.Prefix
				prefix.AFI = afi
				prefix.Length = length
				copy(prefix.Address[:], paddr)
				prefixes = append(prefixes, prefix)
			}

			rv.Peers = append(rv.Peers, PeerView{Key: pk, Meta: meta, AnnouncedCount: len(prefixes), Prefixes: prefixes})
		}

		views = append(views, rv)
	}

	x.Restore(views)
	return nil
}
