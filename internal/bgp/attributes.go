package bgp

import (
	"encoding/binary"
	"fmt"
)

// ParsePathAttributes parses the path attribute section of a BGP UPDATE.
// as4 selects 4-octet AS_PATH/AGGREGATOR decoding for AS_PATH/AGGREGATOR
// (not AS4_PATH/AS4_AGGREGATOR, which are always 4-octet by definition).
func ParsePathAttributes(data []byte, as4 bool) (Attributes, error) {
	var attrs Attributes
	var as4Path []uint32
	var as4Aggregator *Aggregator

	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return attrs, fmt.Errorf("bgp: attr header truncated at offset %d", offset)
		}

		flags := data[offset]
		typeCode := data[offset+1]
		offset += 2

		var attrLen int
		if flags&AttrFlagExtended != 0 {
			if offset+2 > len(data) {
				return attrs, fmt.Errorf("bgp: extended attr length truncated at offset %d", offset)
			}
			attrLen = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return attrs, fmt.Errorf("bgp: attr length truncated at offset %d", offset)
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return attrs, fmt.Errorf("bgp: attr data truncated (type %d, need %d, have %d)", typeCode, attrLen, len(data)-offset)
		}
		attrData := data[offset : offset+attrLen]
		offset += attrLen

		switch typeCode {
		case AttrTypeOrigin:
			parseOrigin(attrData, &attrs)
		case AttrTypeASPath:
			attrs.ASPath = parseASPath(attrData, as4)
		case AttrTypeAS4Path:
			as4Path = parseASPath(attrData, true)
		case AttrTypeNextHop:
			parseNextHop(attrData, &attrs)
		case AttrTypeMED:
			if v, ok := parseU32(attrData); ok {
				attrs.MultiExitDisc = &v
			}
		case AttrTypeLocalPref:
			if v, ok := parseU32(attrData); ok {
				attrs.LocalPref = &v
			}
		case AttrTypeAtomicAggr:
			attrs.AtomicAggregate = true
		case AttrTypeAggregator:
			if agg, ok := parseAggregator(attrData, as4); ok {
				attrs.Aggregator = &agg
			}
		case AttrTypeAS4Aggregator:
			if agg, ok := parseAggregator(attrData, true); ok {
				as4Aggregator = &agg
			}
		case AttrTypeOnlyToCustomer:
			if v, ok := parseU32(attrData); ok {
				attrs.OnlyToCustomer = &v
			}
		case AttrTypeOriginatorID:
			if len(attrData) == 4 {
				attrs.OriginatorID = binary.BigEndian.Uint32(attrData)
				attrs.HasOriginatorID = true
			}
		case AttrTypeClusterList:
			attrs.ClusterList = parseClusterList(attrData)
		case AttrTypeCommunity:
			attrs.Communities = parseCommunities(attrData)
		case AttrTypeExtCommunity:
			attrs.ExtCommunities = parseExtCommunities(attrData)
		case AttrTypeLargeCommunity:
			attrs.LargeCommunities = parseLargeCommunities(attrData)
		case AttrTypeMPReachNLRI:
			if err := parseMPReachNLRI(attrData, &attrs); err != nil {
				return attrs, fmt.Errorf("bgp: mp_reach_nlri: %w", err)
			}
		case AttrTypeMPUnreachNLRI:
			if err := parseMPUnreachNLRI(attrData, &attrs); err != nil {
				return attrs, fmt.Errorf("bgp: mp_unreach_nlri: %w", err)
			}
		default:
			// Unknown attribute: skip after length-reading, per spec.
		}
	}

	// RFC 6793: when the peer has not negotiated 4-octet ASNs, AS_PATH
	// carries AS_TRANS (23456) placeholders and the real path travels in
	// AS4_PATH; merge it in. When the peer already speaks 4-octet ASNs,
	// AS4_PATH/AS4_AGGREGATOR are redundant and are dropped.
	if !as4 {
		if len(as4Path) > 0 {
			attrs.ASPath = mergeAS4Path(attrs.ASPath, as4Path)
		}
		if as4Aggregator != nil {
			attrs.Aggregator = as4Aggregator
		}
	}

	return attrs, nil
}

// mergeAS4Path substitutes the trailing segment of the 2-octet AS_PATH
// (which is padded with AS_TRANS for positions that don't fit) with the
// real ASNs from AS4_PATH. Per RFC 6793 Section 4.2.3, AS4_PATH may be
// shorter than AS_PATH (attributes got trimmed along the way); the
// simple and commonly implemented merge keeps the leading ASNs from
// AS_PATH and appends AS4_PATH as the authoritative tail.
func mergeAS4Path(asPath, as4Path []uint32) []uint32 {
	if len(as4Path) >= len(asPath) {
		return as4Path
	}
	lead := len(asPath) - len(as4Path)
	merged := make([]uint32, 0, len(asPath))
	merged = append(merged, asPath[:lead]...)
	merged = append(merged, as4Path...)
	return merged
}

func parseU32(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

func parseOrigin(data []byte, attrs *Attributes) {
	if len(data) < 1 {
		return
	}
	if v, ok := OriginValues[data[0]]; ok {
		attrs.Origin = v
	} else {
		attrs.Origin = fmt.Sprintf("UNKNOWN(%d)", data[0])
	}
}

// parseASPath flattens AS_SET and AS_SEQUENCE segments into a single
// occurrence-ordered sequence; confederation segments (types 3, 4) are
// skipped entirely, per spec.
func parseASPath(data []byte, as4 bool) []uint32 {
	asnSize := 2
	if as4 {
		asnSize = 4
	}

	var path []uint32
	offset := 0
	for offset+2 <= len(data) {
		segType := data[offset]
		segLen := int(data[offset+1])
		offset += 2

		segBytes := segLen * asnSize
		if offset+segBytes > len(data) {
			break
		}

		switch segType {
		case ASPathSegmentSet, ASPathSegmentSequence:
			for i := 0; i < segLen; i++ {
				var asn uint32
				if as4 {
					asn = binary.BigEndian.Uint32(data[offset : offset+4])
				} else {
					asn = uint32(binary.BigEndian.Uint16(data[offset : offset+2]))
				}
				path = append(path, asn)
				offset += asnSize
			}
		default:
			// Confederation segments (AS_CONFED_SEQUENCE=3, AS_CONFED_SET=4): skip.
			offset += segBytes
		}
	}
	return path
}

func parseNextHop(data []byte, attrs *Attributes) {
	if len(data) != 4 {
		return
	}
	attrs.NextHop = ipv4MappedIPv6(data)
	attrs.HasNextHop = true
}

// ipv4MappedIPv6 maps a 4-byte IPv4 address into the canonical 16-byte
// IPv4-mapped IPv6 form (::ffff:a.b.c.d), per the canonical address
// representation spec.md requires throughout.
func ipv4MappedIPv6(v4 []byte) [16]byte {
	var out [16]byte
	out[10] = 0xff
	out[11] = 0xff
	copy(out[12:16], v4)
	return out
}

func parseAggregator(data []byte, as4 bool) (Aggregator, bool) {
	if as4 {
		if len(data) != 8 {
			return Aggregator{}, false
		}
		return Aggregator{
			ASN:   binary.BigEndian.Uint32(data[0:4]),
			BGPID: binary.BigEndian.Uint32(data[4:8]),
		}, true
	}
	if len(data) != 6 {
		return Aggregator{}, false
	}
	return Aggregator{
		ASN:   uint32(binary.BigEndian.Uint16(data[0:2])),
		BGPID: binary.BigEndian.Uint32(data[2:6]),
	}, true
}

func parseClusterList(data []byte) []uint32 {
	var out []uint32
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, binary.BigEndian.Uint32(data[i:i+4]))
	}
	return out
}

func parseCommunities(data []byte) []Community {
	var out []Community
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, Community{
			ASN:   binary.BigEndian.Uint16(data[i : i+2]),
			Value: binary.BigEndian.Uint16(data[i+2 : i+4]),
		})
	}
	return out
}

func parseExtCommunities(data []byte) []ExtCommunity {
	var out []ExtCommunity
	for i := 0; i+8 <= len(data); i += 8 {
		ec := ExtCommunity{TypeHigh: data[i], TypeLow: data[i+1]}
		copy(ec.Value[:], data[i+2:i+8])
		out = append(out, ec)
	}
	return out
}

func parseLargeCommunities(data []byte) []LargeCommunity {
	var out []LargeCommunity
	for i := 0; i+12 <= len(data); i += 12 {
		out = append(out, LargeCommunity{
			GlobalAdmin: binary.BigEndian.Uint32(data[i : i+4]),
			LocalData1:  binary.BigEndian.Uint32(data[i+4 : i+8]),
			LocalData2:  binary.BigEndian.Uint32(data[i+8 : i+12]),
		})
	}
	return out
}

func parseMPReachNLRI(data []byte, attrs *Attributes) error {
	if len(data) < 5 {
		return fmt.Errorf("too short (%d bytes)", len(data))
	}

	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	nhLen := int(data[3])
	offset := 4

	if offset+nhLen > len(data) {
		return fmt.Errorf("next hop length %d exceeds data", nhLen)
	}
	nhData := data[offset : offset+nhLen]
	offset += nhLen

	switch nhLen {
	case 4:
		attrs.MPReachNH = ipv4MappedIPv6(nhData)
		attrs.HasMPReachNH = true
	case 16, 32:
		copy(attrs.MPReachNH[:], nhData[:16])
		attrs.HasMPReachNH = true
	}

	if offset >= len(data) {
		return fmt.Errorf("missing SNPA count")
	}
	snpaCount := int(data[offset])
	offset++
	for i := 0; i < snpaCount; i++ {
		if offset >= len(data) {
			return fmt.Errorf("snpa entry truncated")
		}
		snpaLen := int(data[offset])
		offset++
		snpaByteLen := (snpaLen + 1) / 2
		if offset+snpaByteLen > len(data) {
			return fmt.Errorf("snpa data truncated")
		}
		offset += snpaByteLen
	}

	attrs.MPReachAFI = afi
	attrs.MPReachSAFI = safi
	attrs.HasMPReach = true

	if safi != SAFIUnicast {
		attrs.MPReachSAFIDropped = true
		return nil
	}
	prefixes, err := parsePrefixes(data[offset:], afi)
	if err != nil {
		return err
	}
	attrs.MPReachNLRI = prefixes
	return nil
}

func parseMPUnreachNLRI(data []byte, attrs *Attributes) error {
	if len(data) < 3 {
		return fmt.Errorf("too short (%d bytes)", len(data))
	}
	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]

	attrs.MPUnreachAFI = afi
	attrs.MPUnreachSAFI = safi
	attrs.HasMPUnreach = true

	if safi != SAFIUnicast {
		attrs.MPUnreachSAFIDropped = true
		return nil
	}
	prefixes, err := parsePrefixes(data[3:], afi)
	if err != nil {
		return err
	}
	attrs.MPUnreachNLRI = prefixes
	return nil
}

// parsePrefixes decodes a sequence of (length:u8, addressBytes) NLRI
// entries for the given AFI, canonicalising each to 16-byte form.
func parsePrefixes(data []byte, afi uint16) ([]Prefix, error) {
	var out []Prefix
	offset := 0
	maxBits := afiMaxBits(afi)

	for offset < len(data) {
		prefixLen := int(data[offset])
		offset++

		if prefixLen > maxBits {
			return out, fmt.Errorf("prefix length %d exceeds AFI max %d", prefixLen, maxBits)
		}

		byteLen := (prefixLen + 7) / 8
		if offset+byteLen > len(data) {
			return out, fmt.Errorf("prefix data truncated at offset %d", offset)
		}

		var addr [16]byte
		copy(addr[:], data[offset:offset+byteLen])
		offset += byteLen

		out = append(out, Prefix{AFI: afi, Address: addr, Length: uint8(prefixLen)})
	}
	return out, nil
}

func afiMaxBits(afi uint16) int {
	if afi == AFIIPv4 {
		return 32
	}
	return 128
}
