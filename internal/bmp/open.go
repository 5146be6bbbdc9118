package bmp

import (
	"encoding/binary"
	"fmt"
)

// BGP OPEN optional parameter and capability codes (RFC 5492, RFC 6793, RFC 4760).
const (
	OptParamTypeCapability uint8 = 2
	CapCodeMultiprotocol   uint8 = 1
	CapCodeAS4             uint8 = 65
)

// MPFamily is a single negotiated multiprotocol address family.
type MPFamily struct {
	AFI  uint16
	SAFI uint8
}

// OpenCapabilities holds the capabilities advertised in one BGP OPEN
// message's optional parameters.
type OpenCapabilities struct {
	AS4        bool
	MPFamilies []MPFamily
}

// Supports reports whether family was advertised among the OPEN
// message's MP-BGP capabilities.
func (c OpenCapabilities) Supports(afi uint16, safi uint8) bool {
	for _, f := range c.MPFamilies {
		if f.AFI == afi && f.SAFI == safi {
			return true
		}
	}
	return false
}

// ParseOpenCapabilities parses a full BGP OPEN message (19-byte header
// included) and extracts the capabilities carried in its optional
// parameters.
func ParseOpenCapabilities(msg []byte) (OpenCapabilities, error) {
	const bgpHeaderSize = 19
	if len(msg) < bgpHeaderSize+10 {
		return OpenCapabilities{}, fmt.Errorf("bmp: open message too short (%d bytes)", len(msg))
	}

	body := msg[bgpHeaderSize:]
	// version(1) my_as(2) hold_time(2) bgp_id(4) opt_param_len(1)
	optLen := int(body[9])
	offset := 10
	if offset+optLen > len(body) {
		return OpenCapabilities{}, fmt.Errorf("bmp: open optional parameters length %d exceeds message", optLen)
	}

	var caps OpenCapabilities
	data := body[offset : offset+optLen]
	o := 0
	for o+2 <= len(data) {
		ptype := data[o]
		plen := int(data[o+1])
		o += 2
		if o+plen > len(data) {
			break
		}
		pval := data[o : o+plen]
		o += plen

		if ptype == OptParamTypeCapability {
			parseCapabilities(pval, &caps)
		}
	}
	return caps, nil
}

func parseCapabilities(data []byte, caps *OpenCapabilities) {
	o := 0
	for o+2 <= len(data) {
		code := data[o]
		clen := int(data[o+1])
		o += 2
		if o+clen > len(data) {
			break
		}
		cval := data[o : o+clen]
		o += clen

		switch code {
		case CapCodeAS4:
			caps.AS4 = true
		case CapCodeMultiprotocol:
			if len(cval) >= 4 {
				caps.MPFamilies = append(caps.MPFamilies, MPFamily{
					AFI:  binary.BigEndian.Uint16(cval[0:2]),
					SAFI: cval[3],
				})
			}
		}
	}
}
