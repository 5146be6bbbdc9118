// Package bmp decodes the BMP (BGP Monitoring Protocol, RFC 7854) message
// framing that arrives over a raw TCP session from a monitored router.
package bmp

// BMP message types (RFC 7854 Section 4).
const (
	MsgTypeRouteMonitoring uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDownNotification uint8 = 2
	MsgTypePeerUpNotification uint8 = 3
	MsgTypeInitiation uint8 = 4
	MsgTypeTermination uint8 = 5
	MsgTypeRouteMirroring uint8 = 6
)

// Peer types (RFC 7854 Section 4.2). Risotto additionally treats
// peerType 3 as the Adj-RIB-Out view, per spec.md §3's
// `isAdjRibOut = peerType == 3` definition.
const (
	PeerTypeGlobalInstance uint8 = 0
	PeerTypeRDInstance     uint8 = 1
	PeerTypeLocalInstance  uint8 = 2
	PeerTypeAdjRibOut      uint8 = 3
)

// Peer header flag bits.
const (
	PeerFlagIPv6    uint8 = 0x80
	PeerFlagPostPolicy uint8 = 0x40
	PeerFlagAS4     uint8 = 0x20
	PeerFlagAdjRIBOut uint8 = 0x10
)

// Version is the only BMP protocol version Risotto understands.
const Version uint8 = 3

// CommonHeaderSize is the BMP common header: version(1) + length(4) + type(1).
const CommonHeaderSize = 6

// PerPeerHeaderSize is the fixed per-peer header that precedes the
// payload of every message type except Initiation/Termination.
const PerPeerHeaderSize = 42

// PeerDownReason codes (RFC 7854 Section 4.9).
const (
	PeerDownLocalNotification    uint8 = 1
	PeerDownLocalNoNotification  uint8 = 2
	PeerDownRemoteNotification   uint8 = 3
	PeerDownRemoteNoNotification uint8 = 4
	PeerDownPeerDeconfigured     uint8 = 5
)

// Initiation/Termination TLV types.
const (
	TLVTypeString      uint16 = 0
	TLVTypeSysDescr    uint16 = 1
	TLVTypeSysName     uint16 = 2
	TLVTypeTermReason  uint16 = 1 // termination-only reuse of code point 1
)

// CommonHeader is the fixed-size prefix of every BMP message.
type CommonHeader struct {
	Version uint8
	Length  uint32
	Type    uint8
}

// PerPeerHeader identifies the monitored peer a message pertains to
// (RFC 7854 Section 4.2).
type PerPeerHeader struct {
	PeerType     uint8
	Flags        uint8
	PeerDistinguisher uint64
	PeerAddress  [16]byte
	IsIPv6       bool
	PeerAS       uint32
	PeerBGPID    uint32
	TimestampSec uint32
	TimestampMicro uint32
}

// Message is a single fully-decoded BMP message ready for dispatch to
// the collector state machine.
type Message struct {
	Type uint8
	Peer *PerPeerHeader // nil for Initiation/Termination
	Body []byte
}

// IsPostPolicy reports the per-peer header's post-policy flag.
func (h PerPeerHeader) IsPostPolicy() bool {
	return h.Flags&PeerFlagPostPolicy != 0
}

// IsAdjRibOut reports whether this header pertains to the Adj-RIB-Out
// view, per spec.md §3.
func (h PerPeerHeader) IsAdjRibOut() bool {
	return h.PeerType == PeerTypeAdjRibOut
}

// TimestampNanos converts the per-peer header's wall-clock timestamp
// to nanoseconds. A zero timestamp (legal per RFC 7854) is returned
// untouched.
func (h PerPeerHeader) TimestampNanos() uint64 {
	return uint64(h.TimestampSec)*1e9 + uint64(h.TimestampMicro)*1e3
}
