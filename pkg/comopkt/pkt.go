// Package comopkt implements the canonical packet descriptor, the
// metadesc negotiation protocol between sniffers and modules, and the
// filter AST derived from that negotiation.
package comopkt

import "fmt"

// LayerType identifies the protocol occupying one of the four nested
// layer positions of a packet (link, L2, L3, L4/L7).
type LayerType int

const (
	LayerNone LayerType = iota
	LayerAny            // only valid inside a Metadesc template, never on a concrete Packet
	LayerEth
	LayerVLAN
	LayerISL
	LayerHDLC
	Layer80211
	LayerIP
	LayerTCP
	LayerUDP
	LayerNetFlow
	LaySFlow
)

func (l LayerType) String() string {
	switch l {
	case LayerNone:
		return "none"
	case LayerAny:
		return "any"
	case LayerEth:
		return "eth"
	case LayerVLAN:
		return "vlan"
	case LayerISL:
		return "isl"
	case LayerHDLC:
		return "hdlc"
	case Layer80211:
		return "802.11"
	case LayerIP:
		return "ip"
	case LayerTCP:
		return "tcp"
	case LayerUDP:
		return "udp"
	case LayerNetFlow:
		return "netflow"
	case LaySFlow:
		return "sflow"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// TopLevelType distinguishes the outermost framing a sniffer emits.
type TopLevelType int

const (
	TopLink TopLevelType = iota
	Top80211Radio
	TopNetFlow
	TopSFlow
)

// Timestamp is a monotonic 64-bit fixed-point-seconds timestamp, matching
// the wire representation the original capture core used so sniffers can
// compare timestamps without floating point drift.
type Timestamp uint64

const tsFrac = 1 << 32

// NewTimestamp builds a Timestamp from separate seconds/nanoseconds.
func NewTimestamp(sec int64, nsec int64) Timestamp {
	frac := uint64(nsec) * tsFrac / 1e9
	return Timestamp(uint64(sec)<<32 | frac)
}

// Seconds returns the integer seconds component.
func (t Timestamp) Seconds() int64 { return int64(uint64(t) >> 32) }

// Before reports whether t sorts strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t < o }

// Layers holds the four nested layer tags and their byte offsets into
// Payload. ParseLayers does not fill in L7: L7 stays LayerNone and
// L7Off stays 0.
type Layers struct {
	Link   LayerType
	L2     LayerType
	L3     LayerType
	L4     LayerType
	L7     LayerType
	LinkOff int
	L2Off   int
	L3Off   int
	L4Off   int
	L7Off   int
}

// Meta is one entry of a packet's pktmeta side channel: a name tagged
// self-describing blob that sniffers populate and modules read.
type Meta struct {
	Name  string
	Value []byte
}

// Packet is the canonical `pkt` descriptor: a header plus an immutable
// payload reference. Payload must not be mutated for the packet's
// lifetime — it may be a window into a shared-memory arena block owned
// by the capture process.
type Packet struct {
	TS       Timestamp
	WireLen  int
	CapLen   int
	Top      TopLevelType
	Layers   Layers
	Payload  []byte
	Meta     []Meta
	SnifferID int
}

// MetaValue returns the value of the named pktmeta entry, if present.
func (p *Packet) MetaValue(name string) ([]byte, bool) {
	for _, m := range p.Meta {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// L3Bytes and L4Bytes return the payload slice starting at that layer's
// offset, or nil if that layer is LayerNone.
func (p *Packet) L3Bytes() []byte {
	if p.Layers.L3 == LayerNone || p.Layers.L3Off >= len(p.Payload) {
		return nil
	}
	return p.Payload[p.Layers.L3Off:]
}

func (p *Packet) L4Bytes() []byte {
	if p.Layers.L4 == LayerNone || p.Layers.L4Off >= len(p.Payload) {
		return nil
	}
	return p.Payload[p.Layers.L4Off:]
}
