package comopkt

import "encoding/binary"

const (
	ethHeaderLen  = 14
	vlanTagLen    = 4
	islHeaderLen  = 26
	ethTypeIP     = 0x0800
	ethTypeVLAN   = 0x8100
	ethTypeISL    = 0x00 // ISL is recognized by destination MAC, not ethertype
)

// ParseLayers fills in p.Layers by inspecting p.Payload according to
// p.Top, applying the edge-case policies from the design's packet-model
// section:
//   - top-level NONE: every layer offset equals the previous layer's
//   - unknown protocol at a layer: tag it NONE and stop deeper parsing
//   - VLAN/ISL recognition happens after Ethernet framing and replaces L2
//   - 802.11: variable header length, L3 is NONE unless frame type DATA
func ParseLayers(p *Packet) {
	switch p.Top {
	case TopLink:
		parseLinkLayers(p)
	case Top80211Radio:
		parse80211Layers(p)
	case TopNetFlow, TopSFlow:
		// Flow-record sources have no link/L2/L3/L4 byte layout to peel;
		// every layer collapses to the top-level offset, per the NONE
		// top-level policy.
		p.Layers = Layers{Link: LayerNone, L2: LayerNone, L3: LayerNone, L4: LayerNone}
	}
}

func parseLinkLayers(p *Packet) {
	buf := p.Payload
	if len(buf) < ethHeaderLen {
		p.Layers = Layers{Link: LayerNone}
		return
	}
	p.Layers.Link = LayerEth
	p.Layers.LinkOff = 0

	off := ethHeaderLen
	etherType := binary.BigEndian.Uint16(buf[12:14])

	// ISL is recognized by peeking at the destination MAC (first 5 bytes
	// 0x01000C0000 is the ISL-reserved multicast prefix); when present it
	// replaces L2 instead of Ethernet.
	if len(buf) >= 5 && buf[0] == 0x01 && buf[1] == 0x00 && buf[2] == 0x0C && buf[3] == 0x00 && buf[4] == 0x00 {
		p.Layers.L2 = LayerISL
		p.Layers.L2Off = 0
		if len(buf) < islHeaderLen {
			p.Layers.L3 = LayerNone
			p.Layers.L3Off = p.Layers.L2Off
			return
		}
		off = islHeaderLen
		etherType = binary.BigEndian.Uint16(buf[off-2 : off])
	} else if etherType == ethTypeVLAN {
		p.Layers.L2 = LayerVLAN
		p.Layers.L2Off = ethHeaderLen - 2 // the VLAN tag starts where ethertype was
		if len(buf) < ethHeaderLen+vlanTagLen {
			p.Layers.L3 = LayerNone
			p.Layers.L3Off = p.Layers.L2Off
			return
		}
		etherType = binary.BigEndian.Uint16(buf[ethHeaderLen+2 : ethHeaderLen+4])
		off = ethHeaderLen + vlanTagLen
	} else {
		p.Layers.L2 = LayerEth
		p.Layers.L2Off = 0
	}

	p.Layers.L3Off = off
	switch etherType {
	case ethTypeIP:
		p.Layers.L3 = LayerIP
		parseIPv4(p, off)
	default:
		p.Layers.L3 = LayerNone
		p.Layers.L4 = LayerNone
		p.Layers.L4Off = p.Layers.L3Off
	}
}

func parseIPv4(p *Packet, off int) {
	buf := p.Payload
	if len(buf) < off+20 {
		p.Layers.L4 = LayerNone
		p.Layers.L4Off = off
		return
	}
	ihl := int(buf[off]&0x0f) * 4
	if ihl < 20 || len(buf) < off+ihl {
		p.Layers.L4 = LayerNone
		p.Layers.L4Off = off
		return
	}
	proto := buf[off+9]
	l4off := off + ihl
	p.Layers.L4Off = l4off
	switch proto {
	case 6:
		p.Layers.L4 = LayerTCP
	case 17:
		p.Layers.L4 = LayerUDP
	default:
		p.Layers.L4 = LayerNone
	}
}

// frame80211Type identifies an 802.11 frame as one of management (0),
// control (1), or data (2) from the first byte's type subfield.
func frame80211Type(b byte) int { return int((b >> 2) & 0x03) }

// headerLen80211 computes the variable-length 802.11 MAC header size: a
// base 24 bytes, +6 for the 4th address present on WDS frames, +2 for
// the QoS control field on QoS data subtypes.
func headerLen80211(buf []byte) int {
	if len(buf) < 2 {
		return len(buf)
	}
	const (
		flagToDS   = 0x01
		flagFromDS = 0x02
	)
	fc1 := buf[1]
	hlen := 24
	if fc1&flagToDS != 0 && fc1&flagFromDS != 0 {
		hlen += 6 // both DS bits set: 4-address WDS frame
	}
	subtype := (buf[0] >> 4) & 0x0f
	if frame80211Type(buf[0]) == 2 && subtype&0x08 != 0 {
		hlen += 2 // QoS data subtype carries a QoS control field
	}
	return hlen
}

func parse80211Layers(p *Packet) {
	buf := p.Payload
	if len(buf) < 2 {
		p.Layers = Layers{Link: LayerNone}
		return
	}
	p.Layers.Link = Layer80211
	p.Layers.LinkOff = 0
	p.Layers.L2 = Layer80211
	p.Layers.L2Off = 0

	hlen := headerLen80211(buf)
	p.Layers.L3Off = hlen
	if frame80211Type(buf[0]) != 2 || len(buf) <= hlen {
		// Not a DATA frame (or header truncates the buffer): per the
		// design's edge-case policy L3 is NONE and offsets collapse to
		// the previous layer's offset.
		p.Layers.L3 = LayerNone
		p.Layers.L4 = LayerNone
		p.Layers.L4Off = hlen
		return
	}
	p.Layers.L3 = LayerIP
	parseIPv4(p, hlen)
}
