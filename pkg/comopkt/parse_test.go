package comopkt

import "testing"

func ethIPv4TCP() []byte {
	buf := make([]byte, 14+20+20)
	// dst/src MAC already zero, ethertype IPv4
	buf[12] = 0x08
	buf[13] = 0x00
	ipOff := 14
	buf[ipOff] = 0x45 // version 4, IHL 5
	buf[ipOff+9] = 6  // TCP
	return buf
}

func TestParseLinkEthIPv4TCP(t *testing.T) {
	p := &Packet{Top: TopLink, Payload: ethIPv4TCP()}
	ParseLayers(p)
	if p.Layers.L2 != LayerEth {
		t.Fatalf("expected L2 eth, got %v", p.Layers.L2)
	}
	if p.Layers.L3 != LayerIP {
		t.Fatalf("expected L3 ip, got %v", p.Layers.L3)
	}
	if p.Layers.L4 != LayerTCP {
		t.Fatalf("expected L4 tcp, got %v", p.Layers.L4)
	}
	if p.Layers.L4Off != 14+20 {
		t.Fatalf("expected L4 offset %d, got %d", 14+20, p.Layers.L4Off)
	}
}

func TestParseVLANReplacesL2(t *testing.T) {
	buf := make([]byte, 14+4+20+20)
	buf[12] = 0x81
	buf[13] = 0x00
	// vlan tag at 12..16, real ethertype follows at 16
	buf[16] = 0x08
	buf[17] = 0x00
	ipOff := 18
	buf[ipOff] = 0x45
	buf[ipOff+9] = 17 // UDP
	p := &Packet{Top: TopLink, Payload: buf}
	ParseLayers(p)
	if p.Layers.L2 != LayerVLAN {
		t.Fatalf("expected L2 vlan, got %v", p.Layers.L2)
	}
	if p.Layers.L3 != LayerIP || p.Layers.L4 != LayerUDP {
		t.Fatalf("expected ip/udp, got %v/%v", p.Layers.L3, p.Layers.L4)
	}
}

func TestParseUnknownEtherTypeStopsAtL3(t *testing.T) {
	buf := make([]byte, 14+10)
	buf[12] = 0x88
	buf[13] = 0xcc // LLDP, unknown to this parser
	p := &Packet{Top: TopLink, Payload: buf}
	ParseLayers(p)
	if p.Layers.L3 != LayerNone {
		t.Fatalf("expected L3 none for unknown ethertype, got %v", p.Layers.L3)
	}
	if p.Layers.L4Off != p.Layers.L3Off {
		t.Fatalf("expected L4 offset to collapse to L3 offset")
	}
}

func Test80211NonDataMarksL3None(t *testing.T) {
	buf := make([]byte, 30)
	buf[0] = 0x00 // type=management (bits 2-3 == 0), subtype 0
	p := &Packet{Top: Top80211Radio, Payload: buf}
	ParseLayers(p)
	if p.Layers.L3 != LayerNone {
		t.Fatalf("expected L3 none for non-data 802.11 frame, got %v", p.Layers.L3)
	}
}

func Test80211DataFrameParsesL3(t *testing.T) {
	buf := make([]byte, 24+20+20)
	buf[0] = 0x08 // type=data (bits 2-3 == 2), subtype 0
	ipOff := 24
	buf[ipOff] = 0x45
	buf[ipOff+9] = 6
	p := &Packet{Top: Top80211Radio, Payload: buf}
	ParseLayers(p)
	if p.Layers.L3 != LayerIP {
		t.Fatalf("expected L3 ip for 802.11 data frame, got %v", p.Layers.L3)
	}
}

func TestNetFlowTopLevelCollapsesOffsets(t *testing.T) {
	p := &Packet{Top: TopNetFlow, Payload: []byte{1, 2, 3}}
	ParseLayers(p)
	if p.Layers.L2 != LayerNone || p.Layers.L3 != LayerNone || p.Layers.L4 != LayerNone {
		t.Fatalf("expected all layers none for netflow top-level, got %+v", p.Layers)
	}
}
