package comopkt

import "testing"

func TestScorePairIncompatibleTimestampResolution(t *testing.T) {
	module := Template{L2: LayerAny, L3: LayerAny, L4: LayerAny, TSRes: TSResMicrosecond}
	sniffer := Template{L2: LayerAny, L3: LayerAny, L4: LayerAny, TSRes: TSResSecond}
	a := ScorePair(module, sniffer, nil)
	if a.Compatible {
		t.Fatalf("expected incompatible pair due to coarser sniffer resolution")
	}
}

func TestScorePairFilterProjection(t *testing.T) {
	// Sniffer emits link:eth:any:any; module wants L3=ip, L4=tcp.
	sniffer := Metadesc{Templates: []Template{{Link: TopLink, L2: LayerAny, L3: LayerAny, L4: LayerAny}}}
	module := Metadesc{Templates: []Template{{Link: TopLink, L2: LayerAny, L3: LayerIP, L4: LayerTCP}}}

	best, ok := BestMatch(module, sniffer, nil)
	if !ok {
		t.Fatalf("expected compatible match")
	}
	filter := CompileTemplate(best.ModuleTpl)

	tcpPkt := &Packet{Top: TopLink, Payload: ethIPv4TCP()}
	ParseLayers(tcpPkt)
	if !filter.Match(tcpPkt) {
		t.Fatalf("expected tcp/ip packet to match derived filter")
	}

	udpBuf := make([]byte, 14+20+20)
	udpBuf[12], udpBuf[13] = 0x08, 0x00
	udpBuf[14] = 0x45
	udpBuf[14+9] = 17
	udpPkt := &Packet{Top: TopLink, Payload: udpBuf}
	ParseLayers(udpPkt)
	if filter.Match(udpPkt) {
		t.Fatalf("expected non-tcp packet to be rejected by derived filter")
	}
}

func TestBestMatchPrefersConcreteOverAny(t *testing.T) {
	// The module wants L3=ip; the all-any sniffer template scores 1 for
	// that position, the concrete ip template scores 2.
	sniffer := Metadesc{Templates: []Template{
		{Link: TopLink, L2: LayerAny, L3: LayerAny, L4: LayerAny},
		{Link: TopLink, L2: LayerEth, L3: LayerIP, L4: LayerAny},
	}}
	module := Metadesc{Templates: []Template{
		{Link: TopLink, L2: LayerAny, L3: LayerIP, L4: LayerAny},
	}}
	best, ok := BestMatch(module, sniffer, nil)
	if !ok {
		t.Fatalf("expected a compatible match")
	}
	if best.Score < 0 {
		t.Fatalf("expected non-negative score, got %d", best.Score)
	}
	if best.SnifferTpl.L3 != LayerIP {
		t.Fatalf("expected the concrete ip sniffer template to win, got L3=%v (score %d)", best.SnifferTpl.L3, best.Score)
	}
}
