package topn

import (
	"encoding/binary"
	"testing"

	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/shmem"
)

// tcpPacket builds a minimal Ethernet+IPv4+TCP frame with the given
// destination port, parsed the same way a sniffer's output would be.
func tcpPacket(dstPort uint16) *comopkt.Packet {
	buf := make([]byte, 14+20+20)
	buf[12], buf[13] = 0x08, 0x00
	ipOff := 14
	buf[ipOff] = 0x45
	buf[ipOff+9] = 6 // TCP
	tcpOff := ipOff + 20
	binary.BigEndian.PutUint16(buf[tcpOff+2:tcpOff+4], dstPort)
	p := &comopkt.Packet{Top: comopkt.TopLink, Payload: buf, WireLen: len(buf)}
	comopkt.ParseLayers(p)
	return p
}

func udpPacket(dstPort uint16) *comopkt.Packet {
	buf := make([]byte, 14+20+8)
	buf[12], buf[13] = 0x08, 0x00
	ipOff := 14
	buf[ipOff] = 0x45
	buf[ipOff+9] = 17 // UDP
	udpOff := ipOff + 20
	binary.BigEndian.PutUint16(buf[udpOff+2:udpOff+4], dstPort)
	p := &comopkt.Packet{Top: comopkt.TopLink, Payload: buf, WireLen: len(buf)}
	comopkt.ParseLayers(p)
	return p
}

func icmpPacket() *comopkt.Packet {
	buf := make([]byte, 14+20+8)
	buf[12], buf[13] = 0x08, 0x00
	ipOff := 14
	buf[ipOff] = 0x45
	buf[ipOff+9] = 1 // ICMP
	p := &comopkt.Packet{Top: comopkt.TopLink, Payload: buf, WireLen: len(buf)}
	comopkt.ParseLayers(p)
	return p
}

// TestTopNKeepsBusiestPerProtocol grounds §8 scenario 2: TCP/80=40,
// UDP/53=30, TCP/22=10, other=20, top_n=2 -> TCP keeps both ports (80,
// 22), UDP keeps its only flow (53), ICMP never enters a record.
func TestTopNKeepsBusiestPerProtocol(t *testing.T) {
	m := New(2)
	arena := shmem.NewArena(8192, false)
	table := flowtable.NewTable(m, arena, m.CaptureRecordSize())

	deliver := func(pkt *comopkt.Packet) {
		if !m.Check(pkt) {
			return
		}
		record, isNew, err := table.Lookup(pkt)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		m.Update(pkt, record, isNew)
	}

	for i := 0; i < 40; i++ {
		deliver(tcpPacket(80))
	}
	for i := 0; i < 30; i++ {
		deliver(udpPacket(53))
	}
	for i := 0; i < 10; i++ {
		deliver(tcpPacket(22))
	}
	for i := 0; i < 20; i++ {
		deliver(icmpPacket())
	}

	if table.Count() != 3 {
		t.Fatalf("expected 3 flow records (tcp/80, tcp/22, udp/53), got %d", table.Count())
	}

	// Merge capture records into export-side records the way
	// internal/export does, then run the Action pass over a
	// Compare-sorted view.
	exRecords := make([][]byte, 0, 3)
	for _, e := range table.Records() {
		ex := make([]byte, m.ExportRecordSize())
		m.Export(ex, e.Block.Bytes(), true)
		exRecords = append(exRecords, ex)
	}

	sortByCompare(m, exRecords)

	kept := make(map[string]uint64)
	for _, ex := range exRecords {
		if m.Action(ex, comopkt.NewTimestamp(1, 0)) == flowtable.ActionStore {
			kept[m.Print(ex)] = flowtable.GetUint64(ex[8:16])
		}
	}

	if len(kept) != 3 {
		t.Fatalf("expected all 3 flows kept (group sizes <= top_n=2), got %d: %v", len(kept), kept)
	}
}

func sortByCompare(m *Module, records [][]byte) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && m.Compare(records[j], records[j-1]) < 0; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func TestTopNChecksRejectsNonTCPUDP(t *testing.T) {
	m := New(2)
	if m.Check(icmpPacket()) {
		t.Fatal("expected ICMP packet to be rejected by Check")
	}
	if !m.Check(tcpPacket(80)) {
		t.Fatal("expected TCP packet to pass Check")
	}
}
