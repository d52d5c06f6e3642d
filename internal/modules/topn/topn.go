// Package topn implements a flowtable.Module that ranks TCP/UDP flows
// by destination port within each protocol and keeps only the busiest
// N per protocol at export time (§8 scenario 2), using the optional
// Checker, Comparer, and Actioner callbacks alongside the required
// ones (§6).
package topn

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/flowtable"
)

const (
	protoTCP byte = 1
	protoUDP byte = 2
)

// recordSize: proto(1) + pad(1) + port(2) + pad(4) + pkts(8) = 16.
const recordSize = 16

const defaultTopN = 2

// Module keeps the top N busiest (protocol, destination-port) flows per
// protocol, discarding the rest at export flush.
type Module struct {
	topN int

	// Action is called in Comparer-sorted order within one flush; these
	// fields track the current group and rank across that single pass.
	lastFlush   comopkt.Timestamp
	lastProto   byte
	rankInGroup int
}

// New returns a topn module keeping the busiest N flows per protocol.
func New(topN int) *Module {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Module{topN: topN}
}

func (m *Module) Name() string          { return "topn" }
func (m *Module) CaptureRecordSize() int { return recordSize }
func (m *Module) ExportRecordSize() int  { return recordSize }

// Init accepts an optional "top_n=<N>" raw config string, overriding
// the value passed to New.
func (m *Module) Init(config []byte) error {
	cfg := strings.TrimSpace(string(config))
	if cfg == "" {
		return nil
	}
	for _, kv := range strings.Split(cfg, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || k != "top_n" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("topn: invalid top_n %q: %w", v, err)
		}
		m.topN = n
	}
	return nil
}

// Check rejects anything that isn't TCP or UDP (§8 scenario 2's
// "other" traffic never reaches a flow record).
func (m *Module) Check(p *comopkt.Packet) bool {
	switch p.Layers.L4 {
	case comopkt.LayerTCP, comopkt.LayerUDP:
		return len(p.L4Bytes()) >= 4
	default:
		return false
	}
}

func classify(p *comopkt.Packet) (proto byte, port uint16) {
	l4 := p.L4Bytes()
	if p.Layers.L4 == comopkt.LayerTCP {
		proto = protoTCP
	} else {
		proto = protoUDP
	}
	port = binary.BigEndian.Uint16(l4[2:4])
	return proto, port
}

func (m *Module) Hash(p *comopkt.Packet) uint64 {
	proto, port := classify(p)
	var key [3]byte
	key[0] = proto
	binary.BigEndian.PutUint16(key[1:3], port)
	return xxhash.Sum64(key[:])
}

func (m *Module) Match(p *comopkt.Packet, record []byte) bool {
	proto, port := classify(p)
	return record[0] == proto && binary.BigEndian.Uint16(record[2:4]) == port
}

func (m *Module) Update(p *comopkt.Packet, record []byte, isNew bool) flowtable.UpdateOutcome {
	if isNew {
		proto, port := classify(p)
		record[0] = proto
		binary.BigEndian.PutUint16(record[2:4], port)
	}
	pkts := flowtable.GetUint64(record[8:16])
	flowtable.PutUint64(record[8:16], pkts+1)
	return flowtable.UpdateOK
}

func (m *Module) Export(ex []byte, x []byte, isNew bool) {
	if isNew {
		ex[0] = x[0]
		copy(ex[2:4], x[2:4])
	}
	flowtable.PutUint64(ex[8:16], flowtable.GetUint64(ex[8:16])+flowtable.GetUint64(x[8:16]))
}

// Compare orders records by protocol, then by packet count descending
// within a protocol, so Action sees each protocol's busiest flow first.
func (m *Module) Compare(a, b []byte) int {
	if a[0] != b[0] {
		return int(a[0]) - int(b[0])
	}
	ca := flowtable.GetUint64(a[8:16])
	cb := flowtable.GetUint64(b[8:16])
	switch {
	case ca > cb:
		return -1
	case ca < cb:
		return 1
	default:
		return int(binary.BigEndian.Uint16(a[2:4])) - int(binary.BigEndian.Uint16(b[2:4]))
	}
}

// HasFlexibleFlush reports true: Action's rank-in-group cutoff only
// makes sense walked in Comparer order (busiest-first per protocol),
// never in plain insertion order (§4.6).
func (m *Module) HasFlexibleFlush() bool { return true }

// Action keeps the first topN records of each protocol group in the
// Comparer-sorted pass and discards the rest.
func (m *Module) Action(ex []byte, now comopkt.Timestamp) flowtable.Action {
	proto := ex[0]
	if now != m.lastFlush || proto != m.lastProto {
		m.lastFlush = now
		m.lastProto = proto
		m.rankInGroup = 0
	}
	m.rankInGroup++
	if m.rankInGroup > m.topN {
		return flowtable.ActionDiscard
	}
	return flowtable.ActionStore
}

func (m *Module) Store(ex []byte, buf []byte) int {
	if len(buf) < recordSize {
		return -1
	}
	copy(buf, ex[:recordSize])
	return recordSize
}

func (m *Module) Load(data []byte) ([]byte, int, error) {
	if len(data) < recordSize {
		return nil, 0, fmt.Errorf("topn: short record: need %d bytes, got %d", recordSize, len(data))
	}
	return append([]byte(nil), data[:recordSize]...), recordSize, nil
}

func (m *Module) Print(record []byte) string {
	if len(record) < recordSize {
		return "<corrupt topn record>"
	}
	proto := "tcp"
	if record[0] == protoUDP {
		proto = "udp"
	}
	port := binary.BigEndian.Uint16(record[2:4])
	pkts := binary.BigEndian.Uint64(record[8:16])
	return fmt.Sprintf("proto=%s port=%d pkts=%d", proto, port, pkts)
}
