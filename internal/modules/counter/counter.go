// Package counter implements a minimal flowtable.Module: one record
// per five-tuple flow, tallying packet and byte counts. It is the
// simplest possible module and exists as a worked example of the
// callback contract (§6, §8 scenario 1).
package counter

import (
	"encoding/binary"
	"fmt"

	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/flowtable"
)

// recordSize: pkts(8) + bytes(8).
const recordSize = 16

// Module counts packets and bytes per five-tuple flow.
type Module struct{}

// New returns a ready-to-register counter module.
func New() *Module { return &Module{} }

func (m *Module) Name() string          { return "counter" }
func (m *Module) CaptureRecordSize() int { return recordSize }
func (m *Module) ExportRecordSize() int  { return recordSize }

func (m *Module) Init(config []byte) error { return nil }

func (m *Module) Hash(p *comopkt.Packet) uint64 {
	return flowtable.HashFiveTuple(p)
}

func (m *Module) Match(p *comopkt.Packet, record []byte) bool {
	// HashFiveTuple already keys on the L3+L4 header span, so any
	// bucket collision for this module is a true match: there is no
	// finer-grained field to compare.
	return true
}

func (m *Module) Update(p *comopkt.Packet, record []byte, isNew bool) flowtable.UpdateOutcome {
	pkts := flowtable.GetUint64(record[0:8])
	bytes := flowtable.GetUint64(record[8:16])
	flowtable.PutUint64(record[0:8], pkts+1)
	flowtable.PutUint64(record[8:16], bytes+uint64(p.WireLen))
	return flowtable.UpdateOK
}

func (m *Module) Export(ex []byte, x []byte, isNew bool) {
	flowtable.PutUint64(ex[0:8], flowtable.GetUint64(ex[0:8])+flowtable.GetUint64(x[0:8]))
	flowtable.PutUint64(ex[8:16], flowtable.GetUint64(ex[8:16])+flowtable.GetUint64(x[8:16]))
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
		return nil, 0, fmt.Errorf("counter: short record: need %d bytes, got %d", recordSize, len(data))
	}
	return append([]byte(nil), data[:recordSize]...), recordSize, nil
}

func (m *Module) Print(record []byte) string {
	if len(record) < recordSize {
		return "<corrupt counter record>"
	}
	pkts := binary.BigEndian.Uint64(record[0:8])
	bytes := binary.BigEndian.Uint64(record[8:16])
	return fmt.Sprintf("pkts=%d bytes=%d", pkts, bytes)
}
