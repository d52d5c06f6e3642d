package flowtable

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/como-project/como/pkg/comopkt"
)

// HashFiveTuple is the default hash() helper offered to modules that
// key their flow table on the classic five-tuple (src/dst handled
// opaquely here via the raw L3/L4 header bytes, since CoMo's packet
// model does not parse addresses above the layer-tag/offset level).
// Modules needing field-level tuple hashing parse the header bytes
// themselves and call xxhash directly; this helper covers the common
// case of hashing the raw L3+L4 byte span as a flow key.
func HashFiveTuple(p *comopkt.Packet) uint64 {
	l3 := p.L3Bytes()
	if l3 == nil {
		return xxhash.Sum64(p.Payload)
	}
	end := len(l3)
	if l4 := p.L4Bytes(); l4 != nil {
		// Keep only the first 16 bytes of the transport header (ports +
		// sequence-ish fields), not the payload, so the hash is stable
		// across retransmissions and unrelated payload content.
		headerBytes := 16
		if len(l4) < headerBytes {
			headerBytes = len(l4)
		}
		end = len(p.Payload) - len(l4) + headerBytes - p.Layers.L3Off
	}
	if end > len(l3) || end < 0 {
		end = len(l3)
	}
	return xxhash.Sum64(l3[:end])
}

// PutUint64 is a small shared helper modules use when serializing
// fixed-width fields in Store.
func PutUint64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }

// GetUint64 is Store's serialization inverse for Load implementations.
func GetUint64(buf []byte) uint64 { return binary.BigEndian.Uint64(buf) }
