// Package flowtable implements the module-owned flow record storage
// used by Capture and Export (§3, §4.5, §4.6), plus the module callback
// contract itself (§6).
package flowtable

import (
	"github.com/como-project/como/pkg/comopkt"
)

// Status is a module's lifecycle state (§3).
type Status int

const (
	StatusUnused Status = iota
	StatusLoading
	StatusActive
	StatusDisabled
)

// UpdateOutcome reports what Update decided about a record.
type UpdateOutcome int

const (
	UpdateOK UpdateOutcome = iota
	// UpdateFull signals the record is complete and should be flushed
	// immediately rather than waiting for the next interval boundary.
	UpdateFull
)

// Action is the bitmask Action returns per export-side record (§4.6).
type Action int

const (
	ActionStore   Action = 1 << iota // record must be serialized and appended
	ActionDiscard                    // drop the record without storing
	ActionStop                       // stop walking further records this pass
)

// Module is the required half of the callback contract (§6): every
// module must implement these. Optional callbacks (Checker, EMatcher,
// Comparer, Actioner, Replayer, FlexibleFlusher) are detected via type
// assertion, following Go's "accept small interfaces" idiom rather than
// one large struct of function pointers with nil checks.
type Module interface {
	// Name identifies the module. The interface carries no numeric ID,
	// and none is assigned at registration.
	Name() string

	// CaptureRecordSize/ExportRecordSize are the fixed sizes the core
	// allocates capture-side and export-side records at.
	CaptureRecordSize() int
	ExportRecordSize() int

	// Init validates and stores the module's private configuration.
	Init(config []byte) error

	// Hash computes the flow-table bucket key for a packet.
	Hash(p *comopkt.Packet) uint64

	// Match resolves a hash bucket collision: true means record belongs
	// to the same flow as p.
	Match(p *comopkt.Packet, record []byte) bool

	// Update mutates record (freshly zeroed when isNew) with p's
	// contribution to the flow. UpdateFull requests an immediate flush.
	Update(p *comopkt.Packet, record []byte, isNew bool) UpdateOutcome

	// Store serializes ex into buf, returning the byte count written,
	// or a negative value on failure (§4.6 Failure). The output must
	// be self-describing since the core imposes no record framing
	// (§6, On-disk stream layout).
	Store(ex []byte, buf []byte) int

	// Load is Store's inverse, used by Query's replay/print path. It
	// returns the decoded record and the number of input bytes consumed.
	Load(data []byte) (record []byte, consumed int, err error)

	// Print renders a decoded record for a historical query response.
	Print(record []byte) string

	// Export merges a capture-side record x into an export-side record
	// ex (freshly zeroed when isNew).
	Export(ex []byte, x []byte, isNew bool)
}

// Checker is the optional early-reject hook (§4.5 step 2).
type Checker interface {
	Check(p *comopkt.Packet) bool
}

// EMatcher is the optional export-side matcher (§4.6 step 1): given a
// capture-side record x and the export table, return the export-side
// record it should merge into. Modules without EMatcher merge into the
// first export-side record with the same Hash as the capture-side
// record; Match is not consulted on the export side.
type EMatcher interface {
	EMatch(x []byte, exCandidates [][]byte) (index int, found bool)
}

// Actioner is the optional per-record export decision (§4.6 step 2).
// Modules without Actioner always get ActionStore.
type Actioner interface {
	Action(ex []byte, now comopkt.Timestamp) Action
}

// FlexibleFlusher marks a module whose Actioner may be invoked out of
// interval order on any record (§4.6); absent, Action sees records in
// insertion order.
type FlexibleFlusher interface {
	HasFlexibleFlush() bool
}

// Replayer is the optional hook Query uses to stream a record back out
// in its original shape rather than just Print's text rendering.
type Replayer interface {
	Replay(record []byte) []byte
}

// Comparer orders two decoded records, used by modules like top-N that
// must rank records before truncating (e.g. during Action/Store).
type Comparer interface {
	Compare(a, b []byte) int
}
