// Package export implements the Export process (§4.6): consume a
// Capture batch snapshot, merge each capture-side record into its
// export-side record (ematch/export), decide its fate (action), and
// serialize kept records out to Storage.
package export

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/capture"
	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/shmem"
)

// Writer is what Export hands finished, serialized records to; Storage
// implements it over its OPEN/REGION IPC verbs.
type Writer interface {
	Append(stream string, data []byte) error
}

// exTable holds one module's export-side records across interval
// boundaries, keyed the same way Capture's flowtable.Table is.
type exTable struct {
	module  flowtable.Module
	arena   *shmem.Arena
	tracker *shmem.Tracker
	buckets map[uint64][]*flowtable.Entry
	order   []*flowtable.Entry // insertion order, consulted unless HasFlexibleFlush
}

// Export owns one exTable per module and the Writer records land on.
type Export struct {
	tables map[string]*exTable
	writer Writer
	logger *logrus.Entry
}

// New builds an Export stage for the given modules, each allocating its
// export-side records from its own arena (mirroring Capture's
// per-module allocation discipline, §4.1).
func New(modules []flowtable.Module, arenaSize int, writer Writer, logger *logrus.Entry) *Export {
	tables := make(map[string]*exTable, len(modules))
	for _, m := range modules {
		arena := shmem.NewArena(arenaSize, false)
		tables[m.Name()] = &exTable{
			module:  m,
			arena:   arena,
			tracker: shmem.NewTracker(arena, shmem.HoldInUse, m.ExportRecordSize()),
			buckets: make(map[uint64][]*flowtable.Entry),
		}
	}
	return &Export{tables: tables, writer: writer, logger: logger}
}

// Consume processes one capture.BatchReady: for each module snapshot,
// merge every capture-side record into the export-side table, then run
// Action/Store over the export table and release the capture snapshot
// back to its tracker (§4.6 step 3).
func (e *Export) Consume(batch capture.BatchReady) {
	for _, snap := range batch.Snapshots {
		t, ok := e.tables[snap.Module.Name()]
		if !ok {
			e.logger.WithField("module", snap.Module.Name()).Warn("export: snapshot for unregistered module")
			continue
		}
		for _, entry := range snap.Entries {
			t.merge(snap.Module, entry)
		}
		snap.Tracker.ReleaseAll()
	}

	for _, t := range e.tables {
		e.flush(t, batch.ClosedAt)
	}
}

func (t *exTable) merge(module flowtable.Module, x *flowtable.Entry) {
	var ex *flowtable.Entry
	var isNew bool

	if matcher, ok := module.(flowtable.EMatcher); ok {
		candidates := t.buckets[x.Hash]
		bufs := make([][]byte, len(candidates))
		for i, c := range candidates {
			bufs[i] = c.Block.Bytes()
		}
		if idx, found := matcher.EMatch(x.Block.Bytes(), bufs); found {
			ex = candidates[idx]
		}
	} else {
		for _, c := range t.buckets[x.Hash] {
			ex = c
			break
		}
	}

	if ex == nil {
		blk, err := t.tracker.Alloc(module.ExportRecordSize())
		if err != nil {
			comometrics.PacketsDroppedTotal.WithLabelValues("capacity").Inc()
			return
		}
		b := blk.Bytes()
		for i := range b {
			b[i] = 0
		}
		ex = &flowtable.Entry{Hash: x.Hash, Block: blk}
		t.buckets[x.Hash] = append(t.buckets[x.Hash], ex)
		t.order = append(t.order, ex)
		isNew = true
	}

	module.Export(ex.Block.Bytes(), x.Block.Bytes(), isNew)
}

func (e *Export) flush(t *exTable, now comopkt.Timestamp) {
	// t.order is insertion order unless the module both implements
	// Comparer and declares HasFlexibleFlush() true (§4.6): only then
	// is it sorted into Compare's order first, so its Actioner sees
	// candidates ranked best-first within whatever grouping Compare
	// encodes. A module without FlexibleFlusher always sees insertion
	// order, even if it happens to implement Comparer for other reasons.
	records := t.order
	if ff, ok := t.module.(flowtable.FlexibleFlusher); ok && ff.HasFlexibleFlush() {
		if cmp, ok := t.module.(flowtable.Comparer); ok {
			sort.SliceStable(records, func(i, j int) bool {
				return cmp.Compare(records[i].Block.Bytes(), records[j].Block.Bytes()) < 0
			})
		}
	}
	actioner, hasActioner := t.module.(flowtable.Actioner)

	kept := records[:0]
	for _, ex := range records {
		action := flowtable.ActionStore
		if hasActioner {
			action = actioner.Action(ex.Block.Bytes(), now)
		}

		if action&flowtable.ActionStore != 0 {
			e.store(t.module, ex)
		}
		if action&flowtable.ActionDiscard == 0 && action&flowtable.ActionStop == 0 {
			kept = append(kept, ex)
		}
		if action&flowtable.ActionStop != 0 {
			break
		}
	}

	t.order = kept
	t.rebuildBuckets()
}

func (t *exTable) rebuildBuckets() {
	buckets := make(map[uint64][]*flowtable.Entry, len(t.order))
	for _, e := range t.order {
		buckets[e.Hash] = append(buckets[e.Hash], e)
	}
	t.buckets = buckets
}

func (e *Export) store(module flowtable.Module, ex *flowtable.Entry) {
	buf := make([]byte, module.ExportRecordSize()*2)
	n := module.Store(ex.Block.Bytes(), buf)
	if n < 0 {
		comometrics.PacketsDroppedTotal.WithLabelValues("corrupt").Inc()
		return
	}
	if err := e.writer.Append(module.Name(), buf[:n]); err != nil {
		e.logger.WithError(err).WithField("module", module.Name()).Warn("export: store failed")
		comometrics.PacketsDroppedTotal.WithLabelValues("capacity").Inc()
	}
}
