// Package resourcemon samples system memory/CPU and the shared arena's
// current usage on an interval. The Supervisor reports the latest
// sample on its status endpoint; Capture does not consult it.
package resourcemon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Sample is one point-in-time resource reading.
type Sample struct {
	At            time.Time
	CPUPercent    float64
	MemUsedBytes  uint64
	MemAvailBytes uint64
	ArenaInUse    int
	ArenaSize     int
}

// ArenaStats is implemented by pkg/shmem.Arena.
type ArenaStats interface {
	InUse() int
	Size() int
}

// Monitor periodically samples resource usage and holds the most
// recent reading for the Supervisor's status endpoint to read without
// blocking on the sampling goroutine.
type Monitor struct {
	interval time.Duration
	arena    ArenaStats
	logger   *logrus.Entry

	mu   sync.RWMutex
	last Sample
}

// New builds a Monitor sampling every interval; arena may be nil if the
// caller (e.g. a query-only process) has none to report.
func New(interval time.Duration, arena ArenaStats, logger *logrus.Entry) *Monitor {
	return &Monitor{interval: interval, arena: arena, logger: logger}
}

// Run samples until ctx is cancelled. It is meant to run in its own
// goroutine, started once by the Supervisor.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	s := Sample{At: time.Now()}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	} else if err != nil {
		m.logger.WithError(err).Debug("cpu sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedBytes = vm.Used
		s.MemAvailBytes = vm.Available
	} else {
		m.logger.WithError(err).Debug("memory sample failed")
	}

	if m.arena != nil {
		s.ArenaInUse = m.arena.InUse()
		s.ArenaSize = m.arena.Size()
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// ArenaPressure reports the arena's current utilization fraction
// [0,1], as reported on the Supervisor's status endpoint.
func (s Sample) ArenaPressure() float64 {
	if s.ArenaSize == 0 {
		return 0
	}
	return float64(s.ArenaInUse) / float64(s.ArenaSize)
}
