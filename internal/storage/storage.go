package storage

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/pkg/comoerr"
)

// Storage owns every module's stream and is the process that sits
// behind Export's Writer interface and the query path's read verbs
// (§4.7: OPEN, REGION/SEEK, INFORM, CLOSE).
type Storage struct {
	cfg     config.StorageConfig
	logger  *logrus.Entry
	notify  *kafkaNotifier
	compact *compactor

	mu      sync.RWMutex
	streams map[string]*stream
}

// New opens (or creates) the storage directory and, if configured,
// starts the Kafka commit-notification publisher and segment compactor.
func New(cfg config.StorageConfig, logger *logrus.Entry) (*Storage, error) {
	s := &Storage{cfg: cfg, logger: logger, streams: make(map[string]*stream)}

	if cfg.Kafka.Enabled {
		n, err := newKafkaNotifier(cfg.Kafka, logger.WithField("component", "storage.kafka"))
		if err != nil {
			return nil, err
		}
		s.notify = n
	}
	if cfg.Compaction.Enabled {
		s.compact = newCompactor(cfg, logger.WithField("component", "storage.compact"))
	}
	return s, nil
}

// stream returns the named stream's handle, opening it on first use
// (OPEN, §4.7).
func (s *Storage) stream(name string) (*stream, error) {
	s.mu.RLock()
	st, ok := s.streams[name]
	s.mu.RUnlock()
	if ok {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[name]; ok {
		return st, nil
	}
	st, err := openStream(s.cfg.BaseDir, name, s.cfg.SegmentSizeBytes)
	if err != nil {
		return nil, err
	}
	s.streams[name] = st
	return st, nil
}

// Append implements export.Writer: OPEN-if-needed, write, rotate on
// overflow, notify on seal.
func (s *Storage) Append(name string, data []byte) error {
	st, err := s.stream(name)
	if err != nil {
		return err
	}

	if err := st.acquireWriter(); err != nil {
		comometrics.IPCErrorsTotal.WithLabelValues("storage", string(comoerr.SeverityProtocol)).Inc()
		return err
	}
	defer st.releaseWriter()

	priorSegment := st.curIndex
	segIdx, _, err := st.Append(data)
	if err != nil {
		return err
	}

	if segIdx != priorSegment {
		comometrics.SegmentsRotatedTotal.Inc()
		sealedPath := segmentPath(s.cfg.BaseDir, name, priorSegment)
		if s.notify != nil {
			s.notify.NotifySealed(name, priorSegment, sealedPath)
		}
		if s.compact != nil {
			s.compact.Enqueue(name, priorSegment, sealedPath)
		}
	}
	return nil
}

// Read implements the REGION/SEEK verb pair: fetch one record by
// (stream, segment, offset).
func (s *Storage) Read(name string, segmentIndex int, offset int64) ([]byte, error) {
	st, err := s.stream(name)
	if err != nil {
		return nil, err
	}
	return st.Seek(segmentIndex, offset)
}

// Inform reports a stream's segment count, the INFORM verb used by a
// query client before it issues SEEK calls.
func (s *Storage) Inform(name string) (int, error) {
	st, err := s.stream(name)
	if err != nil {
		return 0, err
	}
	return st.SegmentCount(), nil
}

// Close shuts every open stream and any background notifier/compactor
// down (the CLOSE verb, process-wide).
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, st := range s.streams {
		if err := st.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.notify != nil {
		s.notify.Close()
	}
	if s.compact != nil {
		s.compact.Close()
	}
	return firstErr
}

// Status implements comometrics.StatusProvider.
func (s *Storage) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streams := make(map[string]int, len(s.streams))
	for name, st := range s.streams {
		streams[name] = st.SegmentCount()
	}
	return map[string]interface{}{
		"streams": streams,
	}
}
