package storage

import (
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/config"
)

// sealedSegment is one compaction job: a segment that has just rotated
// out of active writing.
type sealedSegment struct {
	stream string
	index  int
	path   string
	sealed time.Time
}

// compactor gzip-compresses sealed segments older than MinSegAge in
// the background, replacing "seg-NNNNNNNN.como" with
// "seg-NNNNNNNN.como.gz" and removing the uncompressed original. Reads
// of a compacted segment (Storage.Read) are expected to go through the
// query path, which is out of scope for compaction itself — compaction
// only runs after a segment will no longer be appended to.
type compactor struct {
	cfg    config.StorageConfig
	logger *logrus.Entry
	queue  chan sealedSegment
	done   chan struct{}
}

func newCompactor(cfg config.StorageConfig, logger *logrus.Entry) *compactor {
	c := &compactor{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan sealedSegment, 256),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *compactor) Enqueue(stream string, index int, path string) {
	select {
	case c.queue <- sealedSegment{stream: stream, index: index, path: path, sealed: time.Now()}:
	default:
		c.logger.WithField("stream", stream).Warn("storage: compaction queue full, dropping job")
	}
}

func (c *compactor) run() {
	minAge := c.cfg.Compaction.MinSegAge
	for {
		select {
		case <-c.done:
			return
		case job := <-c.queue:
			if age := time.Since(job.sealed); age < minAge {
				time.Sleep(minAge - age)
			}
			if err := c.compactOne(job); err != nil {
				c.logger.WithError(err).WithField("path", job.path).Warn("storage: compaction failed")
			}
		}
	}
}

func (c *compactor) compactOne(job sealedSegment) error {
	src, err := os.Open(job.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // already compacted or removed
		}
		return err
	}
	defer src.Close()

	dstPath := job.path + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(job.path)
}

func (c *compactor) Close() {
	close(c.done)
}
