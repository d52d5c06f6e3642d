package supervisor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/internal/storage"
	"github.com/como-project/como/pkg/comoerr"
)

// respawningStorage wraps *storage.Storage as an export.Writer and
// reopens it on a Fatal-severity error, bounded by
// SupervisorConfig.RespawnMaxRetries within RespawnWindow (§4.8:
// "bounded-retry respawn for Storage"). A forked OS process would be
// replaced outright; here "respawn" means discarding the failed
// *storage.Storage and building a fresh one over the same basedir.
type respawningStorage struct {
	cfg     config.StorageConfig
	rcfg    config.SupervisorConfig
	logger  *logrus.Entry
	current *storage.Storage

	respawns []time.Time
}

func newRespawningStorage(cfg config.StorageConfig, rcfg config.SupervisorConfig, logger *logrus.Entry) (*respawningStorage, error) {
	st, err := storage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &respawningStorage{cfg: cfg, rcfg: rcfg, logger: logger, current: st}, nil
}

func (r *respawningStorage) Append(stream string, data []byte) error {
	err := r.current.Append(stream, data)
	if err == nil {
		return nil
	}
	if !comoerr.IsFatal(err) {
		return err
	}
	if respawnErr := r.respawn(); respawnErr != nil {
		r.logger.WithError(respawnErr).Error("supervisor: storage respawn exhausted, leaving storage degraded")
		return err
	}
	return r.current.Append(stream, data)
}

func (r *respawningStorage) respawn() error {
	now := time.Now()
	window := r.rcfg.RespawnWindow
	if window <= 0 {
		window = time.Minute
	}
	kept := r.respawns[:0]
	for _, t := range r.respawns {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	r.respawns = kept

	maxRetries := r.rcfg.RespawnMaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if len(r.respawns) >= maxRetries {
		return comoerr.New(comoerr.CodeChildCrashLooping, "supervisor", "respawn",
			"storage exceeded respawn budget within window", comoerr.SeverityFatal)
	}

	r.logger.Warn("supervisor: respawning storage after fatal error")
	next, err := storage.New(r.cfg, r.logger)
	if err != nil {
		return err
	}
	_ = r.current.Close()
	r.current = next
	r.respawns = append(r.respawns, now)
	comometrics.ChildRespawnsTotal.WithLabelValues("storage").Inc()
	return nil
}

func (r *respawningStorage) Status() map[string]interface{} {
	return r.current.Status()
}

// RespawnCount reports how many times Storage has been rebuilt within
// the current respawn window.
func (r *respawningStorage) RespawnCount() int {
	return len(r.respawns)
}

func (r *respawningStorage) Close() error {
	return r.current.Close()
}
