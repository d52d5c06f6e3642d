// Package reload watches the config file for changes to ambient-only
// settings (log level/format, metrics/query bind addresses). Module
// registration, sniffer lists, and memory sizing are fixed at process
// start (§1 non-goals: "no dynamic module reloading at runtime"); a
// reload that touches those fields is rejected rather than applied.
package reload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/config"
)

// Watcher watches configFile and calls onReload with the newly loaded
// config whenever it changes in a way config.Reloadable accepts.
type Watcher struct {
	configFile string
	debounce   time.Duration
	logger     *logrus.Entry
	onReload   func(*config.Config)

	mu      sync.Mutex
	current *config.Config

	stats Stats
}

// Stats tracks reload attempts for the status endpoint.
type Stats struct {
	Attempts  int64
	Applied   int64
	Rejected  int64
	LastError string
}

// New builds a Watcher seeded with the currently active config.
func New(configFile string, debounce time.Duration, current *config.Config, logger *logrus.Entry, onReload func(*config.Config)) *Watcher {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{configFile: configFile, debounce: debounce, logger: logger, onReload: onReload, current: current}
}

// Run watches until ctx is cancelled. Events within debounce of one
// another are coalesced, matching editors that write-then-rename on save.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("reload: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.configFile); err != nil {
		return fmt.Errorf("reload: watch %s: %w", w.configFile, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("config watcher error")
		case <-timerC:
			timerC = nil
			w.attemptReload()
		}
	}
}

func (w *Watcher) attemptReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.Attempts++

	next, err := config.Load(w.configFile)
	if err != nil {
		w.stats.Rejected++
		w.stats.LastError = err.Error()
		w.logger.WithError(err).Warn("config reload failed validation")
		return
	}

	if !config.Reloadable(w.current, next) {
		w.stats.Rejected++
		w.stats.LastError = "reload touches fixed-at-start fields (modules/sniffers/memory/storage)"
		w.logger.Warn("rejected config reload: touches non-reloadable fields")
		return
	}

	w.current = next
	w.stats.Applied++
	w.logger.Info("applied config reload")
	w.onReload(next)
}

// Stats returns a snapshot of the reload counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
