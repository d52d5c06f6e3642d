// Package supervisor owns one como process tree: it builds Storage,
// Export, and Capture in that order (§4.8) and wires the ambient
// stack (metrics, tracing, resource monitoring, config hot-reload)
// around them, modeling the original fork hierarchy as goroutines
// connected by direct handoff calls rather than fork(2) + IPC (see
// DESIGN.md for that substitution's rationale).
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/internal/applog"
	"github.com/como-project/como/internal/capture"
	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/internal/export"
	"github.com/como-project/como/internal/modules/counter"
	"github.com/como-project/como/internal/modules/topn"
	"github.com/como-project/como/pkg/comotrace"
	"github.com/como-project/como/pkg/flowtable"
	"github.com/como-project/como/pkg/reload"
	"github.com/como-project/como/pkg/resourcemon"
	"github.com/como-project/como/pkg/shmem"
	"github.com/como-project/como/pkg/sniffer"
	"github.com/como-project/como/pkg/sniffer/pcapfile"
)

// Supervisor is the root object of one como process: it owns the
// configuration, every long-lived component, and the respawn policy
// for Storage (the one component whose failure doesn't have to be
// fatal to the whole tree, per §4.8).
type Supervisor struct {
	cfg    *config.Config
	logger *logrus.Logger

	storage *respawningStorage
	exp     *export.Export
	cap     *capture.Capture
	arena   *shmem.Arena
	modules []flowtable.Module

	metricsServer *comometrics.Server
	tracer        *comotrace.Provider
	resmon        *resourcemon.Monitor
	reloader      *reload.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component of the process tree but does not start
// any of them; call Run to do that.
func New(cfg *config.Config, configFile string) (*Supervisor, error) {
	logger := applog.New(cfg.Log.Level, cfg.Log.Format, "supervisor")

	s := &Supervisor{cfg: cfg, logger: logger}

	tracer, err := comotrace.New(comotrace.Config{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
		Endpoint: cfg.Tracing.Endpoint,
	}, "supervisor", logger.WithField("component", "supervisor"))
	if err != nil {
		return nil, fmt.Errorf("supervisor: building tracer: %w", err)
	}
	s.tracer = tracer

	st, err := newRespawningStorage(cfg.Storage, cfg.Supervisor, logger.WithField("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("supervisor: building storage: %w", err)
	}
	s.storage = st

	modules, err := buildModules(cfg.Modules)
	if err != nil {
		return nil, fmt.Errorf("supervisor: building modules: %w", err)
	}
	s.modules = modules

	s.exp = export.New(modules, int(cfg.Memory.SizeBytes)/len(modulesOrOne(modules)), s.storage,
		logger.WithField("component", "export"))

	s.arena = shmem.NewArena(int(cfg.Memory.SizeBytes), cfg.Memory.Debug)

	bindings := make([]*capture.ModuleBinding, 0, len(modules))
	for i, m := range modules {
		mc := cfg.Modules[i]
		var sampler *capture.Sampler
		if mc.SampleRate > 1 {
			sampler = capture.NewSampler(mc.SampleRate, time.Now().UnixNano())
		}
		bindings = append(bindings, &capture.ModuleBinding{
			Module:        m,
			Table:         flowtable.NewTable(m, s.arena, m.CaptureRecordSize()),
			Sampler:       sampler,
			FlushInterval: time.Duration(mc.FlushIntervalSeconds) * time.Second,
		})
	}

	rt := sniffer.NewRuntime()
	if err := addSniffers(rt, cfg.Sniffers); err != nil {
		return nil, fmt.Errorf("supervisor: building sniffers: %w", err)
	}

	s.cap = capture.New(capture.Config{}, rt, bindings, s.tracer,
		logger.WithField("component", "capture"), s.exp.Consume)

	if cfg.Metrics.Enabled {
		s.metricsServer = comometrics.NewServer(cfg.Metrics.Bind, s, logger.WithField("component", "metrics"))
	}

	s.resmon = resourcemon.New(5*time.Second, s.arena, logger.WithField("component", "resourcemon"))

	if cfg.Reload.Enabled && configFile != "" {
		s.reloader = reload.New(configFile, 0, cfg, logger.WithField("component", "reload"), s.applyReload)
	}

	return s, nil
}

func modulesOrOne(modules []flowtable.Module) []flowtable.Module {
	if len(modules) == 0 {
		return []flowtable.Module{nil}
	}
	return modules
}

// buildModules resolves each configured module name against the
// registry of reference modules, the way the teacher's initialization
// resolves configured sink/monitor names (§6 module registration).
func buildModules(cfgs []config.ModuleConfig) ([]flowtable.Module, error) {
	modules := make([]flowtable.Module, 0, len(cfgs))
	for _, mc := range cfgs {
		var m flowtable.Module
		switch mc.Name {
		case "counter":
			m = counter.New()
		case "topn":
			m = topn.New(2)
		default:
			return nil, fmt.Errorf("supervisor: unknown module %q", mc.Name)
		}
		if err := m.Init([]byte(mc.RawConfig)); err != nil {
			return nil, fmt.Errorf("supervisor: initializing module %q: %w", mc.Name, err)
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// addSniffers builds and registers each configured sniffer; "generator"
// is the synthetic load source, "pcapfile" replays a savefile (§4.4).
func addSniffers(rt *sniffer.Runtime, cfgs []config.SnifferConfig) error {
	for _, sc := range cfgs {
		var s sniffer.Sniffer
		switch sc.Kind {
		case "generator":
			rate := atoiDefault(sc.Args["rate"], 100)
			size := atoiDefault(sc.Args["size"], 512)
			udpEvery := atoiDefault(sc.Args["udp_every"], 4)
			s = sniffer.NewGenerator(rate, size, 10*time.Millisecond, udpEvery)
		case "pcapfile":
			ps, err := pcapfile.New(sc.Args["path"])
			if err != nil {
				return fmt.Errorf("sniffer %q: %w", sc.Name, err)
			}
			s = ps
		default:
			return fmt.Errorf("sniffer %q: unknown kind %q", sc.Name, sc.Kind)
		}
		// Each concrete sniffer's Start sets its own required Mode
		// (Generator and pcapfile are both poll-only); sc.Mode documents
		// the config author's intent but does not override that.
		src := &sniffer.Source{Name: sc.Name}
		if _, err := rt.Add(s, src); err != nil {
			return fmt.Errorf("sniffer %q: %w", sc.Name, err)
		}
	}
	return nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}

// Run starts every component and blocks until ctx is cancelled or a
// termination signal arrives, then shuts everything down in reverse
// start order (Capture -> Export -> Storage), §4.8's "Capture/Export
// failure is fatal for the process tree" honored simply by Run
// returning once Capture's loop exits.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.metricsServer != nil {
		s.metricsServer.Start()
	}
	if s.resmon != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.resmon.Run(ctx) }()
	}
	if s.reloader != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.reloader.Run(ctx); err != nil {
				s.logger.WithError(err).Warn("supervisor: config watcher exited")
			}
		}()
	}

	s.logger.Info("como supervisor starting: storage -> export -> capture")

	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		s.cap.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		s.logger.WithField("signal", sig.String()).Info("supervisor: shutdown signal received")
		cancel()
	case <-captureDone:
		s.logger.Warn("supervisor: capture loop exited on its own; shutting down")
		cancel()
	}

	<-captureDone
	if s.metricsServer != nil {
		if err := s.metricsServer.Close(); err != nil {
			s.logger.WithError(err).Warn("supervisor: metrics server close failed")
		}
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(context.Background()); err != nil {
			s.logger.WithError(err).Warn("supervisor: tracer shutdown failed")
		}
	}
	if err := s.storage.Close(); err != nil {
		s.logger.WithError(err).Warn("supervisor: storage close failed")
	}
	s.wg.Wait()

	s.logger.Info("como supervisor stopped")
	return nil
}

// applyReload is the reload.Watcher's onReload callback: config.Reloadable
// already rejected anything beyond ambient fields before this is called,
// so here it's just a matter of re-leveling the logger.
func (s *Supervisor) applyReload(next *config.Config) {
	level, err := logrus.ParseLevel(next.Log.Level)
	if err == nil {
		s.logger.SetLevel(level)
	}
	s.cfg = next
	s.logger.WithField("level", next.Log.Level).Info("supervisor: applied config reload")
}

// Status implements comometrics.StatusProvider.
func (s *Supervisor) Status() map[string]interface{} {
	status := map[string]interface{}{
		"modules": moduleNames(s.modules),
	}
	if s.storage != nil {
		status["storage"] = s.storage.Status()
	}
	if s.resmon != nil {
		last := s.resmon.Last()
		status["resources"] = map[string]interface{}{
			"cpu_percent":    last.CPUPercent,
			"arena_pressure": last.ArenaPressure(),
		}
	}
	status["storage_respawns"] = s.storage.RespawnCount()
	return status
}

func moduleNames(modules []flowtable.Module) []string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name()
	}
	return names
}
