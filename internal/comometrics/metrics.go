// Package comometrics exposes the Prometheus counters every component
// increments plus the `/metrics` and `/status` HTTP endpoints the
// Supervisor's inline status queries (§4.8) front.
package comometrics

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var registerOnce sync.Once

var (
	PacketsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "como_packets_dropped_total",
		Help: "Packets dropped, by reason (capacity, corrupt, filter, backpressure)",
	}, []string{"reason"})

	PacketsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "como_packets_delivered_total",
		Help: "Packets delivered to a module's update callback",
	}, []string{"module"})

	BatchesClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "como_batches_closed_total",
		Help: "Capture batches closed and handed to Export",
	})

	SegmentsRotatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "como_segments_rotated_total",
		Help: "Storage segments sealed and rotated",
	})

	IPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "como_ipc_errors_total",
		Help: "IPC bus errors, by peer class and severity",
	}, []string{"peer_class", "severity"})

	ArenaInUseBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "como_arena_in_use_bytes",
		Help: "Shared arena bytes currently allocated, by process role",
	}, []string{"role"})

	ModulesDisabledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "como_modules_disabled_total",
		Help: "Modules flipped to disabled after a per-module error",
	}, []string{"module"})

	ChildRespawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "como_child_respawns_total",
		Help: "Supervisor-initiated respawns, by child role",
	}, []string{"role"})
)

func registerAll() {
	for _, c := range []prometheus.Collector{
		PacketsDroppedTotal, PacketsDeliveredTotal, BatchesClosedTotal,
		SegmentsRotatedTotal, IPCErrorsTotal, ArenaInUseBytes,
		ModulesDisabledTotal, ChildRespawnsTotal,
	} {
		if err := prometheus.Register(c); err != nil {
			if _, already := err.(prometheus.AlreadyRegisteredError); !already {
				panic(err)
			}
		}
	}
}

// StatusProvider is implemented by the Supervisor to answer the
// `/status` endpoint without comometrics importing internal/supervisor.
type StatusProvider interface {
	Status() map[string]interface{}
}

// Server is the HTTP front for metrics and inline status queries.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewServer builds a Server bound to addr, serving Prometheus metrics
// at /metrics and status (via provider, which may be nil until the
// Supervisor has finished starting its children) at /status.
func NewServer(addr string, provider StatusProvider, logger *logrus.Entry) *Server {
	registerOnce.Do(registerAll)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if provider == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(provider.Status())
	}).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		logger:     logger,
	}
}

// Start begins serving in the background; errors after a clean Close
// are swallowed, matching http.Server's documented shutdown contract.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server exited")
		}
	}()
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
