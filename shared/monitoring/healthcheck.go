package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthServer struct {
	monitor  *Monitor
	gatherer prometheus.Gatherer
}

func NewHealthServer(monitor *Monitor, gatherer prometheus.Gatherer) *HealthServer {
	return &HealthServer{
		monitor:  monitor,
		gatherer: gatherer,
	}
}

// Register mounts /health, /status and, when a gatherer is set, /metrics.
func (h *HealthServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.healthHandler)
	mux.HandleFunc("GET /status", h.statusHandler)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if h.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.GetStatusSummary())
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", h.monitor.GetStatusSummary())
	}
}

type statusResponse struct {
	Healthy bool        `json:"healthy"`
	Summary string      `json:"summary"`
	Runs    []RunStatus `json:"runs"`
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(statusResponse{
		Healthy: h.monitor.IsHealthy(),
		Summary: h.monitor.GetStatusSummary(),
		Runs:    h.monitor.Runs(),
	})
}
