package controllers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/keywatch/internal/runtime"
	"github.com/rzbill/keywatch/pkg/log"
)

// GeneralController serves health, metrics and the removal event feed.
type GeneralController struct {
	rt      *runtime.Runtime
	metrics http.Handler
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, logger log.Logger) *GeneralController {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	return &GeneralController{
		rt: rt,
		metrics: promhttp.HandlerFor(rt.Metrics(), promhttp.HandlerOpts{
			ErrorLog:      log.ToStdLogger(logger.WithComponent("metrics")),
			ErrorHandling: promhttp.ContinueOnError,
		}),
	}
}

// RegisterRoutes registers:
// - Health checks (/v1/healthz)
// - Prometheus metrics (/metrics)
// - Removal events over websocket (/v1/events)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/metrics", c.handleMetrics)
	mux.Handle("/v1/events", c.rt.Hub())
}

// handleHealth returns 200 OK with {"status": "ok"} if the store answers,
// 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	c.metrics.ServeHTTP(w, r)
}
