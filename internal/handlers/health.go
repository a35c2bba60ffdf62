package handlers

import (
	"net/http"
	"time"
)

// HealthCheck reports liveness and the active configuration version. It
// answers 503 until a routing document has been applied.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	status := http.StatusOK

	if snap := h.store.Current(); snap != nil {
		body["config_version"] = snap.Version
	} else {
		body["status"] = "no_config"
		status = http.StatusServiceUnavailable
	}
	body["endpoints"] = h.tracker.Snapshot().Size()
	if h.stats != nil {
		body["sinks"] = h.stats.Stats()
	}

	writeJSON(w, status, body)
}
