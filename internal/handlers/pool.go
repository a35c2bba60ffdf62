package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/validation"
	"traffic-router/internal/pool"
)

// RegisterEndpointRequest is the body of POST /api/endpoints
type RegisterEndpointRequest struct {
	ID      string `json:"id,omitempty" validate:"omitempty,max=128"`
	Version string `json:"version" validate:"required"`
	Address string `json:"address" validate:"required,hostname_port"`
}

// GetPool returns the pool snapshot with per-version ejection counts
func (h *Handlers) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":      h.tracker.Snapshot(),
		"ejections": h.tracker.GuardStats(),
	})
}

// RegisterEndpoint adds an endpoint to a configured version. It is bound to
// the version's breaker policy and survives configuration reloads.
func (h *Handlers) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req RegisterEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.ValidationError("invalid JSON body"))
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	snap := h.store.Current()
	if snap == nil {
		h.writeError(w, r, errors.NotFoundError("routing configuration"))
		return
	}
	settings, ok := snap.Versions[req.Version]
	if !ok {
		h.writeError(w, r, errors.ValidationError("version "+req.Version+" is not configured"))
		return
	}

	ep, err := h.tracker.Register(pool.Endpoint{
		ID:      req.ID,
		Version: req.Version,
		Address: req.Address,
		Origin:  pool.OriginAPI,
	}, settings.Policy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

// DeregisterEndpoint removes an endpoint by ID
func (h *Handlers) DeregisterEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.tracker.Deregister(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
