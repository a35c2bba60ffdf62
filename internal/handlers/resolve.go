package handlers

import (
	"net/http"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/dispatch"
	"traffic-router/internal/routing"
)

// Resolve reports which version a request with the caller's headers and the
// given ?path= would be routed to. It draws from the split but never pins a
// sticky session and never touches the pool.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Current()
	if snap == nil {
		h.writeError(w, r, errors.NotFoundError("routing configuration"))
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	res := dispatch.Resolve(snap, routing.Request{Path: path, Header: r.Header})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":           path,
		"resolution":     res,
		"config_version": snap.Version,
		"serving":        len(h.tracker.Serving(res.Version)),
	})
}
