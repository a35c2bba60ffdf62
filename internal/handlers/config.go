package handlers

import (
	"io"
	"net/http"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
)

// GetConfig returns the active snapshot: version, source, load time and
// the document as applied
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Current()
	if snap == nil {
		h.writeError(w, r, errors.NotFoundError("routing configuration"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PutConfig applies a YAML or JSON routing document. A rejected document
// leaves the active snapshot in place and answers 400 with the reason.
func (h *Handlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		h.writeError(w, r, errors.ValidationError("failed to read request body"))
		return
	}
	if len(data) > maxDocumentBytes {
		h.writeError(w, r, errors.ValidationError("routing document too large"))
		return
	}

	snap, err := h.store.ApplyBytes(data, "api")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.pusher != nil {
		if err := h.pusher.Push(r.Context(), data); err != nil {
			h.logger.Error("Failed to publish routing document", err,
				logging.Int64("version", int64(snap.Version)),
			)
			h.writeError(w, r, errors.ConnectionError("routing document applied locally but not published", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, snapshotSummary(snap))
}

func snapshotSummary(snap *config.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"version":   snap.Version,
		"source":    snap.Source,
		"checksum":  snap.Checksum,
		"loaded_at": snap.LoadedAt,
	}
}
