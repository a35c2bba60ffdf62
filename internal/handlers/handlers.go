// Package handlers implements the admin API: configuration push and
// inspection, pool inspection, endpoint registration and dry-run resolution.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/events"
	"traffic-router/internal/pool"
)

// maxDocumentBytes bounds PUT /api/config bodies
const maxDocumentBytes = 1 << 20

// Pusher publishes an accepted document to other router instances
type Pusher interface {
	Push(ctx context.Context, data []byte) error
}

// Stats reports delivery counters of the outcome stream
type Stats interface {
	Stats() map[string]events.SinkStats
}

// Handlers serves the admin API
type Handlers struct {
	store   *config.Store
	tracker *pool.Tracker
	pusher  Pusher
	stats   Stats
	started time.Time
	logger  logging.Logger
}

// Option configures Handlers
type Option func(*Handlers)

// WithPusher forwards accepted documents, e.g. to the Redis config channel
func WithPusher(p Pusher) Option {
	return func(h *Handlers) { h.pusher = p }
}

// WithStats exposes sink counters on /health
func WithStats(s Stats) Option {
	return func(h *Handlers) { h.stats = s }
}

// WithLogger sets the handlers' logger
func WithLogger(l logging.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// New creates the admin handlers
func New(store *config.Store, tracker *pool.Tracker, opts ...Option) *Handlers {
	h := &Handlers{
		store:   store,
		tracker: tracker,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.Component("admin")
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status by its AppError type
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsType(err, errors.ErrTypeConfig), errors.IsType(err, errors.ErrTypeValidation):
		status = http.StatusBadRequest
	case errors.IsType(err, errors.ErrTypeNotFound), stderrors.Is(err, pool.ErrEndpointNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, pool.ErrDuplicateEndpoint):
		status = http.StatusConflict
	case errors.IsType(err, errors.ErrTypeServiceUnavailable):
		status = http.StatusServiceUnavailable
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		if status == http.StatusInternalServerError {
			appErr = errors.InternalError("admin request failed", err)
		} else {
			appErr = &errors.AppError{Type: errors.ErrTypeValidation, Message: err.Error()}
			if status == http.StatusNotFound {
				appErr.Type = errors.ErrTypeNotFound
			}
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", err, logging.String("path", r.URL.Path))
	}
	writeJSON(w, status, map[string]*errors.AppError{"error": appErr})
}
