package middleware

import (
	"net/http"
	"strings"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/common/utils"
)

// RequestIDHeader carries the request ID in and out
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID puts the inbound X-Request-ID, or a fresh one, on the request
// context and echoes it on the response. The header is also set on the
// request so backends receive it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLength {
			id = utils.GenerateRequestID()
		}

		r.Header.Set(RequestIDHeader, id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}
