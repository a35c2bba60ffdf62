// Package utils holds small helpers shared by the router's packages:
// identifier generation and retry with exponential backoff.
package utils

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// GenerateRequestID returns a new request ID in the form "req-<uuid>"
func GenerateRequestID() string {
	return "req-" + uuid.NewString()
}

// GenerateEndpointID returns an endpoint ID for version, e.g. "v2-ckx3...".
// Endpoints registered without an explicit ID get one of these.
func GenerateEndpointID(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return cuid.New()
	}
	return version + "-" + cuid.New()
}
