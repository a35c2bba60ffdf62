package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/pool"
)

const testDocument = `
rules:
  - {name: beta, kind: path, prefix: /beta, version: v2}
  - {name: default, kind: default, version: v1}
split:
  weights: [{version: v1, weight: 100}]
versions:
  v1:
    endpoints:
      - {id: v1-a, address: "127.0.0.1:9001"}
  v2:
    lb: least_connections
    endpoints: []
`

type fakePusher struct {
	pushed [][]byte
	err    error
}

func (f *fakePusher) Push(_ context.Context, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, data)
	return nil
}

func newTestHandlers(t *testing.T, apply bool, opts ...Option) (*Handlers, *config.Store, *pool.Tracker) {
	t.Helper()
	store := config.NewStore(config.WithStoreLogger(logging.NewNopLogger()))
	tracker := pool.NewTracker(pool.WithTrackerLogger(logging.NewNopLogger()))
	if apply {
		snap, err := store.ApplyBytes([]byte(testDocument), "test")
		require.NoError(t, err)
		_, _, err = tracker.Reconcile(snap.Registrations())
		require.NoError(t, err)
	}
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	return New(store, tracker, opts...), store, tracker
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "no error object in %s", rec.Body.String())
	return e["type"].(string)
}

func TestHealthCheck(t *testing.T) {
	t.Run("no configuration", func(t *testing.T) {
		h, _, _ := newTestHandlers(t, false)
		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "no_config", decode(t, rec)["status"])
	})

	t.Run("configured", func(t *testing.T) {
		h, _, _ := newTestHandlers(t, true)
		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(1), body["config_version"])
		assert.Equal(t, float64(1), body["endpoints"])
	})
}

func TestGetConfig(t *testing.T) {
	h, _, _ := newTestHandlers(t, false)
	rec := httptest.NewRecorder()
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h, _, _ = newTestHandlers(t, true)
	rec = httptest.NewRecorder()
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, "test", body["source"])
	assert.NotNil(t, body["document"])
}

func TestPutConfig(t *testing.T) {
	pusher := &fakePusher{}
	h, store, _ := newTestHandlers(t, true, WithPusher(pusher))

	updated := strings.Replace(testDocument, "weight: 100", "weight: 60", 1)
	rec := httptest.NewRecorder()
	h.PutConfig(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(updated)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["version"])
	assert.Equal(t, uint64(2), store.Current().Version)
	assert.Equal(t, "api", store.Current().Source)
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, updated, string(pusher.pushed[0]))

	// weights over 100 are rejected and version 2 keeps serving
	invalid := strings.Replace(testDocument, "weight: 100", "weight: 101", 1)
	rec = httptest.NewRecorder()
	h.PutConfig(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(invalid)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "config", errorType(t, rec))
	assert.Equal(t, uint64(2), store.Current().Version)
	assert.Len(t, pusher.pushed, 1)
}

func TestPutConfig_PushFailure(t *testing.T) {
	h, store, _ := newTestHandlers(t, true, WithPusher(&fakePusher{err: assert.AnError}))

	updated := strings.Replace(testDocument, "weight: 100", "weight: 60", 1)
	rec := httptest.NewRecorder()
	h.PutConfig(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(updated)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connection", errorType(t, rec))
	assert.Equal(t, uint64(2), store.Current().Version, "applied locally")
}

func TestRegisterAndDeregisterEndpoint(t *testing.T) {
	h, _, tracker := newTestHandlers(t, true)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"registers with id", `{"id":"v2-a","version":"v2","address":"127.0.0.1:9101"}`, http.StatusCreated},
		{"generates id", `{"version":"v2","address":"127.0.0.1:9102"}`, http.StatusCreated},
		{"duplicate id", `{"id":"v2-a","version":"v2","address":"127.0.0.1:9103"}`, http.StatusConflict},
		{"unknown version", `{"version":"v9","address":"127.0.0.1:9104"}`, http.StatusBadRequest},
		{"bad address", `{"version":"v2","address":"not an address"}`, http.StatusBadRequest},
		{"missing version", `{"address":"127.0.0.1:9105"}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.RegisterEndpoint(rec, httptest.NewRequest(http.MethodPost, "/api/endpoints", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	serving := tracker.Serving("v2")
	require.Len(t, serving, 2)
	assert.Equal(t, "v2-a", serving[0].ID)
	assert.Equal(t, pool.OriginAPI, serving[0].Origin)
	assert.True(t, strings.HasPrefix(serving[1].ID, "v2-"))

	del := func(id string) int {
		r := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/api/endpoints/"+id, nil), map[string]string{"id": id})
		rec := httptest.NewRecorder()
		h.DeregisterEndpoint(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, del("v2-a"))
	assert.Equal(t, http.StatusNotFound, del("v2-a"))
	assert.Len(t, tracker.Serving("v2"), 1)
}

func TestGetPool(t *testing.T) {
	h, _, _ := newTestHandlers(t, true)
	rec := httptest.NewRecorder()
	h.GetPool(rec, httptest.NewRequest(http.MethodGet, "/api/pool", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	versions := body["pool"].(map[string]interface{})["versions"].(map[string]interface{})
	v1 := versions["v1"].([]interface{})
	require.Len(t, v1, 1)

	ep := v1[0].(map[string]interface{})
	assert.Equal(t, "v1-a", ep["id"])
	assert.Equal(t, "healthy", ep["health"])
	assert.Equal(t, "closed", ep["breaker"])
	assert.Equal(t, "config", ep["origin"])

	policy := ep["policy"].(map[string]interface{})
	assert.Equal(t, float64(5), policy["threshold"])
	assert.Equal(t, "30s", policy["ejection_duration"])
	assert.Equal(t, float64(50), policy["max_ejection_percent"])
}

func TestResolve(t *testing.T) {
	h, _, _ := newTestHandlers(t, true)

	tests := []struct {
		name        string
		target      string
		wantVersion string
		wantKind    string
	}{
		{"path rule", "/api/resolve?path=/beta/x", "v2", "path"},
		{"split", "/api/resolve?path=/orders", "v1", "split"},
		{"no path", "/api/resolve", "v1", "split"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Resolve(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			res := decode(t, rec)["resolution"].(map[string]interface{})
			assert.Equal(t, tt.wantVersion, res["version"])
			assert.Equal(t, tt.wantKind, res["kind"])
		})
	}

	empty, _, _ := newTestHandlers(t, false)
	rec := httptest.NewRecorder()
	empty.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/resolve", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
