package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/circuitbreaker"
	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
)

var failFast = circuitbreaker.Policy{Threshold: 3, EjectionDuration: time.Minute, MaxEjectionPercent: 100}

func newTestTracker(opts ...TrackerOption) *Tracker {
	base := []TrackerOption{
		WithTrackerLogger(logging.NewNopLogger()),
		WithProber(ProberFunc(func(context.Context, Endpoint, string) error { return nil })),
	}
	return NewTracker(append(base, opts...)...)
}

func fail(id string) Result    { return Result{EndpointID: id, Success: false, Source: SourceRequest} }
func succeed(id string) Result { return Result{EndpointID: id, Success: true, Source: SourceRequest} }

func TestTracker_Register(t *testing.T) {
	tracker := newTestTracker()

	ep, err := tracker.Register(Endpoint{Version: "v1", Address: "10.0.0.1:8080"}, failFast)
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ID)
	assert.Equal(t, OriginAPI, ep.Origin)
	assert.Equal(t, Healthy, ep.Health)

	snap := tracker.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation)
	require.Len(t, snap.Serving("v1"), 1)
	assert.Equal(t, ep.ID, snap.Serving("v1")[0].ID)

	_, err = tracker.Register(Endpoint{ID: ep.ID, Version: "v1", Address: "10.0.0.2:8080"}, failFast)
	assert.ErrorIs(t, err, ErrDuplicateEndpoint)

	_, err = tracker.Register(Endpoint{Version: "v1"}, failFast)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = tracker.Register(Endpoint{Version: "v1", Address: "a:1"}, circuitbreaker.Policy{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestTracker_Deregister(t *testing.T) {
	tracker := newTestTracker()
	ep, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, failFast)
	require.NoError(t, err)

	require.NoError(t, tracker.Deregister(ep.ID))
	assert.Empty(t, tracker.Snapshot().Endpoints("v1"))
	assert.ErrorIs(t, tracker.Deregister(ep.ID), ErrEndpointNotFound)
	assert.Empty(t, tracker.GuardStats())
}

func TestTracker_Ingest(t *testing.T) {
	tracker := newTestTracker()
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, failFast)
	require.NoError(t, err)

	tracker.Ingest(fail("a"))
	ep, _ := tracker.Snapshot().Lookup("a")
	assert.Equal(t, Unhealthy, ep.Health)
	assert.Equal(t, 1, ep.ConsecutiveFailures)
	assert.True(t, ep.Serving())

	tracker.Ingest(succeed("a"))
	ep, _ = tracker.Snapshot().Lookup("a")
	assert.Equal(t, Healthy, ep.Health)
	assert.Equal(t, 0, ep.ConsecutiveFailures)

	for i := 0; i < 3; i++ {
		tracker.Ingest(fail("a"))
	}
	ep, _ = tracker.Snapshot().Lookup("a")
	assert.Equal(t, Ejected, ep.Health)
	assert.Equal(t, circuitbreaker.StateOpen, ep.Breaker)
	assert.False(t, ep.EjectedUntil.IsZero())
	assert.Empty(t, tracker.Serving("v1"))

	tracker.Ingest(Result{EndpointID: "unknown"})
}

func TestTracker_SnapshotIsImmutable(t *testing.T) {
	tracker := newTestTracker()
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, failFast)
	require.NoError(t, err)

	before := tracker.Snapshot()
	for i := 0; i < 3; i++ {
		tracker.Ingest(fail("a"))
	}

	ep, _ := before.Lookup("a")
	assert.Equal(t, Healthy, ep.Health)
	assert.Len(t, before.Serving("v1"), 1)
	assert.Greater(t, tracker.Snapshot().Generation, before.Generation)
}

func TestTracker_EjectionExpiry(t *testing.T) {
	tracker := newTestTracker()
	policy := circuitbreaker.Policy{Threshold: 2, EjectionDuration: 50 * time.Millisecond, MaxEjectionPercent: 100}
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, policy)
	require.NoError(t, err)

	tracker.Ingest(fail("a"))
	tracker.Ingest(fail("a"))
	require.Empty(t, tracker.Serving("v1"))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tracker.Serving("v1"), "ejection must last the full duration")

	require.Eventually(t, func() bool {
		ep, _ := tracker.Snapshot().Lookup("a")
		return ep.Breaker == circuitbreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, tracker.Serving("v1"), 1)

	tracker.Ingest(succeed("a"))
	ep, _ := tracker.Snapshot().Lookup("a")
	assert.Equal(t, circuitbreaker.StateClosed, ep.Breaker)
	assert.Equal(t, Healthy, ep.Health)
}

func TestTracker_GuardSuppressesEjection(t *testing.T) {
	tracker := newTestTracker()
	policy := circuitbreaker.Policy{Threshold: 3, EjectionDuration: time.Minute, MaxEjectionPercent: 50}
	for _, id := range []string{"a", "b"} {
		_, err := tracker.Register(Endpoint{ID: id, Version: "v1", Address: id + ":1"}, policy)
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		tracker.Ingest(fail("a"))
	}
	for i := 0; i < 5; i++ {
		tracker.Ingest(fail("b"))
	}

	serving := tracker.Serving("v1")
	require.Len(t, serving, 1)
	assert.Equal(t, "b", serving[0].ID)
	assert.Equal(t, Unhealthy, serving[0].Health)
	assert.Equal(t, circuitbreaker.GuardStats{Registered: 2, Ejected: 1}, tracker.GuardStats()["v1"])
}

func TestTracker_Acquire(t *testing.T) {
	tracker := newTestTracker()
	policy := circuitbreaker.Policy{Threshold: 1, EjectionDuration: 20 * time.Millisecond, MaxEjectionPercent: 100}
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, policy)
	require.NoError(t, err)

	t.Run("closed endpoints admit concurrent attempts", func(t *testing.T) {
		r1, err := tracker.Acquire("a")
		require.NoError(t, err)
		r2, err := tracker.Acquire("a")
		require.NoError(t, err)
		r1(Result{Success: true, Source: SourceRequest})
		r2(Result{Success: true, Source: SourceRequest})
	})

	t.Run("abandoned attempts are not counted", func(t *testing.T) {
		release, err := tracker.Acquire("a")
		require.NoError(t, err)
		release(Result{Abandoned: true})

		ep, _ := tracker.Snapshot().Lookup("a")
		assert.Equal(t, circuitbreaker.StateClosed, ep.Breaker)
		assert.Equal(t, 0, ep.ConsecutiveFailures)
	})

	t.Run("open endpoints refuse attempts", func(t *testing.T) {
		release, err := tracker.Acquire("a")
		require.NoError(t, err)
		release(Result{Success: false, Source: SourceRequest})

		_, err = tracker.Acquire("a")
		assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	})

	t.Run("half-open endpoints admit one attempt", func(t *testing.T) {
		time.Sleep(40 * time.Millisecond)

		release, err := tracker.Acquire("a")
		require.NoError(t, err)
		_, err = tracker.Acquire("a")
		assert.ErrorIs(t, err, circuitbreaker.ErrProbationBusy)

		release(Result{Success: true, Source: SourceRequest})
		ep, _ := tracker.Snapshot().Lookup("a")
		assert.Equal(t, circuitbreaker.StateClosed, ep.Breaker)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := tracker.Acquire("missing")
		assert.ErrorIs(t, err, ErrEndpointNotFound)
	})
}

func TestTracker_ProbeLoop(t *testing.T) {
	var healthy atomic.Bool
	var probes atomic.Int32
	prober := ProberFunc(func(ctx context.Context, ep Endpoint, path string) error {
		probes.Add(1)
		assert.Equal(t, "/healthz", path)
		if healthy.Load() {
			return nil
		}
		return errors.ProbeError(ep.Address, stderrors.New("connection refused"))
	})

	settings := ProbeSettings{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond, Path: "/healthz"}
	tracker := newTestTracker(WithProber(prober), WithProbeSettings(func() ProbeSettings { return settings }))
	policy := circuitbreaker.Policy{Threshold: 2, EjectionDuration: 30 * time.Millisecond, MaxEjectionPercent: 100}
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, policy)
	require.NoError(t, err)

	tracker.Start(context.Background())
	defer tracker.Stop()

	require.Eventually(t, func() bool {
		ep, _ := tracker.Snapshot().Lookup("a")
		return ep.Health == Ejected
	}, time.Second, 2*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		ep, _ := tracker.Snapshot().Lookup("a")
		return ep.Health == Healthy && ep.Breaker == circuitbreaker.StateClosed
	}, time.Second, 2*time.Millisecond)

	ep, _ := tracker.Snapshot().Lookup("a")
	assert.False(t, ep.LastProbe.IsZero())
	assert.Greater(t, probes.Load(), int32(2))
}

func TestTracker_ProbeStartsForLateRegistration(t *testing.T) {
	probed := make(chan string, 16)
	prober := ProberFunc(func(ctx context.Context, ep Endpoint, path string) error {
		select {
		case probed <- ep.ID:
		default:
		}
		return nil
	})
	tracker := newTestTracker(WithProber(prober), WithProbeSettings(func() ProbeSettings {
		return ProbeSettings{Interval: time.Hour, Timeout: time.Second, Path: "/health"}
	}))

	tracker.Start(context.Background())
	defer tracker.Stop()

	_, err := tracker.Register(Endpoint{ID: "late", Version: "v1", Address: "a:1"}, failFast)
	require.NoError(t, err)

	select {
	case id := <-probed:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("late registration was never probed")
	}
}

func TestTracker_EvictsPermanentlyUnhealthy(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, ep Endpoint, path string) error {
		return errors.ProbeError(ep.Address, stderrors.New("no route to host"))
	})
	tracker := newTestTracker(WithProber(prober), WithProbeSettings(func() ProbeSettings {
		return ProbeSettings{Interval: 2 * time.Millisecond, Timeout: 10 * time.Millisecond, Path: "/health", EvictAfter: 3}
	}))
	policy := circuitbreaker.Policy{Threshold: 10, EjectionDuration: time.Minute, MaxEjectionPercent: 100}
	_, err := tracker.Register(Endpoint{ID: "a", Version: "v1", Address: "a:1"}, policy)
	require.NoError(t, err)

	tracker.Start(context.Background())
	defer tracker.Stop()

	require.Eventually(t, func() bool {
		_, ok := tracker.Snapshot().Lookup("a")
		return !ok
	}, time.Second, 2*time.Millisecond)
}

func TestTracker_Reconcile(t *testing.T) {
	tracker := newTestTracker()
	_, err := tracker.Register(Endpoint{ID: "manual", Version: "v1", Address: "m:1"}, failFast)
	require.NoError(t, err)

	added, removed, err := tracker.Reconcile([]Registration{
		{Endpoint: Endpoint{Version: "v1", Address: "a:1"}, Policy: failFast},
		{Endpoint: Endpoint{ID: "b", Version: "v2", Address: "b:1"}, Policy: failFast},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 3, tracker.Snapshot().Size())

	added, removed, err = tracker.Reconcile([]Registration{
		{Endpoint: Endpoint{Version: "v1", Address: "a:1"}, Policy: failFast},
		{Endpoint: Endpoint{Version: "v2", Address: "c:1"}, Policy: failFast},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	snap := tracker.Snapshot()
	_, ok := snap.Lookup("manual")
	assert.True(t, ok, "api endpoints survive reconciliation")
	_, ok = snap.Lookup("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"v1", "v2"}, snap.VersionNames())

	_, _, err = tracker.Reconcile([]Registration{
		{Endpoint: Endpoint{Version: "v3", Address: "d:1"}, Policy: circuitbreaker.Policy{}},
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestTracker_ReconcileMovesEndpoint(t *testing.T) {
	tracker := newTestTracker()
	regs := func(version, address string) []Registration {
		return []Registration{{Endpoint: Endpoint{ID: "v1-a", Version: version, Address: address}, Policy: failFast}}
	}

	_, _, err := tracker.Reconcile(regs("v1", "10.0.0.1:80"))
	require.NoError(t, err)
	tracker.Ingest(fail("v1-a"))

	added, removed, err := tracker.Reconcile(regs("v1", "10.0.0.1:80"))
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, removed)
	ep, ok := tracker.Snapshot().Lookup("v1-a")
	require.True(t, ok)
	assert.Equal(t, 1, ep.ConsecutiveFailures, "unchanged endpoints keep their state")

	added, removed, err = tracker.Reconcile(regs("v1", "10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	ep, ok = tracker.Snapshot().Lookup("v1-a")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:80", ep.Address)
	assert.Equal(t, 0, ep.ConsecutiveFailures)

	added, removed, err = tracker.Reconcile(regs("v2", "10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	snap := tracker.Snapshot()
	assert.Empty(t, snap.Endpoints("v1"))
	require.Len(t, snap.Endpoints("v2"), 1)
	assert.Equal(t, "v1-a", snap.Endpoints("v2")[0].ID)
}

func TestTracker_ConcurrentReadsSeeConsistentSnapshots(t *testing.T) {
	tracker := newTestTracker()
	policy := circuitbreaker.Policy{Threshold: 2, EjectionDuration: 5 * time.Millisecond, MaxEjectionPercent: 100}
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := tracker.Register(Endpoint{ID: id, Version: "v1", Address: id + ":1"}, policy)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				tracker.Ingest(Result{EndpointID: id, Success: i%3 == 0, Source: SourceProbe})
			}
		}(id)
	}

	for ctx.Err() == nil {
		snap := tracker.Snapshot()
		endpoints := snap.Endpoints("v1")
		require.Len(t, endpoints, len(ids))
		for _, ep := range endpoints {
			assert.Equal(t, ep.Health == Ejected, ep.Breaker == circuitbreaker.StateOpen)
		}
	}
	wg.Wait()
}
