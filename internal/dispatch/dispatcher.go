// Package dispatch turns an inbound request into forwarding attempts: it
// resolves the target version from the routing rules and traffic split,
// picks endpoints from the pool snapshot, forwards with a per-attempt
// timeout and retries on untried endpoints.
package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"traffic-router/internal/common/errors"
	commonhttp "traffic-router/internal/common/http"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/common/utils"
	"traffic-router/internal/config"
	"traffic-router/internal/events"
	"traffic-router/internal/pool"
	"traffic-router/internal/routing"
)

var (
	// ErrNoConfig is returned while no routing document has been applied
	ErrNoConfig = stderrors.New("no routing configuration loaded")
	// ErrBodyTooLarge is the cause of the validation error returned for
	// request bodies above dispatch.max_body_bytes
	ErrBodyTooLarge = stderrors.New("request body too large")
)

// Resolution kinds beyond the rule kinds header and path
const (
	KindSplit  = "split"
	KindSticky = "sticky"
	KindHash   = "hash"
)

// BackendVersionHeader names the version that served a proxied response
const BackendVersionHeader = "X-Backend-Version"

// Resolution is the version chosen for a request and how it was chosen
type Resolution struct {
	Version string `json:"version"`
	Kind    string `json:"kind"`
	Rule    string `json:"rule,omitempty"`
}

// ConfigSource provides the active routing snapshot
type ConfigSource interface {
	Current() *config.Snapshot
}

// Pool is the view of the pool tracker the dispatcher needs
type Pool interface {
	pool.SnapshotReader
	pool.ResultIngester
}

// Dispatcher routes and forwards requests. It is safe for concurrent use and
// implements http.Handler.
type Dispatcher struct {
	config   ConfigSource
	pool     Pool
	client   *http.Client
	balancer *Balancer
	affinity *Affinity
	events   events.Publisher
	logger   logging.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClient replaces the forwarding HTTP client
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithEvents publishes an outcome event for every attempt
func WithEvents(p events.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithAffinity shares a sticky-session cache
func WithAffinity(a *Affinity) Option {
	return func(d *Dispatcher) { d.affinity = a }
}

// WithLogger sets the dispatcher's logger
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher reading routing from cfg and endpoints from p
func New(cfg ConfigSource, p Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		config:   cfg,
		pool:     p,
		balancer: NewBalancer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = commonhttp.NewForwardingClient()
	}
	if d.affinity == nil {
		d.affinity = NewAffinity(config.DefaultDispatch().StickyTTL)
	}
	if d.logger == nil {
		d.logger = logging.Component("dispatch")
	}
	return d
}

// Balancer exposes the dispatcher's balancer
func (d *Dispatcher) Balancer() *Balancer {
	return d.balancer
}

// Resolve picks the version for req under snap: a matching rule first, then
// a sticky pin, a header hash draw, or a random draw over the split. It
// never consults the pool.
func Resolve(snap *config.Snapshot, req routing.Request) Resolution {
	return resolve(snap, req, nil)
}

// Resolve is the package-level Resolve plus sticky affinity
func (d *Dispatcher) Resolve(r *http.Request) (Resolution, error) {
	snap := d.config.Current()
	if snap == nil {
		return Resolution{}, ErrNoConfig
	}
	return resolve(snap, routing.NewRequest(r), d.affinity), nil
}

func resolve(snap *config.Snapshot, req routing.Request, affinity *Affinity) Resolution {
	if m, ok := snap.Matcher.Match(req); ok {
		return Resolution{Version: m.Version, Kind: m.Kind, Rule: m.Rule}
	}

	settings := snap.Dispatch
	split := snap.Selector.Split()

	var session string
	if affinity != nil && settings.StickyHeader != "" {
		session = strings.TrimSpace(req.Header.Get(settings.StickyHeader))
	}
	if session != "" {
		if v, ok := affinity.Lookup(session, func(v string) bool { return splitAllows(split, v) }); ok {
			return Resolution{Version: v, Kind: KindSticky}
		}
	}

	res := Resolution{Kind: KindSplit}
	if key := hashKey(req, settings.HashHeader); key != "" {
		res.Version = snap.Selector.SelectDraw(routing.HashDraw(key))
		res.Kind = KindHash
	} else {
		res.Version = snap.Selector.Select()
	}

	if session != "" {
		affinity.Pin(session, res.Version, settings.StickyTTL)
	}
	return res
}

func hashKey(req routing.Request, header string) string {
	if header == "" {
		return ""
	}
	return strings.TrimSpace(req.Header.Get(header))
}

// splitAllows reports whether the split can currently route to v
func splitAllows(split routing.TrafficSplit, v string) bool {
	for _, wv := range split.Versions {
		if wv.Version == v {
			return wv.Weight > 0
		}
	}
	return v == split.DefaultVersion && split.Total() < routing.DrawRange
}

// Response is a backend response being relayed. Close must be called.
type Response struct {
	*http.Response
	Resolution Resolution
	Endpoint   pool.Endpoint
	Attempts   int

	release func()
}

// Close closes the body and ends the attempt
func (r *Response) Close() error {
	err := r.Body.Close()
	r.release()
	return err
}

// Forward resolves r and forwards it, retrying retryable failures on other
// endpoints. The caller must Close the returned response.
func (d *Dispatcher) Forward(r *http.Request) (*Response, error) {
	snap := d.config.Current()
	if snap == nil {
		return nil, ErrNoConfig
	}
	settings := snap.Dispatch

	res := resolve(snap, routing.NewRequest(r), d.affinity)

	body, ok, err := readBody(r, settings.MaxBodyBytes)
	if err != nil {
		if r.Context().Err() != nil {
			return nil, r.Context().Err()
		}
		return nil, errors.ValidationError("failed to read request body")
	}
	if !ok {
		verr := errors.ValidationError(fmt.Sprintf("request body exceeds %d bytes", settings.MaxBodyBytes))
		verr.Cause = ErrBodyTooLarge
		return nil, verr
	}

	requestID := requestIDOf(r)
	versions := []string{res.Version}
	if settings.Failover {
		versions = append(versions, snap.FailoverOrder(res.Version)...)
	}

	tried := make(map[string]struct{})
	attempts := 0
	var lastErr error
	vi := 0

	for attempts < settings.MaxAttempts && vi < len(versions) {
		version := versions[vi]

		// The pool is re-read every attempt so ejections seen by earlier
		// attempts are honoured.
		candidates := d.pool.Snapshot().Serving(version)
		ep, picked := d.balancer.Pick(snap.VersionSettings(version).LB, version, candidates, tried)
		if !picked {
			vi++
			if vi < len(versions) {
				d.logger.Warn("Failing over to next version",
					logging.String("request_id", requestID),
					logging.String("from", version),
					logging.String("to", versions[vi]),
				)
			}
			continue
		}
		tried[ep.ID] = struct{}{}

		report, err := d.pool.Acquire(ep.ID)
		if err != nil {
			continue
		}

		attempts++
		out, retry, latency, err := d.attempt(r, body, ep, report, settings.AttemptTimeout)
		d.emit(requestID, res, ep, attempts, out, latency, err)

		if err == nil && !retry {
			out.Resolution = res
			out.Endpoint = ep
			out.Attempts = attempts
			return out, nil
		}
		if err != nil && !retry {
			return nil, err
		}

		lastErr = err
		if out != nil {
			lastErr = errors.ForwardingError(ep.Address, fmt.Errorf("backend returned %d", out.StatusCode))
			drain(out.Response)
			out.release()
		}
		d.logger.Warn("Forwarding attempt failed",
			logging.String("request_id", requestID),
			logging.String("version", ep.Version),
			logging.String("endpoint", ep.ID),
			logging.Int("attempt", attempts),
			logging.Err(lastErr),
		)
	}

	return nil, errors.ServiceUnavailableError(res.Version, lastErr)
}

// attempt performs one forwarding attempt and reports its outcome through
// report. retry is true for failures worth retrying on another endpoint;
// a retryable 502/503/504 comes back with its response so the status is
// visible, the caller drains it.
func (d *Dispatcher) attempt(in *http.Request, body []byte, ep pool.Endpoint, report func(pool.Result), timeout time.Duration) (*Response, bool, time.Duration, error) {
	ctx, cancel := context.WithCancel(in.Context())
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	done := d.balancer.Begin(ep.ID)
	release := func() {
		timer.Stop()
		cancel()
		done()
	}

	out, err := outboundRequest(ctx, in, body, ep.Address)
	if err != nil {
		release()
		report(pool.Result{Abandoned: true})
		return nil, false, 0, errors.InternalError("failed to build outbound request", err)
	}

	start := time.Now()
	resp, err := d.client.Do(out)
	inTime := timer.Stop()
	latency := time.Since(start)

	if err == nil && !inTime {
		// headers arrived as the attempt timed out; the body is unusable
		drain(resp)
		err = context.DeadlineExceeded
	}

	if err != nil {
		release()
		if !timedOut.Load() && in.Context().Err() != nil {
			report(pool.Result{Abandoned: true, Latency: latency})
			return nil, false, latency, in.Context().Err()
		}
		cause := err
		if timedOut.Load() {
			cause = errors.TimeoutError("forwarding attempt")
		}
		ferr := errors.ForwardingError(ep.Address, cause)
		report(pool.Result{Success: false, Source: pool.SourceRequest, Latency: latency, Err: ferr})
		return nil, true, latency, ferr
	}

	success := resp.StatusCode < http.StatusInternalServerError
	report(pool.Result{
		Success:    success,
		Source:     pool.SourceRequest,
		Latency:    latency,
		StatusCode: resp.StatusCode,
	})

	relayed := &Response{Response: resp, release: release}
	return relayed, retryableStatus(resp.StatusCode), latency, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (d *Dispatcher) emit(requestID string, res Resolution, ep pool.Endpoint, attempt int, out *Response, latency time.Duration, err error) {
	if d.events == nil {
		return
	}
	ev := events.Event{
		RequestID: requestID,
		Version:   ep.Version,
		Endpoint:  ep.ID,
		Address:   ep.Address,
		Attempt:   attempt,
		Rule:      res.Rule,
		Latency:   latency,
		Timestamp: time.Now(),
	}
	if out != nil {
		ev.StatusCode = out.StatusCode
		ev.Success = out.StatusCode < http.StatusInternalServerError
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.events.Publish(ev)
}

func requestIDOf(r *http.Request) string {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return utils.GenerateRequestID()
}

// ServeHTTP proxies r and writes the backend response, or a JSON error
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := d.Forward(r)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	defer resp.Close()

	w.Header().Set(BackendVersionHeader, resp.Endpoint.Version)
	if err := copyResponse(w, resp.Response); err != nil && r.Context().Err() == nil {
		d.logger.Warn("Relaying response body failed",
			logging.String("request_id", requestIDOf(r)),
			logging.String("endpoint", resp.Endpoint.ID),
			logging.Err(err),
		)
	}
}

type errorBody struct {
	Error *errors.AppError `json:"error"`
}

func (d *Dispatcher) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
		d.logger.Debug("Client went away", logging.String("request_id", requestIDOf(r)))
		return
	}

	status := http.StatusInternalServerError
	var appErr *errors.AppError
	switch {
	case stderrors.Is(err, ErrNoConfig):
		status = http.StatusServiceUnavailable
		appErr = errors.ServiceUnavailableError("", err)
		appErr.Message = ErrNoConfig.Error()
	case stderrors.Is(err, ErrBodyTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.IsType(err, errors.ErrTypeServiceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.IsType(err, errors.ErrTypeValidation):
		status = http.StatusBadRequest
	}
	if appErr == nil && !stderrors.As(err, &appErr) {
		appErr = errors.InternalError("dispatch failed", err)
	}

	fields := []logging.Field{
		logging.String("request_id", requestIDOf(r)),
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
	}
	if status >= http.StatusInternalServerError {
		d.logger.Error("Request not served", err, fields...)
	} else {
		d.logger.Warn("Request rejected", append(fields, logging.Err(err))...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: appErr})
}
