// Package health serves the /livez and /readyz probes of the API server.
//
// Checks run in the background and their latest verdict is served, so a
// probe never waits on PostgreSQL or the broker. A check flips to failing
// after FailureThreshold consecutive errors and back after SuccessThreshold
// consecutive passes.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Option tunes a single registered check.
type Option func(*check)

// WithThresholds overrides the default 3 failures / 1 success thresholds.
func WithThresholds(failures, successes int) Option {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

type kind int

const (
	liveness kind = iota
	readiness
)

// result is the outcome of the most recent run of a check.
type result struct {
	err  error
	at   time.Time
	took time.Duration
}

type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	last    atomic.Pointer[result]

	// Owned by the goroutine running the check.
	fails, passes int
}

func (c *check) run(ctx context.Context, now func() time.Time) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := now()
	err := c.fn(ctx)
	c.last.Store(&result{err: err, at: start, took: now().Sub(start)})

	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.passes++
	if c.passes >= c.successThreshold {
		c.healthy.Store(true)
	}
}

// lastResult returns the latest result, or nil before the first run.
func (c *check) lastResult() *result {
	return c.last.Load()
}

// Health owns the registered checks and the manual readiness switch used
// during startup and graceful shutdown.
type Health struct {
	ready atomic.Bool
	now   func() time.Time

	mu     sync.RWMutex
	checks map[kind][]*check
	cancel context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{
		now:    time.Now,
		checks: make(map[kind][]*check),
	}
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.add(liveness, name, timeout, fn, opts)
}

// AddReadinessCheck registers a check that decides whether the instance
// receives traffic, e.g. database or broker connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.add(readiness, name, timeout, fn, opts)
}

func (h *Health) add(k kind, name string, timeout time.Duration, fn CheckFunc, opts []Option) {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks[k] = append(h.checks[k], c)
	h.mu.Unlock()
}

func (h *Health) snapshot(k kind) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.checks[k])
}

// Start runs every registered check once immediately and then every
// interval, each in its own goroutine, until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	all := append(slices.Clone(h.checks[liveness]), h.checks[readiness]...)
	h.mu.Unlock()

	for _, c := range all {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx, h.now)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx, h.now)
		}
	}
}

// Stop cancels the background checks. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(readiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

// failure describes a failing check in a probe response.
type failure struct {
	name  string
	error string
	since time.Time
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(liveness)))
}

// ReadyEndpoint serves /readyz. It fails while the readiness switch is off,
// which is how graceful shutdown drains the instance.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	fs := failures(h.snapshot(readiness))
	if !h.ready.Load() {
		fs = append(fs, failure{name: "_readiness", error: "service is not ready"})
	}
	writeResponse(w, fs)
}

func failures(checks []*check) []failure {
	var out []failure
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		f := failure{name: c.name, error: "check is unhealthy"}
		if r := c.lastResult(); r != nil {
			f.since = r.at
			if r.err != nil {
				f.error = r.err.Error()
			}
		}
		out = append(out, f)
	}
	return out
}

// writeResponse renders {"status":"ok"} or a 503 with
// {"status":"unavailable","checks":{name:{"error":...,"checkedAt":...}}}.
func writeResponse(w http.ResponseWriter, fs []failure) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(fs) == 0 {
		e.Str("ok")
	} else {
		e.Str("unavailable")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range fs {
			e.FieldStart(f.name)
			e.ObjStart()
			e.FieldStart("error")
			e.Str(f.error)
			if !f.since.IsZero() {
				e.FieldStart("checkedAt")
				e.Str(f.since.UTC().Format(time.RFC3339))
			}
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if len(fs) == 0 {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}
