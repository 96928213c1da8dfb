package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// TrustProxy makes ClientIP read X-Forwarded-For and X-Real-IP. Enable it
	// only behind a proxy that overwrites those headers.
	TrustProxy bool
	// KeyFunc overrides the client key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from counting, e.g. health probes.
	Skip func(*http.Request) bool
}

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	prev, curr float64
	currStart  time.Time
}

// Limiter approximates a sliding window by weighting the previous fixed
// window's count by its remaining overlap.
type Limiter struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*window
}

// NewLimiter returns a Limiter allowing max events per window and key.
func NewLimiter(max int, windowLen time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: windowLen,
		keys:   make(map[string]*window),
	}
}

// Allow records an event for key at now unless the key is over the limit.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	w, ok := l.keys[key]
	switch {
	case !ok:
		w = &window{currStart: start}
		l.keys[key] = w
	case start.Sub(w.currStart) >= 2*l.window:
		*w = window{currStart: start}
	case start.After(w.currStart):
		*w = window{prev: w.curr, currStart: start}
	}

	overlap := 1 - float64(now.Sub(w.currStart))/float64(l.window)
	count := w.prev*math.Max(overlap, 0) + w.curr
	d := Decision{ResetAt: w.currStart.Add(l.window)}
	if count >= float64(l.max) {
		return d
	}
	w.curr++
	d.Allowed = true
	d.Remaining = max(0, int(float64(l.max)-count-1))
	return d
}

// Sweep drops keys that have been idle for two windows.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.keys {
		if now.Sub(w.currStart) >= 2*l.window {
			delete(l.keys, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// RunSweeper calls Sweep every two windows until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RateLimit limits requests per client key. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset; rejected
// ones get 429, Retry-After and {"error": ...}.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(NewLimiter(cfg.Max, cfg.Window), cfg)
}

// RateLimitWithCleanup is RateLimit with a background sweeper bound to ctx.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.RunSweeper(ctx)
	return rateLimit(l, cfg)
}

func rateLimit(l *Limiter, cfg RateLimitConfig) Middleware {
	key := cfg.KeyFunc
	if key == nil {
		key = func(r *http.Request) string { return ClientIP(r, cfg.TrustProxy) }
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			now := time.Now()
			d := l.Allow(key(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(0, d.ResetAt.Sub(now))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.ObjStart()
			e.FieldStart("error")
			e.Str("Too many requests, try again later")
			e.ObjEnd()
			_, _ = w.Write(e.Bytes())
		})
	}
}

// ClientIP returns the caller's address. Forwarding headers are honored only
// when trustProxy is set; the left-most X-Forwarded-For entry wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SkipPaths returns a Skip func matching exact request paths.
func SkipPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}
