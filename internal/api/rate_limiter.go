package api

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// clientLimiter is the token bucket of one client plus its last use
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	limiters *xsync.Map[string, *clientLimiter]
	limit    rate.Limit
	burst    int
	// trustProxy keys clients by X-Forwarded-For, which only a trusted
	// reverse proxy in front of the server may set
	trustProxy bool
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive rps disables
// limiting.
func NewRateLimiter(rps, burst int, trustProxy bool) *RateLimiter {
	if burst <= 0 {
		burst = rps
	}
	return &RateLimiter{
		limiters: xsync.NewMap[string, *clientLimiter](),
		limit:      rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// Allow reports whether the client may make a request now
func (rl *RateLimiter) Allow(client string) bool {
	if rl.limit <= 0 {
		return true
	}
	cl, _ := rl.limiters.LoadOrCompute(client, func() (*clientLimiter, bool) {
		return &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}, false
	})
	now := rl.now()
	cl.lastSeen.Store(now.UnixNano())
	return cl.limiter.AllowN(now, 1)
}

// Sweep drops clients idle for longer than maxIdle and returns how many
// were removed
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle).UnixNano()
	removed := 0
	rl.limiters.Range(func(key string, cl *clientLimiter) bool {
		if cl.lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	return rl.limiters.Size()
}

// clientKey identifies the caller by the remote host, or by the first
// X-Forwarded-For hop when the proxy is trusted
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects clients that exceed their budget with 429
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientKey(r, rl.trustProxy)) {
				w.Header().Set("Retry-After", "1")
				respondFailure(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
