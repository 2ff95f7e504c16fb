package web

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxTrackedVisitors = 10000
	visitorTTL         = 10 * time.Minute
)

// rateLimiter is a per-IP token bucket. Visitors idle for visitorTTL are
// forgotten, and the least recently seen are evicted past maxTrackedVisitors.
type rateLimiter struct {
	visitors *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	window   time.Duration
}

// newRateLimiter allows n requests per window per IP.
func newRateLimiter(n int, window time.Duration) *rateLimiter {
	if n <= 0 {
		n = 1
	}
	return &rateLimiter{
		visitors: expirable.NewLRU[string, *rate.Limiter](maxTrackedVisitors, nil, visitorTTL),
		limit:    rate.Every(window / time.Duration(n)),
		burst:    n,
		window:   window,
	}
}

// allow consumes a token for ip.
func (rl *rateLimiter) allow(ip string) bool {
	lim, ok := rl.visitors.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors.Add(ip, lim)
	}
	return lim.Allow()
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Wait a minute and try again",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is RemoteAddr without the port; TrustedRealIP has already
// resolved proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
