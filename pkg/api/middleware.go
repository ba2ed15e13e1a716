package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorSweepEvery = time.Minute
	visitorIdleExpiry = 3 * time.Minute
)

// GlobalRateLimiter throttles requests per client IP. Each IP gets its own
// token bucket; idle buckets are swept so the map stays bounded.
type GlobalRateLimiter struct {
	mu    sync.Mutex
	perIP map[string]*bucket
	rps   rate.Limit
	burst int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter creates a limiter admitting rps requests per second
// with the given burst per client IP.
func NewGlobalRateLimiter(rps, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		perIP: make(map[string]*bucket),
		rps:   rate.Limit(rps),
		burst: burst,
	}
	go rl.sweep()
	return rl
}

func (rl *GlobalRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	b, ok := rl.perIP[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.perIP[ip] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.limiter.Allow()
}

func (rl *GlobalRateLimiter) sweep() {
	for range time.Tick(visitorSweepEvery) {
		rl.mu.Lock()
		for ip, b := range rl.perIP {
			if time.Since(b.lastSeen) > visitorIdleExpiry {
				delete(rl.perIP, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware wraps next with per-IP throttling. Over-limit requests get a
// 429 problem document with a Retry-After header.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP, tolerating addresses without a port and
// bracketed IPv6 literals.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
