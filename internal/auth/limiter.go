package auth

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry is one user's token bucket.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out a token bucket per user. Entries idle for longer than
// ttl are dropped by Sweep.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	ttl   time.Duration
}

// NewLimiter creates a per-user limiter. Non-positive values fall back to 10 rps / burst 20.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &Limiter{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
	}
}

// Allow reports whether key may make another request now.
func (p *Limiter) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	return e.l.Allow()
}

// Sweep removes entries not seen since ttl.
func (p *Limiter) Sweep() {
	cutoff := time.Now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Middleware rejects requests over the caller's budget with 429. It must run
// after the session middleware.
func (p *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if sess, ok := FromContext(r.Context()); ok {
			key = sess.UserID
		}
		if !p.Allow(key) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
