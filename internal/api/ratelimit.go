package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/offsync/internal/apperr"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ownerRateLimiter struct {
	mu        sync.Mutex
	visitors  map[int64]*visitor
	rps       rate.Limit
	burst     int
	lastPrune time.Time
}

func newOwnerRateLimiter(rps float64, burst int) *ownerRateLimiter {
	return &ownerRateLimiter{
		visitors:  make(map[int64]*visitor),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastPrune: time.Now(),
	}
}

func (rl *ownerRateLimiter) getLimiter(ownerID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastPrune) > limiterIdleTTL {
		for id, v := range rl.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(rl.visitors, id)
			}
		}
		rl.lastPrune = now
	}

	v, ok := rl.visitors[ownerID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ownerID] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimit limits requests per authenticated owner. It must run after
// JWTAuth. A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := newOwnerRateLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.getLimiter(ownerID(r)).Allow() {
				writeErrorStatus(w, http.StatusTooManyRequests, apperr.CodeResourceExhausted, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
