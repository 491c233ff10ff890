package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/auth"
)

// keyedLimiter hands out one token bucket per worker key, so a single
// misbehaving worker can't starve the dispatcher or the ingest pipeline for
// everyone else. Mirrors the teacher's ratelimit.RateLimiter construction,
// generalized from one global bucket to one per caller.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return &keyedLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// limitByWorkerKey rejects the request with 429 if the worker identified by
// id has exceeded its bucket.
func (k *keyedLimiter) limitByWorkerKey(w http.ResponseWriter, id auth.Identity) bool {
	key := id.WorkerKey
	if key == "" {
		key = "anonymous"
	}
	if !k.allow(key) {
		writeError(w, apperrors.New(apperrors.CodeConflict, "rate limit exceeded", http.StatusTooManyRequests))
		return false
	}
	return true
}
