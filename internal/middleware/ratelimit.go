package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WillKirkmanM/proxy/internal/config"
)

// TokenBucket is a per-client token bucket: tokens refill at a fixed rate
// and requests consume one token each, allowing bursts up to capacity while
// bounding sustained rate.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	mutex      sync.Mutex
}

func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume attempts to take tokens tokens from the bucket, refilling first
// based on elapsed time. Returns false when the bucket is exhausted.
func (tb *TokenBucket) TryConsume(tokens int) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	if tb.tokens >= tokens {
		tb.tokens -= tokens
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Remaining reports the current token count after an up-to-date refill, for
// the X-RateLimit-Remaining response header.
func (tb *TokenBucket) Remaining() int {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	tb.refill()
	return tb.tokens
}

// RetryAfter is how long a caller should wait before its next token arrives.
// refill only grants whole seconds' worth of tokens at a time, so the floor
// is always a full second regardless of refillRate.
func (tb *TokenBucket) RetryAfter() time.Duration {
	return time.Second
}

// RateLimiter throttles requests per client IP using one TokenBucket per
// client, created lazily on first contact.
type RateLimiter struct {
	buckets    map[string]*TokenBucket
	mutex      sync.RWMutex
	capacity   int
	refillRate int
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
	}
}

// Wrap rejects a request with 429 when its client has exhausted its bucket.
// X-RateLimit-Remaining always reflects the bucket's actual state rather
// than a hardcoded "0", since a throttled client still has a meaningful
// number to poll (capacity refills continuously, not just on request).
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := rl.getClientIP(r)
		bucket := rl.getBucket(clientIP)

		limit := strconv.Itoa(rl.capacity)
		w.Header().Set("X-RateLimit-Limit", limit)

		if !bucket.TryConsume(1) {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(bucket.Remaining()))
			w.Header().Set("Retry-After", strconv.Itoa(int(bucket.RetryAfter().Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded"))
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(bucket.Remaining()))
		next.ServeHTTP(w, r)
	})
}

// getBucket uses double-checked locking: a read lock covers the common case
// of an already-seen client, and only a new client pays for the write lock.
func (rl *RateLimiter) getBucket(clientIP string) *TokenBucket {
	rl.mutex.RLock()
	bucket, exists := rl.buckets[clientIP]
	rl.mutex.RUnlock()
	if exists {
		return bucket
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if bucket, exists := rl.buckets[clientIP]; exists {
		return bucket
	}

	bucket = NewTokenBucket(rl.capacity, rl.refillRate)
	rl.buckets[clientIP] = bucket
	return bucket
}

// getClientIP prefers X-Forwarded-For then X-Real-IP, falling back to the
// host part of the connection's remote address.
func (rl *RateLimiter) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return xff[:idx]
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
