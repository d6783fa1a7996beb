package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// bucket is the token bucket of one client.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter limits requests per shop with a token bucket. Requests that
// are not shop scoped are keyed by client IP.
type RateLimiter struct {
	buckets sync.Map // key -> *bucket
	rate    float64
	burst   int
	now     func() time.Time

	done chan struct{}
	once sync.Once
}

// NewRateLimiter creates a limiter that refills rate tokens per second up
// to burst, and starts the cleanup of idle buckets.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	l := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go l.cleanup(5*time.Minute, 10*time.Minute)
	return l
}

// Stop ends the cleanup goroutine.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// allow refills the bucket of key and takes one token. It returns whether
// the request may pass and the whole tokens left.
func (l *RateLimiter) allow(key string) (bool, int) {
	now := l.now()
	val, _ := l.buckets.LoadOrStore(key, &bucket{tokens: float64(l.burst), lastRefill: now})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true, int(math.Floor(b.tokens))
	}
	return false, 0
}

// retryAfter estimates the seconds until key has a token again.
func (l *RateLimiter) retryAfter(key string) int {
	val, ok := l.buckets.Load(key)
	if !ok {
		return 1
	}
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / l.rate))
}

func (l *RateLimiter) cleanup(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(l.now().Add(-idle))
		case <-l.done:
			return
		}
	}
}

// sweep drops buckets untouched since before.
func (l *RateLimiter) sweep(before time.Time) {
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		stale := b.lastRefill.Before(before)
		b.mu.Unlock()
		if stale {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Middleware applies the limit. Place it after RequireShopAuth to limit
// per shop.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if shopID, ok := ShopFromContext(r.Context()); ok {
			key = "shop:" + shopID.String()
		}

		allowed, remaining := l.allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter(key)))
			WriteJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then
// the connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
