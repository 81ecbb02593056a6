package httpserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterCleanup = 5 * time.Minute

type RateLimitConfig struct {
	PerMinute       int
	Burst           int
	CleanupInterval time.Duration
	// TrustProxyHeaders keys clients on forwarding headers instead of the
	// connection's remote address.
	TrustProxyHeaders bool
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles credential endpoints per client address.
type RateLimiter struct {
	perMinute int
	trustFwd  bool
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	nowFunc   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultLimiterCleanup
	}
	rl := &RateLimiter{
		perMinute: cfg.PerMinute,
		trustFwd:  cfg.TrustProxyHeaders,
		limit:     rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:     cfg.Burst,
		ttl:       2 * cfg.CleanupInterval,
		nowFunc:   time.Now,
		clients:   make(map[string]*clientLimiter),
		stopCh:    make(chan struct{}),
	}
	go rl.cleanupLoop(cfg.CleanupInterval)
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(rl.clientKey(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.trustFwd {
		return clientIP(r)
	}
	return remoteHost(r)
}

func (rl *RateLimiter) allow(key string) bool {
	now := rl.nowFunc()
	rl.mu.Lock()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastAccess = now
	rl.mu.Unlock()
	return cl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// retryAfterSeconds is the time to refill one token, at least one second.
func (rl *RateLimiter) retryAfterSeconds() int {
	secs := (60 + rl.perMinute - 1) / rl.perMinute
	if secs < 1 {
		return 1
	}
	return secs
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.clients {
		if now.Sub(cl.lastAccess) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}
