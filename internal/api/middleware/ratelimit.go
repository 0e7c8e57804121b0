package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Rate            rate.Limit // requests per second per client
	Burst           int
	CleanupInterval time.Duration // how often idle clients are evicted
	MaxAge          time.Duration // idle time before eviction
}

// DialerRateLimitConfig limits the return call link, which mints tokens:
// 2 requests/second with a burst of 5.
func DialerRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(2),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// APIRateLimitConfig limits the management API and the inbox trigger:
// 5 requests/second with a burst of 10.
func APIRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(5),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter holds one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*clientEntry
	cfg      RateLimitConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewIPRateLimiter creates a limiter and starts its eviction loop. Call Stop
// to end the loop.
func NewIPRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *IPRateLimiter {
	rl := &IPRateLimiter{
		entries: make(map[string]*clientEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop ends the eviction loop. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
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

// cleanup evicts clients idle for longer than MaxAge.
func (rl *IPRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	removed := 0
	for ip, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.entries))
	}
}

// RateLimit returns middleware that answers 429 with Retry-After once a
// client exceeds its limit.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if !limiter.Allow(ip) {
				limiter.logger.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client IP from RemoteAddr without its port. chi's
// RealIP middleware runs first so proxies are accounted for.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
