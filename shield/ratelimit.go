package shield

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window rate limiting.
// Rules are keyed by "METHOD /path". Every /snap call spawns a browser, so
// this is the first line of defence against a single client exhausting the
// host.
type RateLimiter struct {
	rules   map[string]RateLimitConfig
	buckets sync.Map
	exclude []string // path prefixes excluded from rate limiting
	now     func() time.Time

	clientIP func(*http.Request) string
}

// NewRateLimiter creates a rate limiter. Rules with a non-positive limit or
// window are ignored.
func NewRateLimiter(rules map[string]RateLimitConfig, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		rules:    make(map[string]RateLimitConfig, len(rules)),
		exclude:  excludePrefixes,
		now:      time.Now,
		clientIP: ExtractIP,
	}
	for k, v := range rules {
		if v.MaxRequests > 0 && v.Window > 0 {
			rl.rules[k] = v
		}
	}
	return rl
}

// KeyBy sets how requests are attributed to a client. Default ExtractIP.
func (rl *RateLimiter) KeyBy(clientIP func(*http.Request) string) {
	rl.clientIP = clientIP
}

// StartGC drops expired buckets every interval until done is closed.
func (rl *RateLimiter) StartGC(interval time.Duration, done <-chan struct{}) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	cfg, ok := rl.rules[endpoint]
	if !ok {
		return true
	}

	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+" "+endpoint, &bucket{resetAt: now.Add(cfg.Window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(cfg.Window)
	}
	b.count++
	return b.count <= cfg.MaxRequests
}

// Middleware is the HTTP middleware that enforces rate limits. Blocked
// requests get 429 with a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := rl.clientIP(r)

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.rules[endpoint].Window.Seconds())+1))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})
}
