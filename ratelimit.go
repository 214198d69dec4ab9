package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"
)

// EndpointClass groups endpoints that share one rate limit per client.
type EndpointClass string

const (
	EndpointLogin  EndpointClass = "login"
	EndpointSignup EndpointClass = "signup"
)

// Rate limiter defaults
const (
	DefaultLoginRPS            = 10
	DefaultSignupRPS           = 5
	DefaultRateLimitIdleTTL    = 10 * time.Minute
	DefaultRateLimitMaxEntries = 100000
)

// BucketLimit is the refill rate, in requests per second, and capacity of
// one client's bucket. Burst defaults to max(1, int(Rate)).
type BucketLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

func (l BucketLimit) burst() int {
	if l.Burst > 0 {
		return l.Burst
	}
	return max(1, int(l.Rate))
}

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Limits per endpoint class. Classes without an entry are not limited.
	Limits map[EndpointClass]BucketLimit `yaml:"limits"`

	// IdleTTL evicts buckets not used for this long.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// MaxEntries bounds the number of buckets; the least recently used
	// bucket is evicted beyond it.
	MaxEntries int `yaml:"max_entries"`

	// IgnoreForwardedFor makes ClientIP use only the peer address. Leave it
	// false only when a trusted reverse proxy overwrites X-Forwarded-For;
	// otherwise clients can choose their own bucket.
	IgnoreForwardedFor bool `yaml:"ignore_forwarded_for"`
}

// EnsureDefaults fills unset fields.
func (c *RateLimitConfig) EnsureDefaults() {
	if c.Limits == nil {
		c.Limits = map[EndpointClass]BucketLimit{
			EndpointLogin:  {Rate: DefaultLoginRPS},
			EndpointSignup: {Rate: DefaultSignupRPS},
		}
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultRateLimitIdleTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultRateLimitMaxEntries
	}
}

type bucketKey struct {
	class EndpointClass
	ip    string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per (endpoint class, client ip) in a
// bounded LRU. Lookup, creation and consumption happen under one lock, so
// concurrent first requests from a client share a single bucket. Refill is
// computed from elapsed time on each call; there is no background ticker.
type RateLimiter struct {
	config  RateLimitConfig
	clock   Clock
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	buckets   *simplelru.LRU[bucketKey, *bucket]
	lastSweep time.Time
}

// NewRateLimiter builds a limiter. clock may be nil for the system clock and
// is only used by Middleware.
func NewRateLimiter(config RateLimitConfig, clock Clock, metrics *Metrics, logger *slog.Logger) (*RateLimiter, error) {
	config.EnsureDefaults()
	for class, l := range config.Limits {
		if l.Rate <= 0 || math.IsInf(l.Rate, 0) || math.IsNaN(l.Rate) {
			return nil, fmt.Errorf("rate limit for %s must be positive, got %v", class, l.Rate)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:  config,
		clock:   clockOrSystem(clock),
		metrics: metrics,
		logger:  logger,
	}
	buckets, err := simplelru.NewLRU[bucketKey, *bucket](config.MaxEntries, func(bucketKey, *bucket) {
		rl.metrics.rateLimitEviction()
	})
	if err != nil {
		return nil, err
	}
	rl.buckets = buckets
	return rl, nil
}

// Allow consumes one request unit from the bucket of (class, clientIP) at
// now and reports whether one was available.
func (rl *RateLimiter) Allow(class EndpointClass, clientIP string, now time.Time) bool {
	limit, ok := rl.config.Limits[class]
	if !ok {
		return true
	}
	key := bucketKey{class: class, ip: clientIP}

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) >= rl.config.IdleTTL {
		rl.sweepLocked(now)
		rl.lastSweep = now
	}
	b, found := rl.buckets.Get(key)
	if found && now.Sub(b.lastSeen) > rl.config.IdleTTL {
		rl.buckets.Remove(key)
		found = false
	}
	if !found {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(limit.Rate), limit.burst())}
		rl.buckets.Add(key, b)
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	entries := rl.buckets.Len()
	rl.mu.Unlock()

	rl.metrics.rateLimitDecision(class, allowed, entries)
	return allowed
}

// Check is Allow returning a *RateLimitedError on deny.
func (rl *RateLimiter) Check(class EndpointClass, clientIP string, now time.Time) error {
	if rl.Allow(class, clientIP, now) {
		return nil
	}
	return &RateLimitedError{Class: class, ClientIP: clientIP, RetryAfter: rl.retryAfter(class)}
}

// Sweep evicts buckets idle longer than the configured TTL and returns how
// many were removed.
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.lastSweep = now
	return rl.sweepLocked(now)
}

func (rl *RateLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for _, key := range rl.buckets.Keys() {
		b, ok := rl.buckets.Peek(key)
		if ok && now.Sub(b.lastSeen) > rl.config.IdleTTL {
			rl.buckets.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.buckets.Len()
}

// retryAfter is the time for one unit to refill, rounded up to a second.
func (rl *RateLimiter) retryAfter(class EndpointClass) time.Duration {
	limit := rl.config.Limits[class]
	secs := int(math.Ceil(1.0 / limit.Rate))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// ClientIP returns the address a request is rate limited under: the first
// X-Forwarded-For hop when trustForwarded is set and it parses as an IP,
// otherwise the peer address.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap().String()
			}
		}
	}
	return PeerIP(r.RemoteAddr)
}

// PeerIP strips the port from a transport address.
func PeerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// TrustsForwardedFor reports whether forwarded-for headers identify clients.
func (rl *RateLimiter) TrustsForwardedFor() bool {
	return !rl.config.IgnoreForwardedFor
}

// Now reads the limiter's clock.
func (rl *RateLimiter) Now() time.Time {
	return rl.clock.Now()
}

// ClientIP applies the limiter's forwarded-for policy to r.
func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return ClientIP(r, !rl.config.IgnoreForwardedFor)
}

// Middleware rejects requests over the class limit with 429 and a
// Retry-After header.
func (rl *RateLimiter) Middleware(class EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := rl.ClientIP(r)
			if err := rl.Check(class, ip, rl.clock.Now()); err != nil {
				var limited *RateLimitedError
				if errors.As(err, &limited) {
					rl.logger.Warn("rate limit exceeded",
						slog.String("client_ip", ip),
						slog.String("limit_type", string(class)))
					writeRateLimited(w, limited)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, err *RateLimitedError) {
	w.Header().Set("Retry-After", strconv.Itoa(int(err.RetryAfter/time.Second)))
	writeJSON(w, http.StatusTooManyRequests, apiResponse{
		Success: false,
		Code:    "rate_limited",
		Message: PublicMessage(err),
	})
}
