package security

import (
	"sync"
	"time"

	"github.com/flemzord/strmsync/internal/fault"
)

// ErrRateLimited is returned when a client exceeds a rate limit.
var ErrRateLimited = fault.New(fault.Validation, "too many requests, try again later")

// Rate limit kinds.
const (
	KindLogin = "login"
	KindAPI   = "api"
)

// RateLimitConfig holds the per-client limits. Zero means the default;
// a negative value disables the limit.
type RateLimitConfig struct {
	LoginPerMin int `yaml:"login_per_min"`
	APIPerMin   int `yaml:"api_per_min"`
}

func (c *RateLimitConfig) defaults() {
	if c.LoginPerMin == 0 {
		c.LoginPerMin = 10
	}
	if c.APIPerMin == 0 {
		c.APIPerMin = 600
	}
}

// RateLimiter is a sliding window limiter keyed by kind and client
// (normally the remote address).
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

type bucketKey struct {
	kind, client string
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.defaults()
	return &RateLimiter{
		limits: map[string]int{
			KindLogin: cfg.LoginPerMin,
			KindAPI:   cfg.APIPerMin,
		},
		window:  time.Minute,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Allow records an event of kind for client, or returns ErrRateLimited
// without recording it. Unknown kinds and disabled limits always pass.
func (rl *RateLimiter) Allow(kind, client string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok || limit < 0 {
		return nil
	}

	key := bucketKey{kind, client}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{}
		rl.buckets[key] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))
	if len(b.events) >= limit {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// Prune drops buckets with no event inside the window and returns how many
// were dropped.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	n := 0
	for key, b := range rl.buckets {
		b.evict(cutoff)
		if len(b.events) == 0 {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// evict removes events before cutoff. Events are in chronological order.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
