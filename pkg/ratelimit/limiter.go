// Package ratelimit implements an in-process token-bucket rate limiter
// keyed by caller identity. Each key owns an independent bucket of
// capacity C refilled continuously at R tokens per second; a request is
// admitted only if its bucket holds at least one whole token.
//
// Refill is computed lazily from elapsed time on each decision, so idle
// buckets cost nothing between requests. Buckets are created on first use
// and currently never evicted; with identity keys derived from bounded
// client populations the map stays small, but a hostile flood of distinct
// identities will grow it without bound. Eviction of idle buckets is the
// known follow-up if that becomes a problem in practice.
//
// The limiter keeps all state in process memory. Replicas of the service
// each enforce their own independent budget.
package ratelimit

import (
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// defaultShardCount spreads bucket state over independent locks so
// decisions for unrelated keys never contend.
const defaultShardCount = 32

// Config holds the parameters for a [Limiter].
type Config struct {
	// Capacity is the bucket size: the maximum burst a single key can
	// spend at once. Must be at least 1.
	Capacity float64 `json:"capacity" yaml:"capacity" env:"CAPACITY" envDefault:"100"`

	// RefillRate is the sustained admission rate in tokens per second.
	// Must be positive. Fractional rates are supported; 0.5 means one
	// request every two seconds.
	RefillRate float64 `json:"refill_rate" yaml:"refill_rate" env:"REFILL_RATE" envDefault:"25"`

	// Clock supplies the current time. Nil means time.Now. Tests inject
	// a controllable clock here.
	Clock func() time.Time `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	if c.Capacity < 1 {
		return apierr.Newf(apierr.CodeValidation,
			"ratelimit: capacity %g must be at least 1", c.Capacity)
	}
	if c.RefillRate <= 0 {
		return apierr.Newf(apierr.CodeValidation,
			"ratelimit: refill rate %g must be positive", c.RefillRate)
	}
	return nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request was admitted. A token was
	// consumed if and only if Allowed is true.
	Allowed bool

	// Remaining is the number of whole tokens left in the bucket after
	// this decision.
	Remaining int

	// RetryAfter is the wait, rounded up to whole seconds, until the
	// bucket will hold a full token again. Zero when Allowed.
	RetryAfter time.Duration
}

// bucket is the per-key state. tokens is fractional so that slow refill
// rates accumulate credit between requests.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// shard is one lock domain of the bucket map.
type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is a token-bucket rate limiter over string keys. It is safe for
// concurrent use by multiple goroutines.
type Limiter struct {
	capacity float64
	rate     float64
	clock    func() time.Time
	logger   *slog.Logger
	shards   [defaultShardCount]*shard
}

// New creates a Limiter from the given configuration.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	l := &Limiter{
		capacity: cfg.Capacity,
		rate:     cfg.RefillRate,
		clock:    clock,
		logger:   slog.Default(),
	}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l, nil
}

// Allow checks whether the caller identified by key may proceed, consuming
// one token on admission. Allow never blocks; a denied caller receives the
// wait duration in the decision and retries on its own schedule.
//
// A new key starts with a full bucket, so the first Capacity requests of a
// fresh identity are admitted back to back.
func (l *Limiter) Allow(key string) Decision {
	sh := l.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.clock()
	b, ok := sh.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		sh.buckets[key] = b
	} else {
		l.refill(b, now)
	}

	if b.tokens < 0 {
		// Impossible by construction. If it happens the state is corrupt,
		// so reset the bucket to empty and deny this request.
		l.logger.Error("ratelimit: negative token count, resetting bucket",
			"tokens", b.tokens,
		)
		b.tokens = 0
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{
			Allowed:   true,
			Remaining: int(b.tokens),
		}
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: l.retryAfter(b.tokens),
	}
}

// Peek reports the decision Allow would make for key without consuming a
// token. Used by health and debug endpoints.
func (l *Limiter) Peek(key string) Decision {
	sh := l.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.clock()
	b, ok := sh.buckets[key]
	if !ok {
		return Decision{Allowed: true, Remaining: int(l.capacity)}
	}
	l.refill(b, now)

	if b.tokens >= 1 {
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}
	return Decision{Allowed: false, RetryAfter: l.retryAfter(b.tokens)}
}

// KeyCount returns the number of tracked buckets across all shards.
func (l *Limiter) KeyCount() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// refill credits the bucket for the time elapsed since its last refill,
// clamped to capacity. Elapsed time never goes negative even if the clock
// steps backwards.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed.Seconds()*l.rate)
	}
	b.lastRefill = now
}

// retryAfter computes the whole-second wait until the bucket holds a full
// token, rounded up. Always at least one second for a denied request.
func (l *Limiter) retryAfter(tokens float64) time.Duration {
	deficit := 1 - tokens
	secs := math.Ceil(deficit / l.rate)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// shard selects the lock domain for key via FNV-1a.
func (l *Limiter) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%defaultShardCount]
}
