// Package ratelimit provides per-upstream token bucket rate limiting.
//
// Each upstream API gets its own bucket keyed by name. The bucket refills
// continuously as a pure function of elapsed time and permits bursts up to
// its capacity. An unconfigured key degrades to a conservative default
// profile; absence of configuration is never an error.
package ratelimit

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Config is the rate limit profile for one upstream API.
type Config struct {
	// RatePerSecond is the steady-state token refill rate.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	// Burst is the bucket capacity.
	Burst int `mapstructure:"burst" yaml:"burst"`
}

// DefaultProfiles holds the known upstream profiles.
func DefaultProfiles() map[string]Config {
	return map[string]Config{
		"defillama":  {RatePerSecond: 5, Burst: 10},
		"llamanodes": {RatePerSecond: 10, Burst: 20},
		"publicnode": {RatePerSecond: 10, Burst: 20},
	}
}

// DefaultProfile is applied to keys with no configured profile.
var DefaultProfile = Config{RatePerSecond: 2, Burst: 5}

// bucket is one token bucket. tokens and last form a single mutable unit;
// every read-modify-write happens under mu.
type bucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newBucket(cfg Config, now time.Time) *bucket {
	// A non-positive rate or burst would make take's wait computation
	// divide by zero or starve forever; such profiles degrade to the
	// default instead.
	if cfg.RatePerSecond <= 0 || cfg.Burst < 1 {
		cfg = DefaultProfile
	}
	return &bucket{
		rate:     cfg.RatePerSecond,
		capacity: float64(cfg.Burst),
		tokens:   float64(cfg.Burst),
		last:     now,
	}
}

// refillLocked tops up the bucket for the time elapsed since last. Callers
// must hold b.mu.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.last = now
}

// take attempts to consume n tokens. On failure it returns the wait until
// enough tokens will have refilled.
func (b *bucket) take(n float64, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)

	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}

	wait := time.Duration((n - b.tokens) / b.rate * float64(time.Second))
	return false, wait
}

// available reports the current token count after refilling.
func (b *bucket) available(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return b.tokens
}

// Limiter manages token buckets for multiple upstream APIs.
type Limiter struct {
	logger *log.Logger

	mu      sync.Mutex
	configs map[string]Config
	buckets map[string]*bucket

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter. configs may be nil, in which case the known
// default profiles are used. Keys absent from configs fall back to
// DefaultProfile on first use.
func New(configs map[string]Config, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.New(os.Stderr, "[ratelimit] ", log.LstdFlags)
	}
	if configs == nil {
		configs = DefaultProfiles()
	}
	return &Limiter{
		logger:  logger,
		configs: configs,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// bucketFor returns or creates the bucket for a key.
func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	cfg, ok := l.configs[key]
	if !ok {
		cfg = DefaultProfile
		l.logger.Printf("no rate limit profile for %q, using default %.1f/s burst %d",
			key, cfg.RatePerSecond, cfg.Burst)
	}

	b := newBucket(cfg, l.now())
	l.buckets[key] = b
	return b
}

// Acquire consumes one token for key, waiting as needed. The context
// carries the caller's timeout; Acquire returns false when it expires
// before a token becomes available.
func (l *Limiter) Acquire(ctx context.Context, key string) bool {
	return l.AcquireN(ctx, key, 1)
}

// AcquireN consumes n tokens for key, waiting as needed.
func (l *Limiter) AcquireN(ctx context.Context, key string, n int) bool {
	b := l.bucketFor(key)

	for {
		ok, wait := b.take(float64(n), l.now())
		if ok {
			return true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// TryAcquire consumes one token for key without waiting.
func (l *Limiter) TryAcquire(key string) bool {
	ok, _ := l.bucketFor(key).take(1, l.now())
	return ok
}

// Status describes the current state of one bucket.
type Status struct {
	Key       string
	Rate      float64
	Burst     int
	Available float64
}

// Status returns the current state of the bucket for key.
func (l *Limiter) Status(key string) Status {
	b := l.bucketFor(key)

	l.mu.Lock()
	cfg, ok := l.configs[key]
	l.mu.Unlock()
	if !ok {
		cfg = DefaultProfile
	}

	return Status{
		Key:       key,
		Rate:      cfg.RatePerSecond,
		Burst:     cfg.Burst,
		Available: b.available(l.now()),
	}
}

// SetConfig adds or replaces the profile for key. An existing bucket is
// recreated so the new limits take effect immediately.
func (l *Limiter) SetConfig(key string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.configs[key] = cfg
	delete(l.buckets, key)
	l.logger.Printf("rate limit for %q set to %.1f/s burst %d", key, cfg.RatePerSecond, cfg.Burst)
}
