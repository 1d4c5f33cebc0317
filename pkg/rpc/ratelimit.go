package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool lazily creates one token bucket per key, grounded on the
// same lazy-bucket-per-key pattern used for API-key rate limiting
// elsewhere in the pack.
type limiterPool struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(perMinute int) *limiterPool {
	return &limiterPool{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.buckets[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.buckets[key] = l
	}
	return l
}

// Allow reports whether a request keyed on key may proceed now.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimits bundles the public and authenticated token-bucket pools.
type RateLimits struct {
	Public        *limiterPool
	Authenticated *limiterPool
}

// DefaultPublicPerMinute and DefaultAuthenticatedPerMinute match the
// rate-limiting defaults named in the component design.
const (
	DefaultPublicPerMinute        = 600
	DefaultAuthenticatedPerMinute = 300
)

// NewRateLimits builds the default pool pair.
func NewRateLimits() *RateLimits {
	return NewRateLimitsWithRates(DefaultPublicPerMinute, DefaultAuthenticatedPerMinute)
}

// NewRateLimitsWithRates builds the pool pair at the given per-minute
// rates, falling back to the defaults for any non-positive value.
func NewRateLimitsWithRates(publicPerMinute, authenticatedPerMinute int) *RateLimits {
	if publicPerMinute <= 0 {
		publicPerMinute = DefaultPublicPerMinute
	}
	if authenticatedPerMinute <= 0 {
		authenticatedPerMinute = DefaultAuthenticatedPerMinute
	}
	return &RateLimits{
		Public:        newLimiterPool(publicPerMinute),
		Authenticated: newLimiterPool(authenticatedPerMinute),
	}
}
