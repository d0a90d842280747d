package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused bucket is kept.
const idleLimiterTTL = time.Hour

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter applies DefaultLimits with in-process token buckets. It
// serves single-instance deployments without Redis; IP blocking is not
// available.
type LocalRateLimiter struct {
	table     limitTable
	logger    zerolog.Logger
	whitelist whitelist
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLocalRateLimiter creates an in-memory limiter.
func NewLocalRateLimiter(logger zerolog.Logger, cfg RateLimiterConfig) *LocalRateLimiter {
	return &LocalRateLimiter{
		table:     newLimitTable(DefaultLimits()),
		logger:    logger,
		whitelist: newWhitelist(cfg.Whitelist, logger),
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

func (l *LocalRateLimiter) limiterFor(key string, limit RateLimit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		every := limit.Window / time.Duration(limit.Requests)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), limit.Requests)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Middleware returns the rate limiting middleware.
func (l *LocalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if l.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		limit := l.table.find(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		lim := l.limiterFor(key, *limit)
		now := l.now()
		allowed := lim.AllowN(now, 1)

		tokens := lim.TokensAt(now)
		remaining := int(math.Max(0, math.Floor(tokens)))
		// Time until the bucket is full again.
		refill := time.Duration((float64(limit.Requests) - tokens) / float64(lim.Limit()) * float64(time.Second))
		resetAt := now.Add(refill)
		setLimitHeaders(w, limit.Requests, remaining, resetAt)

		if !allowed {
			wait := time.Duration((1 - tokens) / float64(lim.Limit()) * float64(time.Second))
			rejectRateLimited(w, r, l.logger, ip, key, now.Add(wait))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sweep drops buckets idle for longer than an hour.
func (l *LocalRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleLimiterTTL)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
