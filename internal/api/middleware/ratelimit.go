package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// DefaultLimits are the per-IP and per-key request limits. Patterns match
// "METHOD path" by prefix; the longest matching pattern wins.
func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"POST /api/v1/agents/register":       {10, time.Hour, ipKey},
		"POST /api/v1/agents/request-verify": {5, time.Hour, ipKey},
		"GET /api/v1/agents/verify/":         {20, time.Hour, ipKey},
		"POST /api/v1/newsletter/subscribe":  {5, time.Hour, ipKey},
		"GET /api/v1/search":                 {30, time.Minute, agentKey},
		"POST /api/v1/agents/me/avatar":      {10, time.Hour, agentKey},
		"POST /api/v1/":                      {120, time.Minute, agentKey},
		"PATCH /api/v1/":                     {60, time.Minute, agentKey},
		"DELETE /api/v1/":                    {120, time.Minute, agentKey},
		"GET /api/v1/":                       {300, time.Minute, agentKey},
	}
}

// limitTable resolves the limit of a request.
type limitTable struct {
	limits   map[string]RateLimit
	patterns []string
}

func newLimitTable(limits map[string]RateLimit) limitTable {
	patterns := make([]string, 0, len(limits))
	for p := range limits {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	return limitTable{limits: limits, patterns: patterns}
}

// find returns the matching rate limit for a request.
func (t limitTable) find(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path
	for _, pattern := range t.patterns {
		if strings.HasPrefix(key, pattern) {
			l := t.limits[pattern]
			return &l
		}
	}
	return nil
}

// whitelist holds IPs and CIDRs exempt from limiting.
type whitelist struct {
	nets []*net.IPNet
	ips  map[string]bool
}

func newWhitelist(entries []string, logger zerolog.Logger) whitelist {
	wl := whitelist{ips: make(map[string]bool)}
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			wl.nets = append(wl.nets, ipNet)
		} else {
			// Single IP
			wl.ips[entry] = true
		}
	}

	if len(entries) > 0 {
		logger.Info().
			Int("ips", len(wl.ips)).
			Int("cidrs", len(wl.nets)).
			Msg("rate limit whitelist configured")
	}
	return wl
}

// contains checks if an IP is in the whitelist.
func (wl whitelist) contains(ipStr string) bool {
	if wl.ips[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range wl.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RateLimiter implements sliding window rate limiting in Redis.
type RateLimiter struct {
	client           *redis.Client
	table            limitTable
	blocker          *IPBlocker
	logger           zerolog.Logger
	whitelist        whitelist
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		client:           client,
		table:            newLimitTable(DefaultLimits()),
		blocker:          NewIPBlocker(client),
		logger:           logger,
		whitelist:        newWhitelist(cfg.Whitelist, logger),
		autoBlockEnabled: cfg.AutoBlockEnabled,
	}
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// agentKey returns rate limit key based on the hashed API key, falling
// back to the client IP for anonymous requests.
func agentKey(r *http.Request) string {
	key := APIKey(r)
	if key == "" {
		return "ratelimit:ip:" + RealIP(r)
	}
	return "ratelimit:agent:" + crypto.HashAPIKey(key)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	// Check Fly.io header first
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	// Then X-Forwarded-For
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	// Then X-Real-IP
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement checks rate limit and increments counter.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	// Use a fixed window key based on current time bucket
	windowKey := fmt.Sprintf("%s:%d", key, now.Unix()/int64(window.Seconds()))

	pipe := rl.client.Pipeline()

	// Remove old entries outside window
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count current entries
	countCmd := pipe.ZCard(ctx, windowKey)

	// Add current request with unique member
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Set TTL on key
	pipe.Expire(ctx, windowKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open while Redis is unavailable
		rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit, now.Add(window)
	}

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(window)
	allowed := count < int64(limit)

	return allowed, remaining, resetAt
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		// Skip rate limiting for whitelisted IPs
		if rl.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		// Check IP block first
		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			WriteError(w, http.StatusForbidden, "Temporarily blocked", "FORBIDDEN", "")
			return
		}

		// Find matching limit
		limit := rl.table.find(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)
		setLimitHeaders(w, limit.Requests, remaining, resetAt)

		if !allowed {
			rl.trackViolation(r.Context(), ip)
			rejectRateLimited(w, r, rl.logger, ip, key, resetAt)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, ip, key string, resetAt time.Time) {
	retry := int(time.Until(resetAt).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))

	metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
	logger.Warn().
		Str("type", "security").
		Str("event", "rate_limit_exceeded").
		Str("ip", ip).
		Str("endpoint", r.URL.Path).
		Str("key", key).
		Msg("rate limit exceeded")

	WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded", "RATE_LIMITED",
		"Try again after "+resetAt.UTC().Format(time.RFC3339))
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	key := fmt.Sprintf("violations:ip:%s", ip)
	count, _ := rl.client.Incr(ctx, key).Result()
	rl.client.Expire(ctx, key, time.Hour)

	if count >= 10 {
		rl.blocker.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	exists, _ := b.client.Exists(ctx, key).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Set(ctx, key, reason, duration)
}

// Unblock removes an IP block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Del(ctx, key)
}
