package authhttp

import (
	"time"

	memorylimiter "github.com/open-rails/profilekit/ratelimit/memory"
	redislimiter "github.com/open-rails/profilekit/ratelimit/redis"
)

// RateLimiter is a minimal interface used by adapters.
type RateLimiter interface {
	AllowNamed(bucket string, key string) (bool, error)
}

// Limit configures a named rate limit bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimits returns the built-in per-endpoint limits, enforced per client IP
// as determined by the Service's ClientIPFunc. Hosts can override by supplying their
// own limiter via WithRateLimiter(...).
func DefaultRateLimits() map[string]Limit {
	return map[string]Limit{
		"default": {Limit: 120, Window: time.Minute},

		RLAuthRegister:  {Limit: 10, Window: time.Hour},
		RLPasswordLogin: {Limit: 20, Window: time.Hour},
		RLAuthLogout:    {Limit: 60, Window: 10 * time.Minute},

		RLOIDCStart:    {Limit: 30, Window: 10 * time.Minute},
		RLOIDCCallback: {Limit: 60, Window: 10 * time.Minute},

		RLUserMe:        {Limit: 120, Window: time.Minute},
		RLUserBiography: {Limit: 30, Window: time.Hour},

		RLAdminReconcile:           {Limit: 12, Window: time.Hour},
		RLAdminProviderCredentials: {Limit: 12, Window: time.Hour},
	}
}

func ToMemoryLimits(in map[string]Limit) map[string]memorylimiter.Limit {
	out := make(map[string]memorylimiter.Limit, len(in))
	for k, v := range in {
		out[k] = memorylimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

func ToRedisLimits(in map[string]Limit) map[string]redislimiter.Limit {
	out := make(map[string]redislimiter.Limit, len(in))
	for k, v := range in {
		out[k] = redislimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}
