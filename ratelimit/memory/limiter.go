// Package memorylimiter is a per-key token bucket limiter for single-node deployments.
package memorylimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit allows Limit events per Window, with bursts up to Limit.
type Limit struct {
	Limit  int
	Window time.Duration
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key. Buckets without a configured limit
// fall back to the "default" limit; when that is absent too, the call is allowed.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	keys    map[string]*entry
	idleTTL time.Duration
	now     func() time.Time
	lastGC  time.Time
}

func New(limits map[string]Limit) *Limiter {
	return &Limiter{
		limits:  limits,
		keys:    make(map[string]*entry),
		idleTTL: time.Hour,
		now:     time.Now,
	}
}

func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gc(now)
	e := l.keys[key]
	if e == nil {
		every := rate.Every(lim.Window / time.Duration(lim.Limit))
		e = &entry{lim: rate.NewLimiter(every, lim.Limit)}
		l.keys[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1), nil
}

// gc drops buckets idle for longer than idleTTL. Called with mu held.
func (l *Limiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < time.Minute {
		return
	}
	l.lastGC = now
	for k, e := range l.keys {
		if now.Sub(e.seen) > l.idleTTL {
			delete(l.keys, k)
		}
	}
}
