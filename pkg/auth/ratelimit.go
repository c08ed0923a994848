package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an identity may issue another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter is a fixed-window limiter keyed by subject and tier.
// Counters live in memory and are not shared between replicas.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	now        func() time.Time

	mu       sync.Mutex
	counters map[string]*window
}

type window struct {
	count   int
	startAt time.Time
}

// NewInProcessLimiter creates a limiter. Tiers without an entry use
// defaultRPM; a limit of zero or less admits everything.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		counters:   make(map[string]*window),
	}
}

// Allow returns ErrTooManyRequests once the identity exhausts its window.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := tierOf(identity)

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.counters[key]
	if !ok || now.Sub(w.startAt) >= time.Minute {
		l.counters[key] = &window{count: 1, startAt: now}
		l.evictExpired(now)
		return nil
	}

	w.count++
	if w.count > rpm {
		return ErrTooManyRequests
	}
	return nil
}

// evictExpired drops windows that ended. Caller holds l.mu.
func (l *InProcessLimiter) evictExpired(now time.Time) {
	for key, w := range l.counters {
		if now.Sub(w.startAt) >= time.Minute {
			delete(l.counters, key)
		}
	}
}

func tierOf(identity *Identity) string {
	if identity.ServiceTier == "" {
		return "default"
	}
	return identity.ServiceTier
}
