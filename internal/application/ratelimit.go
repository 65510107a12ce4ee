package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

// RateLimitPolicy is one counter scope: how many increments fit in one
// window, and what happens when the counter store itself is down.
type RateLimitPolicy struct {
	Limit  int64
	Window time.Duration
	// FailOpen admits traffic when the counter store errors. The per-client
	// scope fails open (a cache outage must not take the gateway down); the
	// global scope fails closed (it exists to protect the backend).
	FailOpen bool
}

func (p RateLimitPolicy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// RateLimiter layers the per-client and global admission counters on a
// shared counter store.
type RateLimiter struct {
	counters ports.CounterStore
	logger   *slog.Logger
	ip       RateLimitPolicy
	global   RateLimitPolicy
}

func NewRateLimiter(counters ports.CounterStore, ip, global RateLimitPolicy, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		counters: counters,
		logger:   logger,
		ip:       ip,
		global:   global,
	}
}

// CheckIP enforces the per-client window for one source address.
func (r *RateLimiter) CheckIP(ctx context.Context, ip string) error {
	if r == nil {
		return nil
	}
	if ip == "" {
		ip = "unknown"
	}
	return r.check(ctx, domain.RateLimitScopeIP, "ip:"+ip, r.ip)
}

// CheckGlobal enforces the service-wide window.
func (r *RateLimiter) CheckGlobal(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.check(ctx, domain.RateLimitScopeGlobal, "global", r.global)
}

func (r *RateLimiter) check(ctx context.Context, scope domain.RateLimitScope, key string, policy RateLimitPolicy) error {
	if r.counters == nil || !policy.enabled() {
		return nil
	}
	count, err := r.counters.IncrWithTTL(ctx, key, policy.Window)
	if err != nil {
		if policy.FailOpen {
			r.logger.Warn("rate limit check degraded, admitting",
				slog.String("scope", string(scope)),
				slog.String("error", err.Error()))
			return nil
		}
		r.logger.Error("rate limit check failed, rejecting",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
		return domain.NewRateLimitError(scope, policy.Limit)
	}
	if count > policy.Limit {
		return domain.NewRateLimitError(scope, policy.Limit)
	}
	return nil
}
