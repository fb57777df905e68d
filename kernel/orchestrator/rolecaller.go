package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/telemetry"
)

// ErrCircuitOpen is returned (wrapped) when a role call is blocked by an
// open circuit breaker, distinguishing it from an exhausted-retries
// transient failure in emitted anomalies.
var ErrCircuitOpen = errors.New("orchestrator: circuit breaker open")

// RoleCaller applies the shared role-call policy (timeout, retry/backoff,
// per-role circuit breaker) around a role method invocation. One RoleCaller
// is constructed per orchestrator instance and holds one gobreaker.CircuitBreaker
// per role name, grounded on the sibling example repo jordigilh/kubernaut's
// circuitbreaker.Manager/gobreaker.Settings usage.
type RoleCaller struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	policies map[string]config.RoleCallPolicy
	fallback config.RoleCallPolicy
	logger   telemetry.Logger
}

// NewRoleCaller builds a RoleCaller. policies maps role name ("planner",
// "executor", "memory_writer", "auditor") to its call policy; fallback
// applies to any role name absent from policies.
func NewRoleCaller(policies map[string]config.RoleCallPolicy, fallback config.RoleCallPolicy, logger telemetry.Logger) *RoleCaller {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &RoleCaller{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		policies: policies,
		fallback: fallback,
		logger:   logger,
	}
}

func (rc *RoleCaller) policyFor(role string) config.RoleCallPolicy {
	if p, ok := rc.policies[role]; ok {
		return p
	}
	return rc.fallback
}

func (rc *RoleCaller) breakerFor(role string, policy config.RoleCallPolicy) *gobreaker.CircuitBreaker {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if b, ok := rc.breakers[role]; ok {
		return b
	}
	threshold := policy.CircuitBreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	resetMs := policy.CircuitBreakerResetMs
	if resetMs == 0 {
		resetMs = 30_000
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: role,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		Timeout: time.Duration(resetMs) * time.Millisecond,
	})
	rc.breakers[role] = b
	return b
}

// Call invokes fn for role under the role's timeout, circuit breaker, and
// retry/backoff policy. A blocked (open-circuit) call returns ErrCircuitOpen
// wrapped around the breaker's own error without invoking fn or consuming a
// retry attempt.
func (rc *RoleCaller) Call(ctx context.Context, role string, fn func(ctx context.Context) error) error {
	policy := rc.policyFor(role)
	breaker := rc.breakerFor(role, policy)

	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := pace(ctx, backoffDuration(policy, attempt)); err != nil {
				return err
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if policy.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(policy.TimeoutMs)*time.Millisecond)
		}
		_, err := breaker.Execute(func() (any, error) {
			return nil, fn(callCtx)
		})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			rc.logger.Warn(ctx, "orchestrator: role call blocked by open circuit", "role", role)
			return fmt.Errorf("%w: role %s: %w", ErrCircuitOpen, role, err)
		}
		lastErr = err
	}
	return fmt.Errorf("orchestrator: role %s call exhausted %d retries: %w", role, maxRetries, lastErr)
}

// pace blocks for d using a rate.Limiter reservation rather than a bare
// time.Sleep. A fresh limiter starts
// with a full token, so the first reservation is drained before taking the
// one that actually carries the delay.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(d), 1)
	limiter.Allow() // drain the initial token
	r := limiter.Reserve()
	if !r.OK() {
		return nil
	}
	t := time.NewTimer(r.Delay())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func backoffDuration(policy config.RoleCallPolicy, attempt int) time.Duration {
	base := policy.BackoffMs
	if base <= 0 {
		base = 100
	}
	ms := base
	for i := 1; i < attempt; i++ {
		ms *= 2
	}
	return time.Duration(ms) * time.Millisecond
}
