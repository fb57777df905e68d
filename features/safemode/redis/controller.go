// Package redis implements a Redis-backed Safe-Mode Controller (C11) for
// multi-process deployments that share one agent identity: each process
// runs its own kernel/fsm.Machine, so the consecutive-error count and the
// active flag live in Redis instead of in-process fields, the same
// "caller owns the *redis.Client" layering as features/approval/redis.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/autonomy-kernel/kernel/kernelerrors"
	"goa.design/autonomy-kernel/kernel/types"
)

// DefaultErrorThreshold matches kernel/safemode.DefaultErrorThreshold.
const DefaultErrorThreshold = 3

// Controller shares consecutive-error count and active state for one agent
// identity across every process holding a reference to the same Redis
// keyspace. Cooldown-based auto-exit falls naturally out of the active
// key's own TTL: once it expires, Active reports false without any
// background timer.
type Controller struct {
	client    *redis.Client
	keyPrefix string
	threshold int
	cooldown  time.Duration
}

// New constructs a Controller scoped to agentID. client is caller-owned.
func New(client *redis.Client, agentID string, threshold int, cooldown time.Duration) *Controller {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	return &Controller{
		client:    client,
		keyPrefix: "kernel:safemode:" + agentID + ":",
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (c *Controller) counterKey() string { return c.keyPrefix + "consecutive_errors" }
func (c *Controller) activeKey() string  { return c.keyPrefix + "active" }

// RecordFailure increments the shared consecutive-error counter and, once
// it reaches threshold, sets the active flag with a TTL of cooldown. It
// reports whether safe mode is active after this call.
func (c *Controller) RecordFailure(ctx context.Context) (bool, error) {
	count, err := c.client.Incr(ctx, c.counterKey()).Result()
	if err != nil {
		return false, err
	}
	if count < int64(c.threshold) {
		return false, nil
	}
	if err := c.client.Set(ctx, c.activeKey(), "1", c.cooldown).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// RecordSuccess resets the shared consecutive-error counter, mirroring the
// in-process kernel/fsm.Machine's reset-on-success behavior.
func (c *Controller) RecordSuccess(ctx context.Context) error {
	return c.client.Del(ctx, c.counterKey()).Err()
}

// Active reports whether safe mode is active for this agent identity in
// any process.
func (c *Controller) Active(ctx context.Context) (bool, error) {
	_, err := c.client.Get(ctx, c.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Admit enforces the safe-mode admission rule: only read-only tools are
// admitted while safe mode is active for this agent identity.
func (c *Controller) Admit(ctx context.Context, riskClass types.RiskClass) error {
	active, err := c.Active(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	if riskClass != types.RiskReadOnly {
		return kernelerrors.Newf(kernelerrors.Policy, "SAFE_MODE_ACTIVE: only read-only tools are admitted while in safe mode")
	}
	return nil
}

// ExitManual forces an exit for this agent identity across every process,
// regardless of the active key's remaining TTL.
func (c *Controller) ExitManual(ctx context.Context) error {
	return c.client.Del(ctx, c.activeKey(), c.counterKey()).Err()
}
