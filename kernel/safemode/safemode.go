// Package safemode implements the Safe-Mode Controller (C11): it listens
// to Kernel State Machine transitions and forces escalate_safe_mode once
// the FSM's consecutiveErrors streak reaches a threshold, then admits only
// read-only tool calls until a manual or cooled-down automatic exit.
package safemode

import (
	"context"
	"sync"
	"time"

	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/kernelerrors"
	"goa.design/autonomy-kernel/kernel/types"
)

// DefaultErrorThreshold is used when Controller is constructed with a
// non-positive threshold.
const DefaultErrorThreshold = 3

// Controller subscribes to fsm:transition events and escalates to
// StateSafeMode once ConsecutiveErrors reaches its threshold.
type Controller struct {
	mu         sync.Mutex
	machine    *fsm.Machine
	threshold  int
	cooldown   time.Duration
	active     bool
	enteredAt  time.Time
	sub        hooks.Subscription
}

// New constructs and subscribes a Controller on bus. Call Close to
// unsubscribe.
func New(machine *fsm.Machine, bus hooks.Bus, threshold int, cooldown time.Duration) *Controller {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	c := &Controller{machine: machine, threshold: threshold, cooldown: cooldown}
	c.sub = bus.Register(hooks.SubscriberFunc(c.handle))
	return c
}

func (c *Controller) handle(ctx context.Context, event hooks.Event) {
	if event.Kind != "fsm:transition" {
		return
	}
	t, ok := event.Payload.(fsm.Transition)
	if !ok {
		return
	}
	if t.ConsecutiveErrors < c.threshold {
		return
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.enteredAt = time.Now()
	c.mu.Unlock()

	_, _ = c.machine.Fire(ctx, fsm.TriggerEscalateSafeMode)
}

// Active reports whether safe mode is currently engaged.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Admit enforces the safe-mode admission rule: only read-only tools are
// admitted while safe mode is active.
func (c *Controller) Admit(riskClass types.RiskClass) error {
	if !c.Active() {
		return nil
	}
	if riskClass != types.RiskReadOnly {
		return kernelerrors.Newf(kernelerrors.Policy, "SAFE_MODE_ACTIVE: only read-only tools are admitted while in safe mode")
	}
	return nil
}

// ExitManual forces an exit out of safe mode regardless of cooldown.
func (c *Controller) ExitManual(ctx context.Context) error {
	return c.exit(ctx)
}

// TryAutoExit exits safe mode if the cooldown has elapsed since entry.
func (c *Controller) TryAutoExit(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.active || time.Since(c.enteredAt) < c.cooldown {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()
	if err := c.exit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) exit(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	c.mu.Unlock()
	_, err := c.machine.Fire(ctx, fsm.TriggerExitSafeMode)
	return err
}

// Close unsubscribes the controller from its bus.
func (c *Controller) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
}
