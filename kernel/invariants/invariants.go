// Package invariants implements the Invariant Checker (C6): cross-system
// checks run against the full pipeline context rather than a single tool's
// output, sharing kernel/checkrunner's execution discipline with the
// Post-Condition Verifier (C5). Ships the three built-in invariants the
// spec mandates as a minimum set.
package invariants

import (
	"context"
	"sync"

	"goa.design/autonomy-kernel/kernel/checkrunner"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/types"
)

// Context is the cross-system state an invariant may inspect: the FSM
// state at evaluation time, the number of currently pending approvals, the
// number of events recorded for the request so far, and the pipeline
// result produced for the request (nil until execution completes).
type Context struct {
	State             fsm.State
	PendingApprovals  int
	EventCountForCall int
	Result            *types.PipelineResult
}

// Invariant is one cross-system check.
type Invariant struct {
	ID       string
	Severity types.Severity
	Owner    string
	Check    func(ctx context.Context, pc Context) (bool, error)
}

// Checker holds the registered invariants and evaluates them against a
// Context.
type Checker struct {
	mu         sync.RWMutex
	invariants []Invariant
}

// New constructs a Checker with no invariants registered.
func New() *Checker {
	return &Checker{}
}

// Register adds inv to the set evaluated by Check.
func (c *Checker) Register(inv Invariant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invariants = append(c.invariants, inv)
}

// Check runs every registered invariant against pc.
func (c *Checker) Check(ctx context.Context, pc Context) types.VerificationReport {
	c.mu.RLock()
	invs := append([]Invariant(nil), c.invariants...)
	c.mu.RUnlock()

	checks := make([]checkrunner.Check, len(invs))
	for i, inv := range invs {
		inv := inv
		checks[i] = checkrunner.Check{
			ID:       inv.ID,
			Severity: inv.Severity,
			Owner:    inv.Owner,
			Fn: func(ctx context.Context) (bool, error) {
				return inv.Check(ctx, pc)
			},
		}
	}
	return checkrunner.Run(ctx, checks)
}

// RegisterBuiltins registers the minimum built-in invariant set: event
// store hash-chain integrity for the request, no orphaned approvals for a
// completed request, and state-machine consistency with the outcome.
func RegisterBuiltins(c *Checker, events eventstore.Store, requestID string) {
	c.Register(Invariant{
		ID:       "event-store-hash-chain-integrity",
		Severity: types.SeverityCritical,
		Owner:    "kernel",
		Check: func(ctx context.Context, _ Context) (bool, error) {
			evs, err := events.GetByRequestID(ctx, requestID)
			if err != nil {
				return false, err
			}
			for _, ev := range evs {
				ok, err := eventstore.VerifyEventHash(ev)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		},
	})

	c.Register(Invariant{
		ID:       "no-orphaned-approvals",
		Severity: types.SeverityCritical,
		Owner:    "kernel",
		Check: func(_ context.Context, pc Context) (bool, error) {
			if pc.Result == nil {
				return true, nil
			}
			return pc.PendingApprovals == 0, nil
		},
	})

	c.Register(Invariant{
		ID:       "state-machine-consistency",
		Severity: types.SeverityCritical,
		Owner:    "kernel",
		Check: func(_ context.Context, pc Context) (bool, error) {
			if pc.Result == nil {
				return true, nil
			}
			if pc.Result.Success {
				// A provisional success result is checked from StateVerifying,
				// one trigger away from Idle; a post-hoc check of a finished
				// request sees Idle directly.
				return pc.State == fsm.StateIdle || pc.State == fsm.StateVerifying, nil
			}
			return pc.State == fsm.StateIdle || pc.State == fsm.StateError || pc.State == fsm.StateSafeMode, nil
		},
	})
}
