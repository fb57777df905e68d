// Package verifier implements the Post-Condition Verifier (C5): a
// toolName-keyed registry of post-conditions run sequentially after
// execution, sharing kernel/checkrunner's timeout and panic discipline with
// the Invariant Checker (C6).
package verifier

import (
	"context"
	"sync"

	"goa.design/autonomy-kernel/kernel/checkrunner"
	"goa.design/autonomy-kernel/kernel/types"
)

// PostCondition is one condition registered against a tool name.
type PostCondition struct {
	ID       string
	Severity types.Severity
	Owner    string
	Check    func(ctx context.Context) (bool, error)
}

// Verifier holds post-conditions keyed by tool name.
type Verifier struct {
	mu    sync.RWMutex
	conds map[string][]PostCondition
}

// New constructs an empty Verifier.
func New() *Verifier {
	return &Verifier{conds: make(map[string][]PostCondition)}
}

// Register adds a post-condition for toolName. Multiple conditions may be
// registered for the same tool; they run in registration order.
func (v *Verifier) Register(toolName string, cond PostCondition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conds[toolName] = append(v.conds[toolName], cond)
}

// Coverage returns the number of post-conditions registered for toolName,
// for the postcondition-coverage CLI to check against the Tool Registry's
// contracts.
func (v *Verifier) Coverage(toolName string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.conds[toolName])
}

// Verify runs every post-condition registered for toolName. A tool with no
// registered conditions trivially passes.
func (v *Verifier) Verify(ctx context.Context, toolName string) types.VerificationReport {
	v.mu.RLock()
	conds := append([]PostCondition(nil), v.conds[toolName]...)
	v.mu.RUnlock()

	checks := make([]checkrunner.Check, len(conds))
	for i, c := range conds {
		checks[i] = checkrunner.Check{ID: c.ID, Severity: c.Severity, Owner: c.Owner, Fn: c.Check}
	}
	return checkrunner.Run(ctx, checks)
}
