// Package compensation implements the Compensation Registry (C7): a
// toolName-keyed map of compensation functions invoked when a tool
// execution must be undone, with panic/error normalization modeled on the
// teacher's runtime/agent/toolerrors.FromError.
package compensation

import (
	"context"
	"fmt"
	"sync"

	"goa.design/autonomy-kernel/kernel/types"
)

// Func undoes the effect of a prior tool execution.
type Func func(ctx context.Context) error

// Registry holds compensation functions keyed by tool name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register associates fn with toolName, replacing any prior registration.
func (r *Registry) Register(toolName string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[toolName] = fn
}

// Has reports whether toolName has a registered compensation.
func (r *Registry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[toolName]
	return ok
}

// Compensate invokes the registered compensation for toolName. A missing
// registration and a panicking/erroring compensation are both reported as
// a failed CompensationOutcome rather than propagated to the caller, so
// the pipeline can always proceed to emit tool:compensation:incident:opened
// on failure.
func (r *Registry) Compensate(ctx context.Context, toolName string) (outcome types.CompensationOutcome) {
	r.mu.RLock()
	fn, ok := r.funcs[toolName]
	r.mu.RUnlock()

	if !ok {
		return types.CompensationOutcome{
			Attempted: false,
			Success:   false,
			Detail:    "No compensation registered for " + toolName,
		}
	}

	outcome.Attempted = true
	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Detail = fmt.Sprint(r)
		}
	}()

	if err := fn(ctx); err != nil {
		outcome.Success = false
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}
