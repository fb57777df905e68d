// Package fsm implements the Kernel State Machine (C8): a table-driven
// finite state machine in the shape of the teacher's
// runtime/agent/runtime workflow state machine — a map[State]map[Trigger]State
// transition table, a mutex-guarded current state, and a synchronous
// observer bus with panic recovery so a misbehaving observer never affects
// the machine itself.
package fsm

import (
	"context"
	"fmt"
	"sync"

	"goa.design/autonomy-kernel/kernel/hooks"
)

// State is one state of the Kernel State Machine.
type State string

const (
	StateIdle          State = "idle"
	StatePlanning      State = "planning"
	StateExecuting     State = "executing"
	StateVerifying     State = "verifying"
	StateWritingMemory State = "writing_memory"
	StateAuditing      State = "auditing"
	StateSafeMode      State = "safe_mode"
	StateError         State = "error"
)

// Trigger names an event that drives a transition.
type Trigger string

const (
	TriggerPlanRequested       Trigger = "plan_requested"
	TriggerPlanApproved        Trigger = "plan_approved"
	TriggerToolValidated       Trigger = "tool_validated"
	TriggerExecutionComplete   Trigger = "execution_complete"
	TriggerVerificationPassed  Trigger = "verification_passed"
	TriggerVerificationFailed  Trigger = "verification_failed"
	TriggerFatalError          Trigger = "fatal_error"
	TriggerRecover             Trigger = "recover"
	TriggerEscalateSafeMode    Trigger = "escalate_safe_mode"
	TriggerExitSafeMode        Trigger = "exit_safe_mode"
	TriggerWriteMemory         Trigger = "write_memory"
	TriggerMemoryWritten       Trigger = "memory_written"
	TriggerAuditRequested      Trigger = "audit_requested"
	TriggerAuditComplete       Trigger = "audit_complete"
)

// anyState is the wildcard source used for triggers valid from every
// state (escalate_safe_mode).
const anyState State = "*"

// table is the fixed transition table from the state machine's
// specification: table[from][trigger] = to.
var table = map[State]map[Trigger]State{
	StateIdle: {
		TriggerPlanRequested:  StatePlanning,
		TriggerToolValidated:  StateExecuting,
		TriggerWriteMemory:    StateWritingMemory,
		TriggerAuditRequested: StateAuditing,
	},
	StatePlanning: {
		TriggerPlanApproved: StateIdle,
	},
	StateExecuting: {
		TriggerExecutionComplete: StateVerifying,
		TriggerFatalError:        StateError,
	},
	StateVerifying: {
		TriggerVerificationPassed: StateIdle,
		TriggerVerificationFailed: StateError,
	},
	StateError: {
		TriggerRecover: StateIdle,
	},
	StateSafeMode: {
		TriggerExitSafeMode: StateIdle,
	},
	StateWritingMemory: {
		TriggerMemoryWritten: StateIdle,
	},
	StateAuditing: {
		TriggerAuditComplete: StateIdle,
	},
	anyState: {
		TriggerEscalateSafeMode: StateSafeMode,
	},
}

// ErrIllegalTransition is returned when no edge exists for (state, trigger).
type ErrIllegalTransition struct {
	From    State
	Trigger Trigger
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("fsm: illegal transition: no edge from %q on trigger %q", e.From, e.Trigger)
}

// Machine is the Kernel State Machine. Zero value is not usable; construct
// with New.
type Machine struct {
	mu                sync.Mutex
	state             State
	consecutiveErrors int
	bus               hooks.Bus
}

// New constructs a Machine starting in StateIdle, publishing transitions on
// bus (pass hooks.NewBus(logger) or a shared bus if one already exists).
func New(bus hooks.Bus) *Machine {
	return &Machine{state: StateIdle, bus: bus}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConsecutiveErrors returns the current error-streak counter used by the
// Safe-Mode Controller.
func (m *Machine) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

// Fire applies trigger to the current state. It returns ErrIllegalTransition
// if no edge exists from the current state (or the wildcard state) on
// trigger. On success the new state is published to observers after the
// internal lock is released, so an observer can safely call back into the
// Machine.
func (m *Machine) Fire(ctx context.Context, trigger Trigger) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := table[from][trigger]
	if !ok {
		to, ok = table[anyState][trigger]
	}
	if !ok {
		m.mu.Unlock()
		return from, &ErrIllegalTransition{From: from, Trigger: trigger}
	}

	switch trigger {
	case TriggerVerificationFailed, TriggerFatalError:
		m.consecutiveErrors++
	case TriggerVerificationPassed, TriggerPlanApproved, TriggerMemoryWritten, TriggerAuditComplete, TriggerRecover, TriggerExitSafeMode:
		m.consecutiveErrors = 0
	}

	m.state = to
	consecutive := m.consecutiveErrors
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(ctx, hooks.Event{
			Kind: "fsm:transition",
			Payload: Transition{
				From:              from,
				Trigger:           trigger,
				To:                to,
				ConsecutiveErrors: consecutive,
			},
		})
	}
	return to, nil
}

// Transition describes one completed state change, delivered to observers.
type Transition struct {
	From              State
	Trigger           Trigger
	To                State
	ConsecutiveErrors int
}
