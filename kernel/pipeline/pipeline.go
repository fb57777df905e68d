// Package pipeline implements the Tool Execution Pipeline (C9), composing
// the Schema Validator (C2), Approval Gate (C4), Post-Condition Verifier
// (C5), Invariant Checker (C6), Compensation Registry (C7), and Kernel
// State Machine (C8) into the nine-phase execute operation. Grounded on
// the teacher's runtime/agent/runtime activity pipeline for the
// cancellable-goroutine-under-deadline idiom used to invoke the caller's
// action handler.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/autonomy-kernel/kernel/approval"
	"goa.design/autonomy-kernel/kernel/compensation"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/invariants"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
	"goa.design/autonomy-kernel/kernel/validator"
	"goa.design/autonomy-kernel/kernel/verifier"
)

// ActionHandler performs a tool's actual side effect. It must respect
// ctx's deadline; the pipeline treats an overrun as a timeout failure.
type ActionHandler func(ctx context.Context, toolName string, validatedParams json.RawMessage, requestID string) (json.RawMessage, error)

// Pipeline wires C2/C4/C5/C6/C7/C8 together behind the single Execute
// operation.
type Pipeline struct {
	Validator    *validator.Validator
	Approval     *approval.Gate
	Verifier     *verifier.Verifier
	Invariants   *invariants.Checker
	Compensation *compensation.Registry
	Events       eventstore.Store
	Machine      *fsm.Machine
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
}

// New constructs a Pipeline from its component dependencies. Pass
// telemetry.NewNoopLogger()/NewNoopMetrics() when observability is not
// wired.
func New(v *validator.Validator, a *approval.Gate, vf *verifier.Verifier, inv *invariants.Checker, comp *compensation.Registry, events eventstore.Store, machine *fsm.Machine, logger telemetry.Logger, metrics telemetry.Metrics) *Pipeline {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Pipeline{
		Validator: v, Approval: a, Verifier: vf, Invariants: inv,
		Compensation: comp, Events: events, Machine: machine,
		Logger: logger, Metrics: metrics,
	}
}

// Execute runs the nine-phase pipeline for call, invoking handler to
// perform the tool's actual side effect once validation and approval have
// cleared.
func (p *Pipeline) Execute(ctx context.Context, call types.ProposedToolCall, handler ActionHandler) types.PipelineResult {
	start := time.Now()
	result := types.PipelineResult{RequestID: call.RequestID, ToolName: call.Tool}
	compensated := false // OQ1: at most one compensation attempt per pass

	// Phase 1: Propose.
	p.appendEvent(ctx, call.RequestID, types.EventToolProposed, call.CorrelationID, map[string]any{
		"tool": call.Tool, "source": call.Source,
	})

	// An asserted but inactive identity is rejected before validation even
	// runs; a call with no identity asserted (AgentID == "") is unaffected,
	// since identity enforcement is opt-in per caller.
	if call.Identity.AgentID != "" && !call.Identity.Active {
		result.Success = false
		result.Error = "Inactive identity"
		p.appendEvent(ctx, call.RequestID, types.EventToolFailed, call.CorrelationID, map[string]any{"reason": "inactive_identity"})
		return p.finish(result, start)
	}

	// Phase 2: Validate.
	validation := p.Validator.Validate(call)
	p.appendEvent(ctx, call.RequestID, types.EventToolValidated, call.CorrelationID, validation)
	result.Validation = validation
	if !validation.Valid {
		result.Success = false
		result.Error = "Validation failed"
		return p.finish(result, start)
	}

	// Phase 3: Decide approval.
	if validation.RequiresApproval {
		req, err := p.Approval.Request(ctx, call.RequestID, call.Tool, validation.RiskClass, validation.ValidatedParams, call.Source, call.CorrelationID)
		if err != nil {
			result.Success = false
			result.Error = "Approval denied"
			return p.finish(result, start)
		}
		result.Approval = &types.ApprovalOutcome{Required: true, Decision: req.Decision, DecidedBy: req.DecidedBy}
		if req.Decision != types.DecisionApproved {
			result.Success = false
			result.Error = "Approval denied"
			return p.finish(result, start)
		}
	} else {
		result.Approval = &types.ApprovalOutcome{Required: false}
	}

	// Phase 4: Transition to executing.
	if _, err := p.Machine.Fire(ctx, fsm.TriggerToolValidated); err != nil {
		result.Success = false
		result.Error = err.Error()
		return p.finish(result, start)
	}

	// Phase 5: Execute.
	p.appendEvent(ctx, call.RequestID, types.EventToolExecuting, call.CorrelationID, map[string]any{"tool": call.Tool})
	execStart := time.Now()
	timeout := defaultTimeout
	if validation.TimeoutMs > 0 {
		timeout = time.Duration(validation.TimeoutMs) * time.Millisecond
	}
	execResult, execErr := p.invokeHandler(ctx, handler, call, validation.ValidatedParams, timeout)
	durationMs := time.Since(execStart).Milliseconds()

	if execErr != nil {
		reason := "execution_error"
		if execErr == errExecutionTimeout {
			reason = "timeout"
		}
		p.appendEvent(ctx, call.RequestID, types.EventToolExecuted, call.CorrelationID, map[string]any{"durationMs": durationMs, "error": execErr.Error()})
		p.appendEvent(ctx, call.RequestID, types.EventToolFailed, call.CorrelationID, map[string]any{"reason": reason})
		_, _ = p.Machine.Fire(ctx, fsm.TriggerFatalError)
		_, _ = p.Machine.Fire(ctx, fsm.TriggerRecover)
		result.Success = false
		result.Error = execErr.Error()
		return p.finish(result, start)
	}
	p.appendEvent(ctx, call.RequestID, types.EventToolExecuted, call.CorrelationID, map[string]any{"durationMs": durationMs, "result": execResult})
	result.Result = execResult

	// Phase 6: Transition to verifying.
	if _, err := p.Machine.Fire(ctx, fsm.TriggerExecutionComplete); err != nil {
		result.Success = false
		result.Error = err.Error()
		return p.finish(result, start)
	}

	// Phase 7: Verify.
	verification := p.Verifier.Verify(ctx, call.Tool)
	p.appendEvent(ctx, call.RequestID, types.EventToolVerified, call.CorrelationID, verification)
	result.Verification = &verification
	if verification.HasCriticalFailure {
		return p.failWithCompensation(ctx, call, result, &compensated, start)
	}

	// Phase 8: Invariants. Verification already passed, so the outcome is
	// provisionally a success; failWithCompensation flips it if an
	// invariant fires.
	pendingApprovals := len(p.Approval.GetPending())
	eventsForRequest, err := p.Events.GetByRequestID(ctx, call.RequestID)
	if err != nil {
		p.Logger.Error(ctx, "pipeline: event count lookup failed", "error", err.Error())
	}
	eventCount := len(eventsForRequest)
	provisional := result
	provisional.Success = true
	invResult := p.Invariants.Check(ctx, invariants.Context{
		State:             p.Machine.State(),
		PendingApprovals:  pendingApprovals,
		EventCountForCall: eventCount,
		Result:            &provisional,
	})
	p.appendEvent(ctx, call.RequestID, types.EventInvariantsChecked, call.CorrelationID, invResult)
	result.Invariants = &invResult
	if invResult.HasCriticalFailure {
		return p.failWithCompensation(ctx, call, result, &compensated, start)
	}

	// Phase 9: Success.
	if _, err := p.Machine.Fire(ctx, fsm.TriggerVerificationPassed); err != nil {
		result.Success = false
		result.Error = err.Error()
		return p.finish(result, start)
	}
	result.Success = true
	p.appendEvent(ctx, call.RequestID, types.EventDecisionLogged, call.CorrelationID, result)
	return p.finish(result, start)
}

// failWithCompensation runs the shared verification-failed/invariant-failed
// path: attempt compensation at most once, transition to error then
// recover, and return a failure result.
func (p *Pipeline) failWithCompensation(ctx context.Context, call types.ProposedToolCall, result types.PipelineResult, compensated *bool, start time.Time) types.PipelineResult {
	if !*compensated {
		*compensated = true
		outcome := p.Compensation.Compensate(ctx, call.Tool)
		result.Compensation = &outcome
		p.appendEvent(ctx, call.RequestID, types.EventToolCompensated, call.CorrelationID, outcome)
		if !outcome.Success {
			p.appendEvent(ctx, call.RequestID, types.EventCompensationIncidentOpened, call.CorrelationID, outcome)
		}
	}
	_, _ = p.Machine.Fire(ctx, fsm.TriggerVerificationFailed)
	_, _ = p.Machine.Fire(ctx, fsm.TriggerRecover)
	result.Success = false
	result.Error = "Verification failed"
	return p.finish(result, start)
}

func (p *Pipeline) finish(result types.PipelineResult, start time.Time) types.PipelineResult {
	result.DurationMs = time.Since(start).Milliseconds()
	p.Metrics.RecordTimer("kernel.pipeline.duration", time.Since(start), "tool", result.ToolName)
	if result.Success {
		p.Metrics.IncCounter("kernel.pipeline.success", 1, "tool", result.ToolName)
	} else {
		p.Metrics.IncCounter("kernel.pipeline.failure", 1, "tool", result.ToolName)
	}
	return result
}

const defaultTimeout = 30 * time.Second

var errExecutionTimeout = fmt.Errorf("execution timed out")

// invokeHandler runs handler under a cancellable goroutine and a timeout,
// the teacher's standard blocking-call-under-deadline idiom: the goroutine
// is abandoned (not killed) if it overruns, but its result is discarded.
func (p *Pipeline) invokeHandler(ctx context.Context, handler ActionHandler, call types.ProposedToolCall, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := handler(callCtx, call.Tool, params, call.RequestID)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-callCtx.Done():
		return nil, errExecutionTimeout
	}
}

func (p *Pipeline) appendEvent(ctx context.Context, requestID string, typ types.EventType, correlationID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.Logger.Error(ctx, "pipeline: marshal event payload failed", "error", err.Error(), "type", string(typ))
		return
	}
	if _, err := p.Events.Append(ctx, requestID, typ, raw, correlationID); err != nil {
		p.Logger.Error(ctx, "pipeline: append event failed", "error", err.Error(), "type", string(typ))
	}
}
