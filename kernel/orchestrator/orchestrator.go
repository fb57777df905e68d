package orchestrator

import (
	"context"
	"fmt"
	"time"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/safemode"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

// Orchestrator is the in-process Engine implementation: it drives
// Planner -> Executor -> MemoryWriter -> Auditor for one OrchestratedRequest,
// executing plan steps in dependsOn topological order.
type Orchestrator struct {
	Planner      Planner
	Executor     Executor
	MemoryWriter MemoryWriter
	Auditor      Auditor
	Machine      *fsm.Machine
	Bus          hooks.Bus
	RoleCaller   *RoleCaller
	Auth         map[string]config.RoleCallAuthorization
	Logger       telemetry.Logger

	// SafeMode, when set, is consulted before every step's Executor.Execute
	// call; a nil SafeMode never short-circuits. Registry resolves a step's
	// tool name to the risk class SafeMode.Admit needs; a step whose tool
	// is unknown to Registry (or Registry is nil) is treated as
	// RiskUndefined, which Admit only admits outside safe mode.
	SafeMode *safemode.Controller
	Registry *registry.Registry
}

var _ Engine = (*Orchestrator)(nil)

// New constructs an Orchestrator from its role implementations and shared
// infrastructure.
func New(planner Planner, executor Executor, memory MemoryWriter, auditor Auditor, machine *fsm.Machine, bus hooks.Bus, caller *RoleCaller, auth map[string]config.RoleCallAuthorization, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{
		Planner: planner, Executor: executor, MemoryWriter: memory, Auditor: auditor,
		Machine: machine, Bus: bus, RoleCaller: caller, Auth: auth, Logger: logger,
	}
}

// Execute runs the full Planner -> Executor -> MemoryWriter -> Auditor
// sequence for req.
func (o *Orchestrator) Execute(ctx context.Context, req OrchestratedRequest) types.OrchestratedResult {
	start := time.Now()
	result := types.OrchestratedResult{}

	// 1. Admission.
	if req.SourceTrust < 0 || req.SourceTrust > 1 {
		o.anomaly(ctx, "admission_denied", "sourceTrust out of range [0,1]", "")
		return o.finish(result, start)
	}
	if req.Identity.AgentID == "" {
		o.anomaly(ctx, "admission_denied", "missing identity configuration", "")
		return o.finish(result, start)
	}
	if !req.Identity.Active {
		o.anomaly(ctx, "admission_denied", "inactive identity cannot propose tool calls", "")
		return o.finish(result, start)
	}
	if !o.authorized("planner", req) {
		o.anomaly(ctx, "role_call_denied", "Role call denied: planner.createPlan sourceTrust or source not authorized", "planner")
		return o.finish(result, start)
	}

	// 2. Plan.
	if _, err := o.Machine.Fire(ctx, fsm.TriggerPlanRequested); err != nil {
		o.anomaly(ctx, "fsm_error", err.Error(), "")
		return o.finish(result, start)
	}

	var plan types.ExecutionPlan
	err := o.RoleCaller.Call(ctx, "planner", func(ctx context.Context) error {
		p, err := o.Planner.CreatePlan(ctx, req)
		if err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		o.anomaly(ctx, "planner_failed", err.Error(), "planner")
		return o.finish(result, start)
	}

	// 3. Validate plan.
	valid, issues, err := o.Planner.ValidatePlan(ctx, plan)
	if err != nil || !valid {
		o.anomaly(ctx, "plan_invalid", fmt.Sprintf("plan validation failed: %v %v", err, issues), "planner")
		return o.finish(result, start)
	}
	if _, err := o.Machine.Fire(ctx, fsm.TriggerPlanApproved); err != nil {
		o.anomaly(ctx, "fsm_error", err.Error(), "")
		return o.finish(result, start)
	}
	result.Plan = plan

	// 4. Execute steps respecting the dependency DAG.
	executions, criticalFailure := o.executeSteps(ctx, plan)
	result.Executions = executions
	for _, e := range executions {
		if e.Verification != nil {
			result.VerificationReports = append(result.VerificationReports, *e.Verification)
		}
	}

	// 5. Memory write (non-fatal).
	if _, err := o.Machine.Fire(ctx, fsm.TriggerWriteMemory); err == nil {
		result.MemoryReport = o.writeMemory(ctx, executions)
		_, _ = o.Machine.Fire(ctx, fsm.TriggerMemoryWritten)
	}

	// 6. Audit (non-fatal).
	if _, err := o.Machine.Fire(ctx, fsm.TriggerAuditRequested); err == nil {
		result.AuditReport = o.audit(ctx, plan, executions)
		_, _ = o.Machine.Fire(ctx, fsm.TriggerAuditComplete)
	}

	// 7. Aggregate success.
	allSucceeded := len(executions) > 0
	for _, e := range executions {
		if !e.Success {
			allSucceeded = false
			break
		}
	}
	result.Success = allSucceeded && !criticalFailure

	return o.finish(result, start)
}

// executeSteps runs plan.Steps respecting DependsOn topological order. A
// critical (unsuccessful) step result terminates the remaining steps.
func (o *Orchestrator) executeSteps(ctx context.Context, plan types.ExecutionPlan) ([]types.PipelineResult, bool) {
	completed := make(map[string]bool, len(plan.Steps))
	results := make([]types.PipelineResult, 0, len(plan.Steps))
	remaining := append([]types.PlanStep(nil), plan.Steps...)

	for len(remaining) > 0 {
		progressed := false
		var next []types.PlanStep
		for _, step := range remaining {
			if !dependenciesMet(step, completed) {
				next = append(next, step)
				continue
			}
			progressed = true
			call := types.ProposedToolCall{
				Tool:          step.ToolName,
				Params:        step.Params,
				RequestID:     ids.NewWithPrefix("step"),
				CorrelationID: plan.ID,
			}

			if res, denied := o.admitStep(ctx, call, step.ToolName); denied {
				results = append(results, res)
				completed[step.ID] = true
				return results, true
			}

			res := o.Executor.Execute(ctx, call)
			results = append(results, res)
			completed[step.ID] = true
			if !res.Success {
				return results, true
			}
		}
		if !progressed {
			// Remaining steps depend on something never completed; stop
			// rather than spin (should not happen for a validated DAG).
			break
		}
		remaining = next
	}
	return results, false
}

// admitStep consults SafeMode, if wired, for call's tool. denied is true
// when SafeMode has short-circuited the step, in which case the returned
// PipelineResult already carries the SAFE_MODE_ACTIVE failure.
func (o *Orchestrator) admitStep(ctx context.Context, call types.ProposedToolCall, toolName string) (types.PipelineResult, bool) {
	if o.SafeMode == nil {
		return types.PipelineResult{}, false
	}
	riskClass := types.RiskUndefined
	if o.Registry != nil {
		if contract, err := o.Registry.Get(toolName); err == nil {
			riskClass = contract.RiskClass
		}
	}
	if err := o.SafeMode.Admit(riskClass); err != nil {
		o.anomaly(ctx, "safe_mode_denied", err.Error(), "")
		return types.PipelineResult{RequestID: call.RequestID, ToolName: toolName, Success: false, Error: err.Error()}, true
	}
	return types.PipelineResult{}, false
}

func dependenciesMet(step types.PlanStep, completed map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func (o *Orchestrator) writeMemory(ctx context.Context, executions []types.PipelineResult) types.MemoryReport {
	candidates := make([]MemoryCandidate, len(executions))
	for i, e := range executions {
		candidates[i] = MemoryCandidate{StepID: e.RequestID, Result: e}
	}
	report := types.MemoryReport{Total: len(candidates)}

	decisions, err := o.MemoryWriter.WriteBatch(ctx, candidates)
	if err != nil {
		o.anomaly(ctx, "memory_write_failed", err.Error(), "memory_writer")
		return report
	}
	for _, d := range decisions {
		switch d.Action {
		case MemoryAllow:
			report.Allowed++
		case MemoryQuarantine:
			report.Quarantined++
		case MemoryReject:
			report.Rejected++
		}
	}
	return report
}

func (o *Orchestrator) audit(ctx context.Context, plan types.ExecutionPlan, executions []types.PipelineResult) types.AuditReport {
	report, err := o.Auditor.Audit(ctx, plan, executions)
	if err != nil {
		o.anomaly(ctx, "auditor_failed", err.Error(), "auditor")
		return types.AuditReport{}
	}
	return report
}

func (o *Orchestrator) authorized(role string, req OrchestratedRequest) bool {
	auth, ok := o.Auth[role]
	if !ok {
		return true
	}
	if req.SourceTrust < auth.MinSourceTrust {
		return false
	}
	if len(auth.AllowedSources) == 0 {
		return true
	}
	for _, s := range auth.AllowedSources {
		if types.Source(s) == req.Source {
			return true
		}
	}
	return false
}

func (o *Orchestrator) anomaly(ctx context.Context, kind, message, roleKind string) {
	o.Logger.Warn(ctx, "orchestrator: anomaly", "kind", kind, "message", message, "role", roleKind)
	if o.Bus != nil {
		o.Bus.Publish(ctx, hooks.Event{Kind: "orchestrator:anomaly", Payload: types.Anomaly{Kind: kind, Message: message, RoleKind: roleKind}})
	}
}

func (o *Orchestrator) finish(result types.OrchestratedResult, start time.Time) types.OrchestratedResult {
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
