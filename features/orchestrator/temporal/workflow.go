package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/types"
)

// WorkflowName is registered with the worker and referenced by Engine.Execute.
const WorkflowName = "AutonomyKernelOrchestration"

// WorkflowInput is the durable workflow's marshaled argument. Auth is
// flattened from config.RoleCallAuthorization at Engine construction time
// since workflow input must be a plain, replay-stable value.
type WorkflowInput struct {
	Request orchestrator.OrchestratedRequest
	Auth    map[string]RoleAuthorization
}

// RoleAuthorization mirrors config.RoleCallAuthorization without importing
// the config package's yaml tags into workflow-visible state.
type RoleAuthorization struct {
	MinSourceTrust float64
	AllowedSources []string
}

var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	},
}

// OrchestrateWorkflow is the durable counterpart of
// kernel/orchestrator.Orchestrator.Execute: same admission check, plan,
// execute-steps-respecting-DAG, memory write, audit sequence, but every
// role call is a Temporal activity so the run survives a worker restart
// mid-plan.
func OrchestrateWorkflow(ctx workflow.Context, in WorkflowInput) (types.OrchestratedResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions)
	start := workflow.Now(ctx)
	result := types.OrchestratedResult{}
	req := in.Request

	if req.SourceTrust < 0 || req.SourceTrust > 1 {
		return finish(result, start, ctx), nil
	}
	if req.Identity.AgentID == "" {
		return finish(result, start, ctx), nil
	}
	if !req.Identity.Active {
		return finish(result, start, ctx), nil
	}
	if !authorized("planner", req, in.Auth) {
		return finish(result, start, ctx), nil
	}

	var planOut CreatePlanOutput
	if err := workflow.ExecuteActivity(ctx, ActivityCreatePlan, req).Get(ctx, &planOut); err != nil {
		return finish(result, start, ctx), nil
	}
	plan := planOut.Plan

	var validateOut ValidatePlanOutput
	if err := workflow.ExecuteActivity(ctx, ActivityValidatePlan, plan).Get(ctx, &validateOut); err != nil || !validateOut.Valid {
		return finish(result, start, ctx), nil
	}
	result.Plan = plan

	executions, criticalFailure := executeSteps(ctx, plan)
	result.Executions = executions
	for _, e := range executions {
		if e.Verification != nil {
			result.VerificationReports = append(result.VerificationReports, *e.Verification)
		}
	}

	result.MemoryReport = writeMemory(ctx, executions)

	var auditOut types.AuditReport
	if err := workflow.ExecuteActivity(ctx, ActivityAudit, AuditInput{Plan: plan, Executions: executions}).Get(ctx, &auditOut); err == nil {
		result.AuditReport = auditOut
	}

	allSucceeded := len(executions) > 0
	for _, e := range executions {
		if !e.Success {
			allSucceeded = false
			break
		}
	}
	result.Success = allSucceeded && !criticalFailure

	return finish(result, start, ctx), nil
}

func executeSteps(ctx workflow.Context, plan types.ExecutionPlan) ([]types.PipelineResult, bool) {
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
			var res types.PipelineResult
			err := workflow.ExecuteActivity(ctx, ActivityExecuteStep, ExecuteStepInput{Step: step, PlanID: plan.ID}).Get(ctx, &res)
			if err != nil {
				res = types.PipelineResult{RequestID: step.ID, ToolName: step.ToolName, Success: false, Error: err.Error()}
			}
			results = append(results, res)
			completed[step.ID] = true
			if !res.Success {
				return results, true
			}
		}
		if !progressed {
			break
		}
		remaining = next
	}
	return results, false
}

func dependenciesMet(step types.PlanStep, completed map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func writeMemory(ctx workflow.Context, executions []types.PipelineResult) types.MemoryReport {
	candidates := make([]orchestrator.MemoryCandidate, len(executions))
	for i, e := range executions {
		candidates[i] = orchestrator.MemoryCandidate{StepID: e.RequestID, Result: e}
	}
	report := types.MemoryReport{Total: len(candidates)}

	var out WriteMemoryBatchOutput
	if err := workflow.ExecuteActivity(ctx, ActivityWriteMemory, candidates).Get(ctx, &out); err != nil {
		return report
	}
	for _, d := range out.Decisions {
		switch d.Action {
		case orchestrator.MemoryAllow:
			report.Allowed++
		case orchestrator.MemoryQuarantine:
			report.Quarantined++
		case orchestrator.MemoryReject:
			report.Rejected++
		}
	}
	return report
}

func authorized(role string, req orchestrator.OrchestratedRequest, auth map[string]RoleAuthorization) bool {
	a, ok := auth[role]
	if !ok {
		return true
	}
	if req.SourceTrust < a.MinSourceTrust {
		return false
	}
	if len(a.AllowedSources) == 0 {
		return true
	}
	for _, s := range a.AllowedSources {
		if types.Source(s) == req.Source {
			return true
		}
	}
	return false
}

func finish(result types.OrchestratedResult, start time.Time, ctx workflow.Context) types.OrchestratedResult {
	result.DurationMs = workflow.Now(ctx).Sub(start).Milliseconds()
	return result
}
