// Package temporal implements a Temporal-backed Engine (C10) for the Role
// Orchestrator: the same Planner -> Executor -> MemoryWriter -> Auditor
// sequence as kernel/orchestrator.Orchestrator, but durable across process
// restarts via a Temporal workflow, grounded on
// runtime/agent/engine/temporal/engine.go's lazy-client/per-queue-worker/
// OTEL-interceptor wiring.
package temporal

import (
	"context"

	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/safemode"
	"goa.design/autonomy-kernel/kernel/types"
)

// Activities adapts the four role interfaces to Temporal activities.
// CreatePlan, ExecuteStep, WriteMemoryBatch and Audit route through
// RoleCaller, so those role calls run under the retry/backoff/circuit-
// breaker policy (kernel/orchestrator.Orchestrator applies it in-process to
// the planner call only); Temporal's own activity retry
// policy (configured in workflow.go) governs transport-level retries on
// top of that. SafeMode admission is checked here, inside the activity,
// rather than in workflow.go: workflow code must stay deterministic for
// replay, and a live *safemode.Controller is exactly the kind of
// process-local, time-varying state that cannot be touched from it.
type Activities struct {
	Planner      orchestrator.Planner
	Executor     orchestrator.Executor
	MemoryWriter orchestrator.MemoryWriter
	Auditor      orchestrator.Auditor
	RoleCaller   *orchestrator.RoleCaller

	// SafeMode and Registry mirror kernel/orchestrator.Orchestrator's
	// fields of the same name; nil SafeMode never short-circuits.
	SafeMode *safemode.Controller
	Registry *registry.Registry
}

// CreatePlanOutput, ValidatePlanOutput, ExecuteStepInput, etc. are the payload
// types Temporal marshals across the activity boundary; they exist
// because Planner/Executor/MemoryWriter/Auditor methods return multiple
// values, which Temporal activities cannot.

type CreatePlanOutput struct {
	Plan types.ExecutionPlan
}

func (a *Activities) CreatePlan(ctx context.Context, req orchestrator.OrchestratedRequest) (CreatePlanOutput, error) {
	var out CreatePlanOutput
	err := a.RoleCaller.Call(ctx, "planner", func(ctx context.Context) error {
		plan, err := a.Planner.CreatePlan(ctx, req)
		if err != nil {
			return err
		}
		out.Plan = plan
		return nil
	})
	return out, err
}

type ValidatePlanOutput struct {
	Valid  bool
	Issues []string
}

func (a *Activities) ValidatePlan(ctx context.Context, plan types.ExecutionPlan) (ValidatePlanOutput, error) {
	valid, issues, err := a.Planner.ValidatePlan(ctx, plan)
	return ValidatePlanOutput{Valid: valid, Issues: issues}, err
}

type ExecuteStepInput struct {
	Step   types.PlanStep
	PlanID string
}

func (a *Activities) ExecuteStep(ctx context.Context, in ExecuteStepInput) (types.PipelineResult, error) {
	call := types.ProposedToolCall{
		Tool:          in.Step.ToolName,
		Params:        in.Step.Params,
		RequestID:     ids.NewWithPrefix("step"),
		CorrelationID: in.PlanID,
	}

	if a.SafeMode != nil {
		riskClass := types.RiskUndefined
		if a.Registry != nil {
			if contract, err := a.Registry.Get(in.Step.ToolName); err == nil {
				riskClass = contract.RiskClass
			}
		}
		if err := a.SafeMode.Admit(riskClass); err != nil {
			return types.PipelineResult{RequestID: call.RequestID, ToolName: in.Step.ToolName, Success: false, Error: err.Error()}, nil
		}
	}

	var out types.PipelineResult
	err := a.RoleCaller.Call(ctx, "executor", func(ctx context.Context) error {
		out = a.Executor.Execute(ctx, call)
		return nil
	})
	return out, err
}

type WriteMemoryBatchOutput struct {
	Decisions []orchestrator.MemoryDecision
}

func (a *Activities) WriteMemoryBatch(ctx context.Context, candidates []orchestrator.MemoryCandidate) (WriteMemoryBatchOutput, error) {
	var out WriteMemoryBatchOutput
	err := a.RoleCaller.Call(ctx, "memory_writer", func(ctx context.Context) error {
		decisions, err := a.MemoryWriter.WriteBatch(ctx, candidates)
		if err != nil {
			return err
		}
		out.Decisions = decisions
		return nil
	})
	return out, err
}

type AuditInput struct {
	Plan       types.ExecutionPlan
	Executions []types.PipelineResult
}

func (a *Activities) Audit(ctx context.Context, in AuditInput) (types.AuditReport, error) {
	var out types.AuditReport
	err := a.RoleCaller.Call(ctx, "auditor", func(ctx context.Context) error {
		report, err := a.Auditor.Audit(ctx, in.Plan, in.Executions)
		if err != nil {
			return err
		}
		out = report
		return nil
	})
	return out, err
}

const (
	ActivityCreatePlan   = "CreatePlan"
	ActivityValidatePlan = "ValidatePlan"
	ActivityExecuteStep  = "ExecuteStep"
	ActivityWriteMemory  = "WriteMemoryBatch"
	ActivityAudit        = "Audit"
)
