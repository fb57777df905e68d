// Package orchestrator implements the Role Orchestrator (C10): it drives
// Planner, Executor, Verifier, MemoryWriter, and Auditor role calls and
// executes a plan's steps respecting their dependency DAG. In the
// in-process Orchestrator only Planner.CreatePlan runs through RoleCaller's
// retry/circuit-breaker policy; ValidatePlan, Executor.Execute,
// MemoryWriter.WriteBatch and Auditor.Audit are called directly, with no
// retry, timeout or breaker around them. A Temporal-backed Engine implementation
// of the same interface lives in features/orchestrator/temporal.
package orchestrator

import (
	"context"

	"goa.design/autonomy-kernel/kernel/types"
)

// OrchestratedRequest is submitted to an Engine to produce one plan and
// drive it to completion.
type OrchestratedRequest struct {
	Goal          string
	Source        types.Source
	SourceTrust   float64
	Identity      types.AgentIdentity
	CorrelationID string
}

// Planner creates and validates Execution Plans. At most one plan is
// active at a time; CreatePlan preempts whatever was previously active.
type Planner interface {
	CreatePlan(ctx context.Context, req OrchestratedRequest) (types.ExecutionPlan, error)
	ValidatePlan(ctx context.Context, plan types.ExecutionPlan) (valid bool, issues []string, err error)
	ActivePlan() (types.ExecutionPlan, bool)
	CancelPlan(ctx context.Context, reason string) error
}

// Executor runs one plan step's tool call through the Tool Execution
// Pipeline (C9).
type Executor interface {
	Execute(ctx context.Context, call types.ProposedToolCall) types.PipelineResult
}

// MemoryCandidate is one step's output proposed for persistence.
type MemoryCandidate struct {
	StepID string
	Result types.PipelineResult
}

// MemoryAction is the MemoryWriter's disposition for one candidate.
type MemoryAction string

const (
	MemoryAllow      MemoryAction = "allow"
	MemoryQuarantine MemoryAction = "quarantine"
	MemoryReject     MemoryAction = "reject"
)

// MemoryDecision is the MemoryWriter's verdict for one candidate.
type MemoryDecision struct {
	Action     MemoryAction
	TrustScore float64
	Reason     string
}

// MemoryWriter screens step outputs before they are persisted as durable
// agent memory.
type MemoryWriter interface {
	Write(ctx context.Context, candidate MemoryCandidate) (MemoryDecision, error)
	WriteBatch(ctx context.Context, candidates []MemoryCandidate) ([]MemoryDecision, error)
}

// Auditor reviews a completed plan's execution for drift and anomalies.
type Auditor interface {
	Audit(ctx context.Context, plan types.ExecutionPlan, executions []types.PipelineResult) (types.AuditReport, error)
}

// Engine drives one OrchestratedRequest through Planner, Executor,
// MemoryWriter, and Auditor to produce an OrchestratedResult. The
// in-process Orchestrator and features/orchestrator/temporal's workflow-
// backed engine both satisfy this interface.
type Engine interface {
	Execute(ctx context.Context, req OrchestratedRequest) types.OrchestratedResult
}
