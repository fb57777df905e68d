package temporal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	orchestratortemporal "goa.design/autonomy-kernel/features/orchestrator/temporal"
	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

type stubPlanner struct{ plan types.ExecutionPlan }

func (s *stubPlanner) CreatePlan(context.Context, orchestrator.OrchestratedRequest) (types.ExecutionPlan, error) {
	return s.plan, nil
}
func (s *stubPlanner) ValidatePlan(context.Context, types.ExecutionPlan) (bool, []string, error) {
	return true, nil, nil
}
func (s *stubPlanner) ActivePlan() (types.ExecutionPlan, bool)  { return s.plan, true }
func (s *stubPlanner) CancelPlan(context.Context, string) error { return nil }

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, call types.ProposedToolCall) types.PipelineResult {
	return types.PipelineResult{RequestID: call.RequestID, ToolName: call.Tool, Success: true}
}

type stubMemory struct{}

func (stubMemory) Write(context.Context, orchestrator.MemoryCandidate) (orchestrator.MemoryDecision, error) {
	return orchestrator.MemoryDecision{Action: orchestrator.MemoryAllow, TrustScore: 1}, nil
}
func (stubMemory) WriteBatch(_ context.Context, cs []orchestrator.MemoryCandidate) ([]orchestrator.MemoryDecision, error) {
	out := make([]orchestrator.MemoryDecision, len(cs))
	for i := range cs {
		out[i] = orchestrator.MemoryDecision{Action: orchestrator.MemoryAllow, TrustScore: 1}
	}
	return out, nil
}

type stubAuditor struct{}

func (stubAuditor) Audit(context.Context, types.ExecutionPlan, []types.PipelineResult) (types.AuditReport, error) {
	return types.AuditReport{Recommendations: []string{"ok"}}, nil
}

func newTestActivities(plan types.ExecutionPlan) *orchestratortemporal.Activities {
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000, MaxRetries: 0}, telemetry.NewNoopLogger())
	return &orchestratortemporal.Activities{
		Planner:      &stubPlanner{plan: plan},
		Executor:     stubExecutor{},
		MemoryWriter: stubMemory{},
		Auditor:      stubAuditor{},
		RoleCaller:   caller,
	}
}

func TestOrchestrateWorkflow_HappyPath(t *testing.T) {
	plan := types.ExecutionPlan{
		ID: ids.New(),
		Steps: []types.PlanStep{
			{ID: "s1", ToolName: "read_file"},
			{ID: "s2", ToolName: "summarize", DependsOn: []string{"s1"}},
		},
	}

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(newTestActivities(plan))
	env.ExecuteWorkflow(orchestratortemporal.OrchestrateWorkflow, orchestratortemporal.WorkflowInput{
		Request: orchestrator.OrchestratedRequest{
			Goal: "summarize the file", Source: types.SourceAgent, SourceTrust: 0.9,
			Identity: types.AgentIdentity{AgentID: "agent-1", Active: true},
		},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result types.OrchestratedResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)
	require.Len(t, result.Executions, 2)
	require.Equal(t, 2, result.MemoryReport.Allowed)
	require.Equal(t, []string{"ok"}, result.AuditReport.Recommendations)
}

func TestOrchestrateWorkflow_DeniesUntrustedSource(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(newTestActivities(types.ExecutionPlan{}))
	env.ExecuteWorkflow(orchestratortemporal.OrchestrateWorkflow, orchestratortemporal.WorkflowInput{
		Request: orchestrator.OrchestratedRequest{
			Source: types.SourceAgent, SourceTrust: 1.5,
			Identity: types.AgentIdentity{AgentID: "agent-1"},
		},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result types.OrchestratedResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.False(t, result.Success)
	require.Empty(t, result.Executions)
}
