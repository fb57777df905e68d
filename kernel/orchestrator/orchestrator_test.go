package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/safemode"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

type stubPlanner struct {
	plan types.ExecutionPlan
	err  error
}

func (s *stubPlanner) CreatePlan(ctx context.Context, req orchestrator.OrchestratedRequest) (types.ExecutionPlan, error) {
	return s.plan, s.err
}
func (s *stubPlanner) ValidatePlan(ctx context.Context, plan types.ExecutionPlan) (bool, []string, error) {
	return true, nil, nil
}
func (s *stubPlanner) ActivePlan() (types.ExecutionPlan, bool) { return s.plan, true }
func (s *stubPlanner) CancelPlan(ctx context.Context, reason string) error { return nil }

type stubExecutor struct {
	results map[string]types.PipelineResult
}

func (s *stubExecutor) Execute(ctx context.Context, call types.ProposedToolCall) types.PipelineResult {
	if r, ok := s.results[call.Tool]; ok {
		r.RequestID = call.RequestID
		return r
	}
	return types.PipelineResult{RequestID: call.RequestID, ToolName: call.Tool, Success: true}
}

type stubMemory struct{}

func (stubMemory) Write(ctx context.Context, c orchestrator.MemoryCandidate) (orchestrator.MemoryDecision, error) {
	return orchestrator.MemoryDecision{Action: orchestrator.MemoryAllow, TrustScore: 1}, nil
}
func (stubMemory) WriteBatch(ctx context.Context, cs []orchestrator.MemoryCandidate) ([]orchestrator.MemoryDecision, error) {
	out := make([]orchestrator.MemoryDecision, len(cs))
	for i := range cs {
		out[i] = orchestrator.MemoryDecision{Action: orchestrator.MemoryAllow, TrustScore: 1}
	}
	return out, nil
}

type stubAuditor struct{}

func (stubAuditor) Audit(ctx context.Context, plan types.ExecutionPlan, executions []types.PipelineResult) (types.AuditReport, error) {
	return types.AuditReport{}, nil
}

func TestOrchestrator_HappyPath(t *testing.T) {
	plan := types.ExecutionPlan{
		ID: ids.New(),
		Steps: []types.PlanStep{
			{ID: "s1", ToolName: "read_file"},
			{ID: "s2", ToolName: "summarize", DependsOn: []string{"s1"}},
		},
	}
	planner := &stubPlanner{plan: plan}
	executor := &stubExecutor{results: map[string]types.PipelineResult{}}
	machine := fsm.New(hooks.NewBus(telemetry.NewNoopLogger()))
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000, MaxRetries: 1, BackoffMs: 10}, telemetry.NewNoopLogger())

	orch := orchestrator.New(planner, executor, stubMemory{}, stubAuditor{}, machine, hooks.NewBus(telemetry.NewNoopLogger()), caller, nil, telemetry.NewNoopLogger())

	result := orch.Execute(context.Background(), orchestrator.OrchestratedRequest{
		Goal: "summarize the file", Source: types.SourceAgent, SourceTrust: 0.9,
		Identity: types.AgentIdentity{AgentID: "agent-1", Active: true},
	})

	require.True(t, result.Success)
	require.Len(t, result.Executions, 2)
	require.Equal(t, 2, result.MemoryReport.Allowed)
}

func TestOrchestrator_AdmissionRejectsBadTrust(t *testing.T) {
	machine := fsm.New(hooks.NewBus(telemetry.NewNoopLogger()))
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000}, telemetry.NewNoopLogger())
	orch := orchestrator.New(&stubPlanner{}, &stubExecutor{}, stubMemory{}, stubAuditor{}, machine, hooks.NewBus(telemetry.NewNoopLogger()), caller, nil, telemetry.NewNoopLogger())

	result := orch.Execute(context.Background(), orchestrator.OrchestratedRequest{SourceTrust: 1.5, Identity: types.AgentIdentity{AgentID: "a"}})
	require.False(t, result.Success)
}

func TestOrchestrator_CriticalStepFailureStopsRemainingSteps(t *testing.T) {
	plan := types.ExecutionPlan{
		ID: ids.New(),
		Steps: []types.PlanStep{
			{ID: "s1", ToolName: "fails"},
			{ID: "s2", ToolName: "never_runs", DependsOn: []string{"s1"}},
		},
	}
	executor := &stubExecutor{results: map[string]types.PipelineResult{
		"fails": {Success: false, Error: "boom"},
	}}
	machine := fsm.New(hooks.NewBus(telemetry.NewNoopLogger()))
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000}, telemetry.NewNoopLogger())
	orch := orchestrator.New(&stubPlanner{plan: plan}, executor, stubMemory{}, stubAuditor{}, machine, hooks.NewBus(telemetry.NewNoopLogger()), caller, nil, telemetry.NewNoopLogger())

	result := orch.Execute(context.Background(), orchestrator.OrchestratedRequest{
		Source: types.SourceAgent, SourceTrust: 0.9, Identity: types.AgentIdentity{AgentID: "a", Active: true},
	})

	require.False(t, result.Success)
	require.Len(t, result.Executions, 1)
}

func TestRoleCaller_RetriesThenSucceeds(t *testing.T) {
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000, MaxRetries: 3, BackoffMs: 1}, telemetry.NewNoopLogger())
	attempts := 0
	err := caller.Call(context.Background(), "planner", func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient" }

func TestRoleCaller_HonorsTimeout(t *testing.T) {
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 10, MaxRetries: 0}, telemetry.NewNoopLogger())
	err := caller.Call(context.Background(), "planner", func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.Error(t, err)
}

// TestOrchestrator_SafeModeShortCircuitsNonReadOnlyStep exercises S6: once
// Safe Mode is engaged, a plan step against a reversible (non-read-only)
// tool is denied with SAFE_MODE_ACTIVE instead of reaching the Executor,
// while the Orchestrator's own machine (distinct from whatever machine
// escalated Safe Mode) stays free to drive the plan/audit transitions.
func TestOrchestrator_SafeModeShortCircuitsNonReadOnlyStep(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(types.ToolContract{
		Name: "write_file", RiskClass: types.RiskReversible, TimeoutMs: 1000,
		ParamsSchema: []byte(`{"type":"object"}`),
	}))

	escalationBus := hooks.NewBus(telemetry.NewNoopLogger())
	escalationMachine := fsm.New(escalationBus)
	ctrl := safemode.New(escalationMachine, escalationBus, 1, time.Hour)
	_, err := escalationMachine.Fire(context.Background(), fsm.TriggerToolValidated)
	require.NoError(t, err)
	_, err = escalationMachine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)
	require.True(t, ctrl.Active())

	plan := types.ExecutionPlan{
		ID:    ids.New(),
		Steps: []types.PlanStep{{ID: "s1", ToolName: "write_file"}},
	}
	executor := &stubExecutor{results: map[string]types.PipelineResult{}}
	machine := fsm.New(hooks.NewBus(telemetry.NewNoopLogger()))
	caller := orchestrator.NewRoleCaller(nil, config.RoleCallPolicy{TimeoutMs: 1000}, telemetry.NewNoopLogger())
	orch := orchestrator.New(&stubPlanner{plan: plan}, executor, stubMemory{}, stubAuditor{}, machine, hooks.NewBus(telemetry.NewNoopLogger()), caller, nil, telemetry.NewNoopLogger())
	orch.SafeMode = ctrl
	orch.Registry = reg

	result := orch.Execute(context.Background(), orchestrator.OrchestratedRequest{
		Source: types.SourceAgent, SourceTrust: 0.9, Identity: types.AgentIdentity{AgentID: "a", Active: true},
	})

	require.False(t, result.Success)
	require.Len(t, result.Executions, 1)
	require.Contains(t, result.Executions[0].Error, "SAFE_MODE_ACTIVE")
}
