package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/approval"
	"goa.design/autonomy-kernel/kernel/compensation"
	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/invariants"
	"goa.design/autonomy-kernel/kernel/pipeline"
	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
	"goa.design/autonomy-kernel/kernel/validator"
	"goa.design/autonomy-kernel/kernel/verifier"
)

// newConcurrentPipeline builds one Pipeline/Machine pair for one concurrent
// execution context. Section 5 serializes transitions within a single
// Machine; N callers that are each driving their own in-flight request
// (distinct request contexts, per the same section) are modeled here as N
// Pipelines, one per context, so concurrent execute calls never race on a
// single Fire.
func newConcurrentPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(types.ToolContract{
		Name: "read_file", RiskClass: types.RiskReadOnly, TimeoutMs: 1000,
		ParamsSchema: []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}))
	events := eventstore.NewMemoryStore()
	gate := approval.New(config.PipelineConfig{AutoApproveReadOnly: true, ApprovalTimeoutMs: 1000}, events, nil)
	machine := fsm.New(hooks.NewBus(telemetry.NewNoopLogger()))
	return pipeline.New(validator.New(reg), gate, verifier.New(), invariants.New(), compensation.New(),
		events, machine, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
}

// TestExecute_NConcurrentCallsAllSucceedAndFSMEndsIdle is P11: across N
// concurrent execute calls, exactly N distinct successful completions
// occur and the FSM ends in idle.
func TestExecute_NConcurrentCallsAllSucceedAndFSMEndsIdle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("N concurrent executions each complete successfully with their own FSM idle", prop.ForAll(
		func(n int) bool {
			var wg sync.WaitGroup
			successes := make([]bool, n)
			idles := make([]bool, n)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					p := newConcurrentPipeline(t)
					call := types.ProposedToolCall{
						Tool: "read_file", RequestID: "concurrent-req", Source: types.SourceAgent,
						Params: json.RawMessage(`{"path":"/etc/hosts"}`),
					}
					result := p.Execute(context.Background(), call, func(ctx context.Context, tool string, params json.RawMessage, requestID string) (json.RawMessage, error) {
						return json.RawMessage(`{"content":"ok"}`), nil
					})
					successes[i] = result.Success
					idles[i] = p.Machine.State() == fsm.StateIdle
				}(i)
			}
			wg.Wait()

			count := 0
			for i := 0; i < n; i++ {
				if successes[i] && idles[i] {
					count++
				}
			}
			return count == n
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
