package reward_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/reward"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

func TestCheckpointReward_PerfectRun(t *testing.T) {
	cr := reward.NewCheckpointReward(0, telemetry.NewNoopMetrics())
	result := types.PipelineResult{
		Success:    true,
		Validation: types.ValidationResult{Valid: true},
		DurationMs: 100,
	}
	signal := cr.Compute(result)
	require.InDelta(t, 1.0, signal.Total, 0.001)
}

func TestCheckpointReward_FailedRunScoresLower(t *testing.T) {
	cr := reward.NewCheckpointReward(0, telemetry.NewNoopMetrics())
	good := cr.Compute(types.PipelineResult{Success: true, Validation: types.ValidationResult{Valid: true}})
	bad := cr.Compute(types.PipelineResult{Success: false, Validation: types.ValidationResult{Valid: false}})
	require.Less(t, bad.Total, good.Total)
}

func TestEpisodeReward_NoAnomaliesNoDrift(t *testing.T) {
	cr := reward.NewCheckpointReward(0, telemetry.NewNoopMetrics())
	er := reward.NewEpisodeReward(cr, telemetry.NewNoopMetrics())
	result := types.OrchestratedResult{
		Success: true,
		Executions: []types.PipelineResult{
			{Success: true, Validation: types.ValidationResult{Valid: true}},
		},
	}
	signal := er.Compute(result)
	require.Greater(t, signal.Total, 0.9)
}

func TestTraceCollector_FlagsGamingPattern(t *testing.T) {
	cr := reward.NewCheckpointReward(0, telemetry.NewNoopMetrics())
	er := reward.NewEpisodeReward(cr, telemetry.NewNoopMetrics())
	tc := reward.NewTraceCollector(cr, er)

	result := types.OrchestratedResult{
		Success: true,
		Executions: []types.PipelineResult{
			{Success: true, DurationMs: 0, Result: nil},
		},
	}
	episode := tc.CollectEpisode(reward.TrainingExampleSource{
		Request: orchestrator.OrchestratedRequest{Goal: "noop"},
		Result:  result,
	})
	require.False(t, episode.UsableForTraining)

	var buf bytes.Buffer
	require.NoError(t, reward.WriteNDJSON(&buf, episode))
	require.Contains(t, buf.String(), "\"usableForTraining\":false")
}
