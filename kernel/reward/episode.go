package reward

import (
	"math"

	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

// EpisodeWeights are the default weights for EpisodeReward.Compute.
type EpisodeWeights struct {
	Step     float64
	Drift    float64
	Anomaly  float64
	Success  float64
}

// DefaultEpisodeWeights matches the spec's mandated defaults.
var DefaultEpisodeWeights = EpisodeWeights{Step: 0.5, Drift: 0.2, Anomaly: 0.1, Success: 0.2}

// EpisodeReward computes a per-episode reward from an OrchestratedResult.
type EpisodeReward struct {
	Weights    EpisodeWeights
	Checkpoint *CheckpointReward
	Metrics    telemetry.Metrics
}

// NewEpisodeReward constructs an EpisodeReward using checkpoint to score
// each step.
func NewEpisodeReward(checkpoint *CheckpointReward, metrics telemetry.Metrics) *EpisodeReward {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &EpisodeReward{Weights: DefaultEpisodeWeights, Checkpoint: checkpoint, Metrics: metrics}
}

// Compute scores result as a weighted aggregate of mean per-step
// checkpoint reward, a drift penalty, an anomaly penalty, and a success
// bonus.
func (r *EpisodeReward) Compute(result types.OrchestratedResult) types.RewardSignal {
	meanStep := r.meanStepReward(result.Executions)
	driftPenalty := math.Min(1, 2*result.AuditReport.DriftReport.Score)
	anomalyPenalty := math.Min(1, 0.25*float64(len(result.AuditReport.Anomalies)))
	successBonus := boolScore(result.Success)

	total := r.Weights.Step*meanStep +
		r.Weights.Drift*(1-driftPenalty) +
		r.Weights.Anomaly*(1-anomalyPenalty) +
		r.Weights.Success*successBonus
	total = clamp01(total)

	breakdown := map[string]float64{
		"step":    meanStep,
		"drift":   1 - driftPenalty,
		"anomaly": 1 - anomalyPenalty,
		"success": successBonus,
	}
	for dim, v := range breakdown {
		r.Metrics.RecordGauge("kernel.reward.episode."+dim, v)
	}
	r.Metrics.RecordGauge("kernel.reward.episode.total", total)

	return types.RewardSignal{
		Total:      total,
		Breakdown:  breakdown,
		Dimensions: []string{"step", "drift", "anomaly", "success"},
	}
}

func (r *EpisodeReward) meanStepReward(executions []types.PipelineResult) float64 {
	if len(executions) == 0 {
		return 0
	}
	var sum float64
	for _, e := range executions {
		sum += r.Checkpoint.Compute(e).Total
	}
	return sum / float64(len(executions))
}
