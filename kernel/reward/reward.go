// Package reward implements the Reward / Trace Collector (C12):
// CheckpointReward and EpisodeReward scoring plus an episode trace
// collector that streams NDJSON training examples, matching the teacher's
// runlog/transcript streaming style. Reward component scores are also
// published as OpenTelemetry histograms, grounded on
// runtime/agent/telemetry.ClueMetrics.
package reward

import (
	"math"

	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

// CheckpointWeights are the default weights for CheckpointReward.Compute.
type CheckpointWeights struct {
	Validation   float64
	Verification float64
	Efficiency   float64
	Completion   float64
}

// DefaultCheckpointWeights matches the spec's mandated defaults.
var DefaultCheckpointWeights = CheckpointWeights{Validation: 0.2, Verification: 0.3, Efficiency: 0.1, Completion: 0.4}

// CheckpointReward computes a per-call reward from a PipelineResult.
type CheckpointReward struct {
	Weights        CheckpointWeights
	TargetDuration float64 // milliseconds; zero disables the efficiency subscore's penalty shape
	Metrics        telemetry.Metrics
}

// NewCheckpointReward constructs a CheckpointReward with the default
// weights and the given target duration (milliseconds).
func NewCheckpointReward(targetDurationMs float64, metrics telemetry.Metrics) *CheckpointReward {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &CheckpointReward{Weights: DefaultCheckpointWeights, TargetDuration: targetDurationMs, Metrics: metrics}
}

// Compute scores result as a weighted sum of four subscores, clamped to
// [0,1].
func (r *CheckpointReward) Compute(result types.PipelineResult) types.RewardSignal {
	validationScore := boolScore(result.Validation.Valid)
	verificationScore := 1.0
	if result.Verification != nil && result.Verification.HasCriticalFailure {
		verificationScore = 0
	}
	efficiencyScore := r.efficiency(result.DurationMs)
	completionScore := boolScore(result.Success)

	total := r.Weights.Validation*validationScore +
		r.Weights.Verification*verificationScore +
		r.Weights.Efficiency*efficiencyScore +
		r.Weights.Completion*completionScore
	total = clamp01(total)

	breakdown := map[string]float64{
		"validation":   validationScore,
		"verification": verificationScore,
		"efficiency":   efficiencyScore,
		"completion":   completionScore,
	}
	r.recordMetrics(breakdown, total)

	return types.RewardSignal{
		Total:      total,
		Breakdown:  breakdown,
		Dimensions: []string{"validation", "verification", "efficiency", "completion"},
	}
}

// efficiency implements max(0, 1 - 0.5*(durationMs/target - 1)); a zero or
// negative target disables the penalty shape and always scores 1.
func (r *CheckpointReward) efficiency(durationMs int64) float64 {
	if r.TargetDuration <= 0 {
		return 1
	}
	ratio := float64(durationMs) / r.TargetDuration
	score := 1 - 0.5*(ratio-1)
	return math.Max(0, score)
}

func (r *CheckpointReward) recordMetrics(breakdown map[string]float64, total float64) {
	for dim, v := range breakdown {
		r.Metrics.RecordGauge("kernel.reward.checkpoint."+dim, v)
	}
	r.Metrics.RecordGauge("kernel.reward.checkpoint.total", total)
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
