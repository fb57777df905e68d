package reward

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/types"
)

// TrainingExample is one step's record within an Episode.
type TrainingExample struct {
	StepID       string                     `json:"stepId"`
	Tool         string                     `json:"tool"`
	Input        json.RawMessage            `json:"input,omitempty"`
	Output       json.RawMessage            `json:"output,omitempty"`
	Verification *types.VerificationReport  `json:"verification,omitempty"`
	Reward       types.RewardSignal         `json:"reward"`
	DurationMs   int64                      `json:"durationMs"`
}

// Episode aggregates one orchestrated request's training examples.
type Episode struct {
	RequestGoal      string            `json:"requestGoal"`
	Examples         []TrainingExample `json:"examples"`
	EpisodeReward    types.RewardSignal `json:"episodeReward"`
	UsableForTraining bool              `json:"usableForTraining"`
	CollectedAt      time.Time          `json:"collectedAt"`
}

// TrainingExampleSource can be anything that exposes a plan's steps
// alongside their pipeline results (the orchestrator's own OrchestratedRequest
// and types.ExecutionPlan satisfy this via the exported fields used below).
type TrainingExampleSource struct {
	Request orchestrator.OrchestratedRequest
	Plan    types.ExecutionPlan
	Result  types.OrchestratedResult
}

// TraceCollector composes OrchestratedResults into Episode records and
// streams them as newline-delimited JSON.
type TraceCollector struct {
	Checkpoint *CheckpointReward
	Episode    *EpisodeReward
}

// NewTraceCollector constructs a TraceCollector from reward computers.
func NewTraceCollector(checkpoint *CheckpointReward, episode *EpisodeReward) *TraceCollector {
	return &TraceCollector{Checkpoint: checkpoint, Episode: episode}
}

// CollectEpisode builds an Episode from src, scoring each step and the
// episode as a whole, and flagging gaming patterns (empty outputs,
// durationless successes) as not usable for training.
func (c *TraceCollector) CollectEpisode(src TrainingExampleSource) Episode {
	examples := make([]TrainingExample, 0, len(src.Result.Executions))
	gaming := false

	for i, exec := range src.Result.Executions {
		var step types.PlanStep
		if i < len(src.Plan.Steps) {
			step = src.Plan.Steps[i]
		}
		reward := c.Checkpoint.Compute(exec)
		examples = append(examples, TrainingExample{
			StepID:       step.ID,
			Tool:         exec.ToolName,
			Input:        step.Params,
			Output:       exec.Result,
			Verification: exec.Verification,
			Reward:       reward,
			DurationMs:   exec.DurationMs,
		})
		if isGaming(exec) {
			gaming = true
		}
	}

	episodeReward := c.Episode.Compute(src.Result)

	return Episode{
		RequestGoal:       src.Request.Goal,
		Examples:          examples,
		EpisodeReward:     episodeReward,
		UsableForTraining: !gaming,
	}
}

// isGaming flags a step whose success carries no observable signal: an
// empty result payload, or zero execution duration despite reporting
// success — patterns consistent with a handler gaming completion rather
// than doing work.
func isGaming(exec types.PipelineResult) bool {
	if !exec.Success {
		return false
	}
	emptyOutput := len(exec.Result) == 0 || string(exec.Result) == "null" || string(exec.Result) == "{}"
	durationless := exec.DurationMs <= 0
	return emptyOutput || durationless
}

// WriteNDJSON writes episode as one JSON object followed by a newline,
// flushing w, matching the teacher's runlog/transcript NDJSON streaming
// convention.
func WriteNDJSON(w io.Writer, episode Episode) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(episode); err != nil {
		return err
	}
	return bw.Flush()
}
