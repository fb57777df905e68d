package types

import (
	"encoding/json"
	"time"
)

// GoalPriority ranks a Goal's urgency.
type GoalPriority string

const (
	PriorityLow      GoalPriority = "low"
	PriorityMedium   GoalPriority = "medium"
	PriorityHigh     GoalPriority = "high"
	PriorityCritical GoalPriority = "critical"
)

// GoalStatus tracks a Goal's lifecycle.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// Goal is owned exclusively by the Goal Manager and referenced by ID from
// plans. Invariant: agent-sourced goals require SourceTrust >= 0.6; user
// goals are admitted regardless of SourceTrust.
type Goal struct {
	ID              string
	Description     string
	Priority        GoalPriority
	Status          GoalStatus
	ParentGoalID    string
	SuccessCriteria []string
	Source          Source
	SourceTrust     float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AdmissionTrustFloor is the minimum SourceTrust for an agent-sourced goal.
const AdmissionTrustFloor = 0.6

// Admissible reports whether the goal's source/trust combination is
// allowed, per the Goal invariant.
func (g *Goal) Admissible() bool {
	if g.Source == SourceUser {
		return true
	}
	return g.SourceTrust >= AdmissionTrustFloor
}

// PlanStatus tracks an Execution Plan's lifecycle.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanExecuting PlanStatus = "executing"
	PlanComplete  PlanStatus = "complete"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// PlanStep is one node of a plan's step DAG. DependsOn must reference only
// earlier steps (by ID) in the same plan.
type PlanStep struct {
	ID        string
	ToolName  string
	Params    json.RawMessage
	DependsOn []string
}

// ExecutionPlan is produced by a Planner and consumed by the Role
// Orchestrator.
type ExecutionPlan struct {
	ID        string
	Goals     []string
	Steps     []PlanStep
	CreatedAt time.Time
	Status    PlanStatus
}

// ValidateDAG checks that every step's DependsOn references only earlier
// steps in Steps, i.e. the step graph is a DAG expressed in topological
// input order.
func (p *ExecutionPlan) ValidateDAG() error {
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return errInvariant("step " + step.ID + " depends on unseen or later step " + dep)
			}
		}
		seen[step.ID] = true
	}
	return nil
}
