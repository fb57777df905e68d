package types

// MemoryReport summarizes a MemoryWriter pass over step outputs.
type MemoryReport struct {
	Total       int
	Allowed     int
	Quarantined int
	Rejected    int
}

// AuditReport summarizes an Auditor pass.
type AuditReport struct {
	DriftReport     DriftReport
	Anomalies       []Anomaly
	Recommendations []string
}

// DriftReport quantifies deviation of current behavior from a reference
// policy.
type DriftReport struct {
	Score float64 // 0 (no drift) .. 1 (total drift)
	Notes []string
}

// Anomaly records one irregular event surfaced during orchestration (role
// denial, policy denial, circuit-breaker-open, memory-write failure, ...).
type Anomaly struct {
	Kind    string
	Message string
	RoleKind string
}

// OrchestratedResult is returned by the Role Orchestrator for one plan
// execution.
type OrchestratedResult struct {
	Plan               ExecutionPlan
	Executions         []PipelineResult
	VerificationReports []VerificationReport
	MemoryReport       MemoryReport
	AuditReport        AuditReport
	DurationMs         int64
	Success            bool
}
