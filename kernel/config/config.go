// Package config holds the kernel's configuration surface, loaded from YAML
// via gopkg.in/yaml.v3, the same configuration library the teacher uses for
// its runtime/agent deployment manifests.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig governs the Tool Execution Pipeline and Approval Gate.
type PipelineConfig struct {
	AutoApproveReadOnly       bool     `yaml:"autoApproveReadOnly"`
	AutoApproveSources        []string `yaml:"autoApproveSources"`
	ApprovalTimeoutMs         int64    `yaml:"approvalTimeoutMs"`
	DefaultExecutionTimeoutMs int64    `yaml:"defaultExecutionTimeoutMs"`
}

// RoleCallPolicy governs retry/backoff/circuit-breaking for one role's
// calls, applied per role name by the Role Orchestrator.
type RoleCallPolicy struct {
	TimeoutMs               int64 `yaml:"timeoutMs"`
	MaxRetries              int   `yaml:"maxRetries"`
	BackoffMs               int64 `yaml:"backoffMs"`
	CircuitBreakerThreshold uint32 `yaml:"circuitBreakerThreshold"`
	CircuitBreakerResetMs   int64 `yaml:"circuitBreakerResetMs"`
}

// RoleCallAuthorization governs admission of a plan's steps before a role
// is invoked.
type RoleCallAuthorization struct {
	MinSourceTrust float64  `yaml:"minSourceTrust"`
	AllowedSources []string `yaml:"allowedSources"`
}

// RetentionConfig governs the Retention Manager.
type RetentionConfig struct {
	EventRetentionMs     int64 `yaml:"eventRetentionMs"`
	AuditRetentionMs     int64 `yaml:"auditRetentionMs"`
	ExportBeforeEviction bool  `yaml:"exportBeforeEviction"`
}

// SafeModeConfig governs the Safe-Mode Controller's escalation threshold.
type SafeModeConfig struct {
	ConsecutiveErrorThreshold int   `yaml:"consecutiveErrorThreshold"`
	CooldownMs                int64 `yaml:"cooldownMs"`
}

// EventStoreConfig bounds the Event Store's retention.
type EventStoreConfig struct {
	MaxEvents   int   `yaml:"maxEvents"`
	RetentionMs int64 `yaml:"retentionMs"`
}

// Kernel aggregates every configuration surface into one document, the
// shape loaded by cmd binaries and by kernel wiring code at startup.
type Kernel struct {
	Pipeline       PipelineConfig                   `yaml:"pipeline"`
	RoleCallPolicy map[string]RoleCallPolicy         `yaml:"roleCallPolicy"`
	RoleCallAuth   map[string]RoleCallAuthorization  `yaml:"roleCallAuthorization"`
	Retention      RetentionConfig                   `yaml:"retention"`
	SafeMode       SafeModeConfig                    `yaml:"safeMode"`
	EventStore     EventStoreConfig                  `yaml:"eventStore"`
}

// Default returns a Kernel configuration with conservative, spec-aligned
// defaults suitable for development and tests.
func Default() Kernel {
	return Kernel{
		Pipeline: PipelineConfig{
			AutoApproveReadOnly:       true,
			ApprovalTimeoutMs:         60_000,
			DefaultExecutionTimeoutMs: 30_000,
		},
		Retention: RetentionConfig{
			EventRetentionMs:     7 * 24 * 60 * 60 * 1000,
			AuditRetentionMs:     90 * 24 * 60 * 60 * 1000,
			ExportBeforeEviction: true,
		},
		SafeMode: SafeModeConfig{
			ConsecutiveErrorThreshold: 3,
			CooldownMs:                60_000,
		},
		EventStore: EventStoreConfig{
			MaxEvents: 100_000,
		},
	}
}

// Load reads and parses a Kernel configuration document from path.
func Load(path string) (Kernel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Kernel{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Kernel{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
