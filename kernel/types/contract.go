// Package types holds the kernel's immutable data model: tool contracts,
// proposed calls, validation results, approval requests, execution events,
// pipeline results, goals, execution plans, orchestrated results, and
// reward signals. Types here carry no behavior beyond small invariant
// checks; the components in kernel/* operate on them.
package types

// RiskClass categorizes a tool's blast radius.
type RiskClass string

const (
	// RiskReadOnly tools have no observable effect.
	RiskReadOnly RiskClass = "read-only"
	// RiskReversible tools have an effect that can be undone by a
	// registered compensation.
	RiskReversible RiskClass = "reversible"
	// RiskIrreversible tools require approval; compensation may still log
	// an incident but cannot undo the effect.
	RiskIrreversible RiskClass = "irreversible"
	// RiskUndefined is reported for calls against an unknown tool.
	RiskUndefined RiskClass = "undefined"
)

// ToolContract is the immutable registration record for a tool. Invariant:
// RiskClass == RiskIrreversible implies RequiresApproval.
type ToolContract struct {
	Name                string
	Version             string
	RiskClass           RiskClass
	ParamsSchema        []byte // JSON Schema document, compiled by the registry at registration.
	RequiredPermissions []string
	SideEffects         []string
	Tags                []string
	RequiresApproval    bool
	TimeoutMs           int64
}

// Validate checks the contract's own invariants. It does not compile
// ParamsSchema; the registry does that at Register time so a malformed
// schema is rejected before any call can reference it.
func (c *ToolContract) Validate() error {
	if c.Name == "" {
		return errRequired("name")
	}
	switch c.RiskClass {
	case RiskReadOnly, RiskReversible, RiskIrreversible:
	default:
		return errInvalid("riskClass", string(c.RiskClass))
	}
	if c.RiskClass == RiskIrreversible && !c.RequiresApproval {
		return errInvariant("irreversible tool " + c.Name + " must require approval")
	}
	if c.TimeoutMs <= 0 {
		return errInvariant("tool " + c.Name + " must declare a positive timeoutMs")
	}
	return nil
}
