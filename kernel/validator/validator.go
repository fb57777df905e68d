// Package validator implements the Schema Validator (C2): it validates a
// proposed tool call against its contract and classifies failures into the
// spec's fixed error taxonomy. Grounded on the teacher's
// registry/service.go validateToolSchemas, which compiles and runs
// santhosh-tekuri/jsonschema/v6 against a tool payload the same way.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/types"
)

// PolicyGate optionally filters which tools may be admitted, by tool name
// or Tool Contract tag, before schema validation runs. Satisfied by
// features/policy/tags.Gate; a nil PolicyGate admits everything.
type PolicyGate interface {
	Allowed(toolName string, tags []string) bool
}

// Validator validates proposed calls against contracts held in a Registry.
type Validator struct {
	registry *registry.Registry
	policy   PolicyGate
}

// New constructs a Validator backed by reg, with no policy gate.
func New(reg *registry.Registry) *Validator {
	return &Validator{registry: reg}
}

// NewWithPolicy constructs a Validator backed by reg whose Validate also
// consults gate before admitting a call.
func NewWithPolicy(reg *registry.Registry, gate PolicyGate) *Validator {
	return &Validator{registry: reg, policy: gate}
}

// Validate checks call against its tool's contract. It never panics or
// returns a Go error for malformed input: every failure is reported as a
// ValidationResult with Valid=false and at least one taxonomy-classified
// issue (the P9 fuzz property).
func (v *Validator) Validate(call types.ProposedToolCall) types.ValidationResult {
	contract, err := v.registry.Get(call.Tool)
	if err != nil {
		return types.ValidationResult{
			Valid:     false,
			RiskClass: types.RiskUndefined,
			Errors: []types.ValidationIssue{{
				Code:     types.ErrInvalidValue,
				Message:  "unknown tool: " + call.Tool,
				Severity: types.SeverityCritical,
			}},
		}
	}

	if v.policy != nil && !v.policy.Allowed(call.Tool, contract.Tags) {
		return types.ValidationResult{
			Valid:     false,
			RiskClass: contract.RiskClass,
			Errors: []types.ValidationIssue{{
				Code:     types.ErrInvalidValue,
				Message:  "tool denied by policy: " + call.Tool,
				Severity: types.SeverityCritical,
			}},
		}
	}

	schema, err := v.registry.Schema(call.Tool)
	if err != nil {
		// Registry and schema cache disagree; treat as unknown tool
		// rather than panicking.
		return types.ValidationResult{
			Valid:     false,
			RiskClass: types.RiskUndefined,
			Errors: []types.ValidationIssue{{
				Code:     types.ErrInvalidValue,
				Message:  "no compiled schema for tool: " + call.Tool,
				Severity: types.SeverityCritical,
			}},
		}
	}

	issues := validateAgainstSchema(schema, call.Params)
	if len(issues) > 0 {
		return types.ValidationResult{
			Valid:            false,
			Errors:           issues,
			RiskClass:        contract.RiskClass,
			RequiresApproval: contract.RequiresApproval,
			TimeoutMs:        contract.TimeoutMs,
		}
	}

	return types.ValidationResult{
		Valid:            true,
		ValidatedParams:  call.Params,
		RiskClass:        contract.RiskClass,
		RequiresApproval: contract.RequiresApproval,
		TimeoutMs:        contract.TimeoutMs,
	}
}

// validateAgainstSchema runs params through schema and maps every leaf
// validation failure into the taxonomy. A nil schema (no ParamsSchema was
// registered for the tool) accepts anything.
func validateAgainstSchema(schema *jsonschema.Schema, params json.RawMessage) []types.ValidationIssue {
	if schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return []types.ValidationIssue{{
			Code:     types.ErrInvalidValue,
			Message:  "params is not valid JSON: " + err.Error(),
			Severity: types.SeverityCritical,
		}}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []types.ValidationIssue{{
			Code:     types.ErrInvalidValue,
			Message:  err.Error(),
			Severity: types.SeverityCritical,
		}}
	}

	var issues []types.ValidationIssue
	collectLeaves(ve, &issues)
	if len(issues) == 0 {
		issues = append(issues, types.ValidationIssue{
			Code:     types.ErrInvalidValue,
			Message:  ve.Error(),
			Severity: types.SeverityCritical,
		})
	}
	return issues
}

// collectLeaves walks the ValidationError cause tree and appends one
// taxonomy-classified issue per leaf (a node with no further causes).
func collectLeaves(ve *jsonschema.ValidationError, out *[]types.ValidationIssue) {
	if len(ve.Causes) == 0 {
		*out = append(*out, classify(ve))
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// classify maps one leaf ValidationError to the fixed taxonomy based on
// the failing keyword, inferred from the error's keyword path.
func classify(ve *jsonschema.ValidationError) types.ValidationIssue {
	keyword := lastKeyword(ve)
	field := instancePath(ve)
	msg := ve.Error()

	var code types.ErrorCode
	switch {
	case keyword == "required":
		code = types.ErrMissingField
	case keyword == "type":
		code = types.ErrTypeMismatch
	case isBoundsKeyword(keyword):
		code = types.ErrOutOfRange
	case keyword == "additionalProperties":
		code = types.ErrUnknownField
	default:
		code = types.ErrInvalidValue
	}

	return types.ValidationIssue{
		Field:    field,
		Code:     code,
		Message:  msg,
		Severity: types.SeverityCritical,
	}
}

func isBoundsKeyword(keyword string) bool {
	switch keyword {
	case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
		"minLength", "maxLength", "minItems", "maxItems",
		"minProperties", "maxProperties", "multipleOf":
		return true
	}
	return false
}

// lastKeyword extracts the failing keyword name from the error's keyword
// location (e.g. ".../properties/age/minimum" -> "minimum").
func lastKeyword(ve *jsonschema.ValidationError) string {
	loc := ve.KeywordLocation
	if loc == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(loc, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// instancePath renders the instance location as a dotted field path,
// falling back to the root when the failure is not scoped to a property.
func instancePath(ve *jsonschema.ValidationError) string {
	loc := strings.Trim(ve.InstanceLocation, "/")
	if loc == "" {
		return "$"
	}
	return strings.ReplaceAll(loc, "/", ".")
}
