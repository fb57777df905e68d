package validator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/types"
	"goa.design/autonomy-kernel/kernel/validator"
)

func newFixtureRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(types.ToolContract{
		Name: "read_file", RiskClass: types.RiskReadOnly, TimeoutMs: 1000,
		Tags:         []string{"filesystem", "read"},
		ParamsSchema: []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}))
	return reg
}

type fakeGate struct {
	allow bool
}

func (g fakeGate) Allowed(toolName string, tags []string) bool { return g.allow }

func TestValidate_PolicyGateDenyFailsBeforeSchema(t *testing.T) {
	reg := newFixtureRegistry(t)
	v := validator.NewWithPolicy(reg, fakeGate{allow: false})

	result := v.Validate(types.ProposedToolCall{Tool: "read_file", Params: []byte(`{}`)})

	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	require.Equal(t, types.ErrInvalidValue, result.Errors[0].Code)
}

func TestValidate_PolicyGateAllowRunsSchemaValidation(t *testing.T) {
	reg := newFixtureRegistry(t)
	v := validator.NewWithPolicy(reg, fakeGate{allow: true})

	result := v.Validate(types.ProposedToolCall{Tool: "read_file", Params: []byte(`{"path":"/tmp"}`)})

	require.True(t, result.Valid)
}

func TestValidate_NilPolicyAdmitsEverything(t *testing.T) {
	reg := newFixtureRegistry(t)
	v := validator.New(reg)

	result := v.Validate(types.ProposedToolCall{Tool: "read_file", Params: []byte(`{"path":"/tmp"}`)})

	require.True(t, result.Valid)
}
