package tags_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/features/policy/tags"
)

func TestGate_BlockListWinsOverAllowList(t *testing.T) {
	g := tags.New(tags.Options{AllowTags: []string{"filesystem"}, BlockTools: []string{"delete_file"}})

	require.True(t, g.Allowed("read_file", []string{"filesystem"}))
	require.False(t, g.Allowed("delete_file", []string{"filesystem"}))
}

func TestGate_ExplicitToolAllowlistTakesPrecedenceOverTags(t *testing.T) {
	g := tags.New(tags.Options{AllowTools: []string{"read_file"}, AllowTags: []string{"network"}})

	require.True(t, g.Allowed("read_file", nil))
	require.False(t, g.Allowed("other_tool", []string{"network"}))
}

func TestGate_NoRestrictionsAdmitsEverything(t *testing.T) {
	g := tags.New(tags.Options{})
	require.True(t, g.Allowed("anything", nil))
}

func TestGate_NilGateAdmitsEverything(t *testing.T) {
	var g *tags.Gate
	require.True(t, g.Allowed("anything", nil))
}

func TestGate_BlockTagDenies(t *testing.T) {
	g := tags.New(tags.Options{BlockTags: []string{"dangerous"}})
	require.False(t, g.Allowed("run_in_terminal", []string{"dangerous"}))
	require.True(t, g.Allowed("read_file", []string{"filesystem"}))
}
