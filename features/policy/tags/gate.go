// Package tags implements an optional tag/tool-name admission filter for
// the Tool Execution Pipeline (C9), adapted from the teacher's
// features/policy/basic allow/block-list engine: the same precedence
// rules (explicit tool lists win over tag lists, block wins over allow)
// carried over from a per-turn LLM policy engine into a per-call gate
// consulted before the Schema Validator runs. The teacher's retry-hint and
// remaining-capacity machinery has no analog here — the kernel has no
// concept of a planner turn budget — and is dropped.
package tags

import "strings"

// Gate filters tool calls by tool name or Tool Contract tag before they
// reach the Schema Validator. A zero-value Gate allows everything.
type Gate struct {
	allowTags  map[string]struct{}
	blockTags  map[string]struct{}
	allowTools map[string]struct{}
	blockTools map[string]struct{}
}

// Options configures a Gate. Empty slices impose no restriction of that
// kind.
type Options struct {
	AllowTags  []string
	BlockTags  []string
	AllowTools []string
	BlockTools []string
}

// New builds a Gate from opts.
func New(opts Options) *Gate {
	return &Gate{
		allowTags:  toSet(opts.AllowTags),
		blockTags:  toSet(opts.BlockTags),
		allowTools: toSet(opts.AllowTools),
		blockTools: toSet(opts.BlockTools),
	}
}

// Allowed reports whether toolName, carrying tags, may be admitted. Block
// lists are checked first and always win; an explicit tool allowlist, if
// non-empty, takes precedence over a tag allowlist; with neither set,
// Allowed admits everything not explicitly blocked.
func (g *Gate) Allowed(toolName string, toolTags []string) bool {
	if g == nil {
		return true
	}
	if _, blocked := g.blockTools[toolName]; blocked {
		return false
	}
	for _, tag := range toolTags {
		if _, blocked := g.blockTags[tag]; blocked {
			return false
		}
	}
	if len(g.allowTools) > 0 {
		_, ok := g.allowTools[toolName]
		return ok
	}
	if len(g.allowTags) > 0 {
		for _, tag := range toolTags {
			if _, ok := g.allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
