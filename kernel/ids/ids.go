// Package ids generates the identifiers used across the kernel: request
// IDs, approval IDs, goal IDs, and plan IDs. Callers that already have a
// stable identifier (e.g. a caller-supplied requestId) should use it
// directly; this package exists for the common case where the caller has
// none.
package ids

import "github.com/google/uuid"

// New returns a new random v4 UUID string. It is used wherever the spec
// requires a unique identifier but does not mandate its shape (approval
// request IDs, goal IDs, plan IDs).
func New() string {
	return uuid.NewString()
}

// NewWithPrefix returns a new random v4 UUID string prefixed with p and a
// dash, e.g. NewWithPrefix("goal") -> "goal-3a9e...".
func NewWithPrefix(p string) string {
	return p + "-" + uuid.NewString()
}
