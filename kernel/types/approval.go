package types

import (
	"encoding/json"
	"time"
)

// ApprovalDecision is the terminal outcome of an Approval Request.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionDenied   ApprovalDecision = "denied"
	DecisionExpired  ApprovalDecision = "expired"
)

// ApprovalRequest models the lifecycle: created -> (approved|denied|expired).
// Terminal states are immutable; DecidedBy/DecidedAt/Decision are only set
// once a terminal state is reached.
type ApprovalRequest struct {
	ID          string
	ToolName    string
	RiskClass   RiskClass
	CallPayload json.RawMessage
	CreatedAt   time.Time
	ExpiresAt   time.Time

	Decision  ApprovalDecision
	DecidedBy string
	DecidedAt time.Time
	// Reason further qualifies a denied/expired Decision, e.g. "cancelled"
	// when the pipeline's enclosing context was cancelled while suspended,
	// or "auto-approval-policy" when approved/denied without a human actor.
	Reason string
}

// Terminal reports whether the request has reached a terminal state.
func (r *ApprovalRequest) Terminal() bool {
	return r.Decision != ""
}
