package approval

import (
	"encoding/json"

	"goa.design/autonomy-kernel/kernel/types"
)

// eventPayload is the shape appended to the event log for both
// tool:approval:requested and tool:approval:resolved; the latter simply has
// Decision/DecidedBy/Reason populated.
type eventPayload struct {
	ApprovalID string                 `json:"approvalId"`
	ToolName   string                 `json:"toolName"`
	RiskClass  types.RiskClass        `json:"riskClass"`
	Decision   types.ApprovalDecision `json:"decision,omitempty"`
	DecidedBy  string                 `json:"decidedBy,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

func marshalRequest(req *types.ApprovalRequest) (json.RawMessage, error) {
	return json.Marshal(eventPayload{
		ApprovalID: req.ID,
		ToolName:   req.ToolName,
		RiskClass:  req.RiskClass,
		Decision:   req.Decision,
		DecidedBy:  req.DecidedBy,
		Reason:     req.Reason,
	})
}
