// Package approval implements the Approval Gate (C4): human-in-the-loop
// suspension of irreversible or policy-flagged tool calls. The in-process
// implementation models suspension as a per-request buffered channel,
// grounded on the teacher's runtime/agent/interrupt await-channel
// controller. A Redis-backed cross-process adapter lives in
// features/approval/redis.
package approval

import (
	"context"
	"sync"
	"time"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

// resolution is delivered on a pending request's channel when it reaches a
// terminal state by any means (explicit resolve, expiry, or cancellation).
type resolution struct {
	decision  types.ApprovalDecision
	decidedBy string
	reason    string
}

// pending tracks one in-flight request's suspension state.
type pending struct {
	request *types.ApprovalRequest
	ch      chan resolution
	timer   *time.Timer
}

// Gate is the in-process Approval Gate.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pending
	cfg     config.PipelineConfig
	events  eventstore.Store
	logger  telemetry.Logger
}

// New constructs a Gate. events receives tool:approval:* notifications;
// pass eventstore.NewMemoryStore() in tests that don't care about the log.
func New(cfg config.PipelineConfig, events eventstore.Store, logger telemetry.Logger) *Gate {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Gate{
		pending: make(map[string]*pending),
		cfg:     cfg,
		events:  events,
		logger:  logger,
	}
}

// Request suspends until the request is approved, denied, expired, or the
// context is cancelled. Auto-approval policy is evaluated first and, on a
// match, returns immediately without ever creating a suspension channel
// (P5: auto-approval is pure and side-effect-free ahead of suspension).
func (g *Gate) Request(ctx context.Context, requestID, toolName string, riskClass types.RiskClass, payload []byte, source types.Source, correlationID string) (*types.ApprovalRequest, error) {
	now := time.Now()
	req := &types.ApprovalRequest{
		ID:          ids.NewWithPrefix("appr"),
		ToolName:    toolName,
		RiskClass:   riskClass,
		CallPayload: payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(g.cfg.ApprovalTimeoutMs) * time.Millisecond),
	}

	if decision, ok := g.autoApprovalDecision(source, riskClass); ok {
		req.Decision = decision
		req.DecidedBy = "auto-approval-policy"
		req.DecidedAt = time.Now()
		req.Reason = "auto-approval-policy"
		g.emit(ctx, requestID, types.EventApprovalResolved, correlationID, req)
		return req, nil
	}

	g.emit(ctx, requestID, types.EventApprovalRequested, correlationID, req)

	p := &pending{request: req, ch: make(chan resolution, 1)}
	g.mu.Lock()
	g.pending[req.ID] = p
	g.mu.Unlock()

	p.timer = time.AfterFunc(time.Until(req.ExpiresAt), func() {
		g.resolveInternal(req.ID, types.DecisionExpired, "", "timeout")
	})

	select {
	case res := <-p.ch:
		req.Decision = res.decision
		req.DecidedBy = res.decidedBy
		req.DecidedAt = time.Now()
		req.Reason = res.reason
	case <-ctx.Done():
		g.resolveInternal(req.ID, types.DecisionDenied, "", "cancelled")
		res := <-p.ch
		req.Decision = res.decision
		req.DecidedBy = res.decidedBy
		req.DecidedAt = time.Now()
		req.Reason = res.reason
	}

	g.emit(ctx, requestID, types.EventApprovalResolved, correlationID, req)
	return req, nil
}

// autoApprovalDecision evaluates the auto-approval policy in the mandated
// order (source allowlist first, then read-only class), returning
// (decision, true) on the first match. Irreversible tools never match.
func (g *Gate) autoApprovalDecision(source types.Source, riskClass types.RiskClass) (types.ApprovalDecision, bool) {
	if riskClass == types.RiskIrreversible {
		return "", false
	}
	for _, s := range g.cfg.AutoApproveSources {
		if types.Source(s) == source {
			return types.DecisionApproved, true
		}
	}
	if g.cfg.AutoApproveReadOnly && riskClass == types.RiskReadOnly {
		return types.DecisionApproved, true
	}
	return "", false
}

// Resolve settles a pending request explicitly. It returns false if id is
// unknown or already terminal.
func (g *Gate) Resolve(id string, decision types.ApprovalDecision, decidedBy string) bool {
	return g.resolveInternal(id, decision, decidedBy, "")
}

func (g *Gate) resolveInternal(id string, decision types.ApprovalDecision, decidedBy, reason string) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, id)
	g.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	select {
	case p.ch <- resolution{decision: decision, decidedBy: decidedBy, reason: reason}:
		return true
	default:
		return false
	}
}

// GetPending enumerates currently unresolved requests.
func (g *Gate) GetPending() []types.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.ApprovalRequest, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, *p.request)
	}
	return out
}

func (g *Gate) emit(ctx context.Context, requestID string, typ types.EventType, correlationID string, req *types.ApprovalRequest) {
	if g.events == nil {
		return
	}
	payload, err := marshalRequest(req)
	if err != nil {
		g.logger.Error(ctx, "approval: marshal event payload failed", "error", err.Error())
		return
	}
	if _, err := g.events.Append(ctx, requestID, typ, payload, correlationID); err != nil {
		g.logger.Error(ctx, "approval: append event failed", "error", err.Error())
	}
}
