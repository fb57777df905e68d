// Package redis implements a cross-process Approval Gate (C4) backed by
// Redis: pending requests are held as TTL'd keys so any kernel instance can
// see them, and resolution is broadcast over Redis pub/sub so whichever
// instance is blocked in Request wakes up regardless of which instance
// called Resolve. Grounded on features/stream/pulse/clients/pulse/client.go,
// which shows the same "caller owns the *redis.Client, adapter wraps it"
// layering used elsewhere in the teacher's feature adapters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

const (
	pendingSetKey = "kernel:approval:pending"
	keyPrefix     = "kernel:approval:request:"
	channelPrefix = "kernel:approval:resolve:"
)

// resolutionMessage is published on channelPrefix+id when a request settles.
type resolutionMessage struct {
	Decision  types.ApprovalDecision `json:"decision"`
	DecidedBy string                 `json:"decidedBy"`
	Reason    string                 `json:"reason"`
}

// Gate is the Redis-backed cross-process Approval Gate. It implements the
// same operation set as kernel/approval.Gate so either can back the Tool
// Execution Pipeline.
type Gate struct {
	client *redis.Client
	cfg    config.PipelineConfig
	events eventstore.Store
	logger telemetry.Logger
}

// New constructs a Redis-backed Gate. client is a caller-owned connection;
// Gate never closes it.
func New(client *redis.Client, cfg config.PipelineConfig, events eventstore.Store, logger telemetry.Logger) *Gate {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Gate{client: client, cfg: cfg, events: events, logger: logger}
}

// Request stores the request with a TTL matching ApprovalTimeoutMs,
// subscribes to its resolution channel, and blocks until resolved,
// expired, or ctx is cancelled. Auto-approval is evaluated first, exactly
// as in the in-process Gate, so no Redis round trip happens on the common
// auto-approved path.
func (g *Gate) Request(ctx context.Context, requestID, toolName string, riskClass types.RiskClass, payload []byte, source types.Source, correlationID string) (*types.ApprovalRequest, error) {
	now := time.Now()
	ttl := time.Duration(g.cfg.ApprovalTimeoutMs) * time.Millisecond
	req := &types.ApprovalRequest{
		ID:          ids.NewWithPrefix("appr"),
		ToolName:    toolName,
		RiskClass:   riskClass,
		CallPayload: payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
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

	if err := g.put(ctx, req, ttl); err != nil {
		return nil, fmt.Errorf("approval redis: store request: %w", err)
	}

	sub := g.client.Subscribe(ctx, channelPrefix+req.ID)
	defer sub.Close()

	res, err := g.await(ctx, sub, req.ID, ttl)
	if err != nil {
		return nil, err
	}
	req.Decision = res.Decision
	req.DecidedBy = res.DecidedBy
	req.DecidedAt = time.Now()
	req.Reason = res.Reason

	g.emit(ctx, requestID, types.EventApprovalResolved, correlationID, req)
	return req, nil
}

func (g *Gate) await(ctx context.Context, sub *redis.PubSub, id string, ttl time.Duration) (resolutionMessage, error) {
	msgCh := sub.Channel()
	timer := time.NewTimer(ttl)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return resolutionMessage{}, errors.New("approval redis: subscription closed")
			}
			var res resolutionMessage
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				continue
			}
			return res, nil
		case <-timer.C:
			g.resolveInternal(context.WithoutCancel(ctx), id, types.DecisionExpired, "", "timeout")
			continue
		case <-ctx.Done():
			g.resolveInternal(context.WithoutCancel(ctx), id, types.DecisionDenied, "", "cancelled")
			continue
		}
	}
}

// autoApprovalDecision mirrors kernel/approval.Gate's policy exactly: source
// allowlist first, then read-only class; irreversible tools never match.
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

// Resolve settles a pending request from any process. It returns false if
// the request is unknown (already resolved, expired and reaped, or never
// existed).
func (g *Gate) Resolve(ctx context.Context, id string, decision types.ApprovalDecision, decidedBy string) bool {
	return g.resolveInternal(ctx, id, decision, decidedBy, "")
}

func (g *Gate) resolveInternal(ctx context.Context, id string, decision types.ApprovalDecision, decidedBy, reason string) bool {
	removed, err := g.client.SRem(ctx, pendingSetKey, id).Result()
	if err != nil || removed == 0 {
		return false
	}
	g.client.Del(ctx, keyPrefix+id)

	payload, err := json.Marshal(resolutionMessage{Decision: decision, DecidedBy: decidedBy, Reason: reason})
	if err != nil {
		g.logger.Error(ctx, "approval redis: marshal resolution failed", "error", err.Error())
		return false
	}
	return g.client.Publish(ctx, channelPrefix+id, payload).Err() == nil
}

// GetPending enumerates requests currently held in Redis, skipping any
// whose key has since expired out from under the pending set.
func (g *Gate) GetPending(ctx context.Context) ([]types.ApprovalRequest, error) {
	ids, err := g.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ApprovalRequest, 0, len(ids))
	for _, id := range ids {
		raw, err := g.client.Get(ctx, keyPrefix+id).Result()
		if errors.Is(err, redis.Nil) {
			g.client.SRem(ctx, pendingSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var req types.ApprovalRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (g *Gate) put(ctx context.Context, req *types.ApprovalRequest, ttl time.Duration) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	pipe := g.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+req.ID, raw, ttl)
	pipe.SAdd(ctx, pendingSetKey, req.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// eventPayload mirrors kernel/approval's wire shape so both adapters
// produce interchangeable tool:approval:* events for the projection
// rebuilder and any downstream consumer.
type eventPayload struct {
	ApprovalID string                 `json:"approvalId"`
	ToolName   string                 `json:"toolName"`
	RiskClass  types.RiskClass        `json:"riskClass"`
	Decision   types.ApprovalDecision `json:"decision,omitempty"`
	DecidedBy  string                 `json:"decidedBy,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

func (g *Gate) emit(ctx context.Context, requestID string, typ types.EventType, correlationID string, req *types.ApprovalRequest) {
	if g.events == nil {
		return
	}
	payload, err := json.Marshal(eventPayload{
		ApprovalID: req.ID,
		ToolName:   req.ToolName,
		RiskClass:  req.RiskClass,
		Decision:   req.Decision,
		DecidedBy:  req.DecidedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		g.logger.Error(ctx, "approval redis: marshal event payload failed", "error", err.Error())
		return
	}
	if _, err := g.events.Append(ctx, requestID, typ, payload, correlationID); err != nil {
		g.logger.Error(ctx, "approval redis: append event failed", "error", err.Error())
	}
}
