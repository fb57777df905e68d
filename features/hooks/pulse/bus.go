// Package pulse implements a Pulse-stream-backed hooks.Bus (the
// cross-process sibling of kernel/hooks.NewBus): events published in one process are both
// dispatched to this process's local subscribers and durably appended to
// a Pulse stream, so a Consumer running in another process (e.g. a
// separate audit or reward-collection worker) can replay them, grounded
// on features/stream/pulse/clients/pulse/client.go's Stream.Add/NewSink
// layering.
package pulse

import (
	"context"
	"encoding/json"
	"fmt"

	pulseclient "goa.design/autonomy-kernel/features/stream/pulse/clients/pulse"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/telemetry"
)

// wireEvent is the JSON envelope appended to the Pulse stream. Payload is
// re-marshaled as raw JSON since hooks.Event.Payload is `any` and Pulse
// streams carry opaque []byte.
type wireEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Bus publishes to a Pulse stream in addition to dispatching locally. It
// embeds an in-process hooks.Bus so Register/local fan-out behave exactly
// like kernel/hooks.NewBus; Publish additionally appends to the stream.
type Bus struct {
	local  hooks.Bus
	stream pulseclient.Stream
	logger telemetry.Logger
}

var _ hooks.Bus = (*Bus)(nil)

// New constructs a Bus that publishes to the named Pulse stream (created
// via client.Stream if it doesn't already exist) and fans out locally.
func New(client pulseclient.Client, streamName string, logger telemetry.Logger) (*Bus, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	stream, err := client.Stream(streamName)
	if err != nil {
		return nil, fmt.Errorf("hooks/pulse: open stream %q: %w", streamName, err)
	}
	return &Bus{
		local:  hooks.NewBus(logger),
		stream: stream,
		logger: logger,
	}, nil
}

// Publish dispatches event to this process's local subscribers and
// appends it to the Pulse stream. A stream append failure is logged but
// does not prevent local dispatch, matching the local Bus's own
// never-fail-the-publisher contract.
func (b *Bus) Publish(ctx context.Context, event hooks.Event) {
	b.local.Publish(ctx, event)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		b.logger.Error(ctx, "hooks/pulse: marshal event payload failed", "kind", event.Kind, "err", err)
		return
	}
	wire, err := json.Marshal(wireEvent{Kind: event.Kind, Payload: payload})
	if err != nil {
		b.logger.Error(ctx, "hooks/pulse: marshal wire event failed", "kind", event.Kind, "err", err)
		return
	}
	if _, err := b.stream.Add(ctx, event.Kind, wire); err != nil {
		b.logger.Error(ctx, "hooks/pulse: append to stream failed", "kind", event.Kind, "err", err)
	}
}

// Register delegates to the local in-process bus.
func (b *Bus) Register(sub hooks.Subscriber) hooks.Subscription {
	return b.local.Register(sub)
}
