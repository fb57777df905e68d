package pulse

import (
	"context"
	"encoding/json"

	"goa.design/pulse/streaming"

	pulseclient "goa.design/autonomy-kernel/features/stream/pulse/clients/pulse"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/telemetry"
)

// Consumer reads events appended to a Pulse stream by a Bus running in
// another process (or an earlier run of this one) and redelivers them to
// a local hooks.Bus, so a dedicated audit or reward-collection worker can
// subscribe without being the process that originally published the
// event.
type Consumer struct {
	sink   pulseclient.Sink
	target hooks.Bus
	logger telemetry.Logger
}

// NewConsumer creates a Pulse sink (consumer group sinkName) on the given
// stream and returns a Consumer that forwards received events to target.
func NewConsumer(client pulseclient.Client, streamName, sinkName string, target hooks.Bus, logger telemetry.Logger) (*Consumer, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	stream, err := client.Stream(streamName)
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSink(context.Background(), sinkName)
	if err != nil {
		return nil, err
	}
	return &Consumer{sink: sink, target: target, logger: logger}, nil
}

// Run forwards events from the stream to the target bus until ctx is
// canceled or the sink's channel closes. Each event is acknowledged after
// successful dispatch so a crash mid-dispatch redelivers it to this (or
// another) consumer in the same group.
func (c *Consumer) Run(ctx context.Context) {
	events := c.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ev *streaming.Event) {
	var wire wireEvent
	if err := json.Unmarshal(ev.Payload, &wire); err != nil {
		c.logger.Error(ctx, "hooks/pulse: decode stream event failed", "err", err)
		return
	}
	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			c.logger.Error(ctx, "hooks/pulse: decode event payload failed", "kind", wire.Kind, "err", err)
		}
	}
	c.target.Publish(ctx, hooks.Event{Kind: wire.Kind, Payload: payload})
	if err := c.sink.Ack(ctx, ev); err != nil {
		c.logger.Error(ctx, "hooks/pulse: ack stream event failed", "kind", wire.Kind, "err", err)
	}
}

// Close stops the sink.
func (c *Consumer) Close(ctx context.Context) {
	c.sink.Close(ctx)
}
