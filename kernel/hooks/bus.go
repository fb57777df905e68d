// Package hooks implements the observer bus shared by the Kernel State
// Machine (FSM transition notifications), the Tool Execution Pipeline, and
// the Role Orchestrator (anomaly/event notifications). It is grounded on
// the teacher's synchronous fan-out hook bus, adapted to the spec's
// explicit requirement that "exceptions in observers are swallowed and
// logged" rather than halting the publisher — the opposite failure mode
// from the teacher's fail-fast bus, which exists to let a critical
// subscriber (e.g. memory persistence) halt a workflow.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"goa.design/autonomy-kernel/kernel/telemetry"
)

type (
	// Event is a single notification delivered to subscribers. Kind names
	// the event (an EventType, a FSM trigger name, or an orchestrator
	// anomaly kind); Payload carries whatever detail the publisher wants
	// observers to see.
	Event struct {
		Kind    string
		Payload any
	}

	// Bus publishes events to registered subscribers in a fan-out
	// pattern. Unlike a fail-fast bus, Publish never returns a subscriber
	// error: a panicking or erroring subscriber is logged and skipped so
	// that one misbehaving observer cannot affect the publisher (the FSM,
	// the pipeline, or the orchestrator).
	Bus interface {
		Publish(ctx context.Context, event Event)
		Register(sub Subscriber) Subscription
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event)
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event)

	// Subscription represents an active registration; Close unregisters
	// it. Safe to call multiple times.
	Subscription interface {
		Close()
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		logger      telemetry.Logger
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) { f(ctx, event) }

// NewBus constructs a bus that logs subscriber panics/errors via logger
// (pass telemetry.NewNoopLogger() if none is available) instead of
// propagating them to the publisher.
func NewBus(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &bus{subscribers: make(map[*subscription]Subscriber), logger: logger}
}

// Publish delivers event to a snapshot of the currently registered
// subscribers, in no particular order. Each subscriber is invoked inside a
// recover so a panic never escapes to the publisher.
func (b *bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		b.dispatch(ctx, sub, event)
	}
}

func (b *bus) dispatch(ctx context.Context, sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "hooks: subscriber panicked", "kind", event.Kind, "panic", fmt.Sprint(r))
		}
	}()
	sub.HandleEvent(ctx, event)
}

// Register adds sub to the bus and returns a Subscription that can be
// closed to unregister it.
func (b *bus) Register(sub Subscriber) Subscription {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s
}

// Close removes the subscription from its bus. Idempotent.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
}
