// Package eventstore defines the append-only hash-chained Execution Event
// log (C3) and its in-process implementation. A MongoDB-backed
// implementation of the same interface lives in features/eventstore/mongo;
// both must pass the conformance suite in kernel/eventstore/eventstoretest.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/autonomy-kernel/kernel/types"
)

// Store is the append-only Execution Event log contract. Implementations
// must guarantee monotonic, gap-free sequence IDs starting at 1 (reset only
// by Clear), a verifiable hash chain, and atomic index updates on eviction.
type Store interface {
	// Append assigns the next sequenceId, computes PrevHash/EventHash, and
	// persists the event. correlationID may be empty.
	Append(ctx context.Context, requestID string, typ types.EventType, payload json.RawMessage, correlationID string) (int64, error)

	GetByRequestID(ctx context.Context, requestID string) ([]types.Event, error)
	GetByCorrelationID(ctx context.Context, correlationID string) ([]types.Event, error)

	// GetRecent returns the n most recently appended events, oldest first.
	GetRecent(ctx context.Context, n int) ([]types.Event, error)

	Size(ctx context.Context) (int, error)

	// Clear removes every event and resets sequence assignment to 1.
	Clear(ctx context.Context) error

	// Evict removes events older than retentionMs and/or beyond maxEvents
	// (FIFO), whichever apply (a zero value disables that bound), updating
	// both secondary indexes atomically. It returns the number evicted.
	Evict(ctx context.Context, maxEvents int, retentionMs int64) (int, error)
}

// hashChain computes the next event's hash per the fixed chaining formula:
// H(prevHash || sequenceId || requestId || type || canonical(payload) || timestamp).
func hashChain(prevHash string, seq int64, requestID string, typ types.EventType, payload json.RawMessage, ts time.Time) (string, error) {
	canon, err := canonicalize(payload)
	if err != nil {
		return "", err
	}
	return computeHash(prevHash, seq, requestID, typ, canon, ts), nil
}

// ComputeEventHash exposes hashChain to out-of-package Store
// implementations (e.g. features/eventstore/mongo) so every backend
// derives the chain the same way.
func ComputeEventHash(prevHash string, seq int64, requestID string, typ types.EventType, payload json.RawMessage, ts time.Time) (string, error) {
	return hashChain(prevHash, seq, requestID, typ, payload, ts)
}
